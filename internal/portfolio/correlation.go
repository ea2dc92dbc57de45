package portfolio

import (
	"strings"

	"github.com/quantforge/risk-engine/pkg/config"
)

// CorrelationAnalyzer reports which symbols move together with a target
// symbol. It is an external capability: the engine only consumes its output.
// Implementations must treat unknown symbols as uncorrelated so sizing can
// fall back to zero correlated exposure instead of failing.
type CorrelationAnalyzer interface {
	CorrelatedSymbols(symbol string) []string
}

// MatrixAnalyzer answers correlation queries from an explicit symbol-pair
// coefficient matrix. Pairs are symmetric; only coefficients at or above the
// configured threshold count as correlated.
type MatrixAnalyzer struct {
	threshold float64
	matrix    map[string]map[string]float64
}

// NewMatrixAnalyzer builds an analyzer from configured correlation pairs
func NewMatrixAnalyzer(cfg config.CorrelationConfig) *MatrixAnalyzer {
	m := &MatrixAnalyzer{
		threshold: cfg.Threshold,
		matrix:    make(map[string]map[string]float64),
	}
	for _, pair := range cfg.Pairs {
		a := strings.ToUpper(pair.A)
		b := strings.ToUpper(pair.B)
		if a == "" || b == "" || a == b {
			continue
		}
		m.set(a, b, pair.Coefficient)
		m.set(b, a, pair.Coefficient)
	}
	return m
}

func (m *MatrixAnalyzer) set(a, b string, coef float64) {
	row, ok := m.matrix[a]
	if !ok {
		row = make(map[string]float64)
		m.matrix[a] = row
	}
	row[b] = coef
}

// CorrelatedSymbols returns the symbols correlated with the target at or
// above the threshold. Unknown symbols return an empty list.
func (m *MatrixAnalyzer) CorrelatedSymbols(symbol string) []string {
	row, ok := m.matrix[strings.ToUpper(symbol)]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(row))
	for other, coef := range row {
		if abs(coef) >= m.threshold {
			out = append(out, other)
		}
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
