package data

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	engerr "github.com/quantforge/risk-engine/internal/errors"
	"github.com/quantforge/risk-engine/pkg/types"
)

// CorpusProvider loads historical trade records for validation and training
type CorpusProvider interface {
	GetName() string
	LoadTrades(source string) ([]types.TradeRecord, error)
}

// CSVColumnMapping describes where each trade field lives in a corpus file
type CSVColumnMapping struct {
	SymbolCol      int
	SideCol        int
	EntryPriceCol  int
	ExitPriceCol   int
	QuantityCol    int
	ConfidenceCol  int
	PatternCol     int
	RegimeCol      int
	VolatilityCol  int
	VolumeRatioCol int
	HoldMinutesCol int
	PnLPercentCol  int
	ClosedAtCol    int
	MinColumns     int
	DateFormat     string
}

// DefaultCSVFormat matches the corpus export layout:
// symbol,side,entry_price,exit_price,quantity,confidence,pattern,regime,volatility_ratio,volume_ratio,hold_minutes,pnl_percent,closed_at
var DefaultCSVFormat = CSVColumnMapping{
	SymbolCol:      0,
	SideCol:        1,
	EntryPriceCol:  2,
	ExitPriceCol:   3,
	QuantityCol:    4,
	ConfidenceCol:  5,
	PatternCol:     6,
	RegimeCol:      7,
	VolatilityCol:  8,
	VolumeRatioCol: 9,
	HoldMinutesCol: 10,
	PnLPercentCol:  11,
	ClosedAtCol:    12,
	MinColumns:     13,
	DateFormat:     time.RFC3339,
}

// CSVCorpus implements CorpusProvider for CSV trade exports. Malformed rows
// are logged and skipped rather than failing the whole load.
type CSVCorpus struct {
	format CSVColumnMapping
	logger *zap.Logger
}

// NewCSVCorpus creates a corpus provider with the default column layout
func NewCSVCorpus(logger *zap.Logger) *CSVCorpus {
	return NewCSVCorpusWithFormat(DefaultCSVFormat, logger)
}

// NewCSVCorpusWithFormat creates a corpus provider with a custom column layout
func NewCSVCorpusWithFormat(format CSVColumnMapping, logger *zap.Logger) *CSVCorpus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVCorpus{format: format, logger: logger}
}

// GetName returns the name of the corpus provider
func (p *CSVCorpus) GetName() string {
	return "CSV Corpus"
}

// LoadTrades loads trade records from a CSV file. Rows that fail to parse or
// validate are skipped with a warning; the returned slice is sorted by close time.
func (p *CSVCorpus) LoadTrades(source string) ([]types.TradeRecord, error) {
	file, err := os.Open(source)
	if err != nil {
		return nil, engerr.Wrap(err, engerr.ErrorCategoryData, "data", "load_trades")
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	// Skip header
	if _, err := reader.Read(); err != nil {
		return nil, engerr.Wrap(err, engerr.ErrorCategoryData, "data", "load_trades")
	}

	var trades []types.TradeRecord
	lineNum := 1
	skipped := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, engerr.Wrap(err, engerr.ErrorCategoryData, "data", "load_trades")
		}
		lineNum++

		trade, ok := p.parseRow(record, lineNum)
		if !ok {
			skipped++
			continue
		}
		trades = append(trades, trade)
	}

	sort.Slice(trades, func(i, j int) bool {
		return trades[i].ClosedAt.Before(trades[j].ClosedAt)
	})

	p.logger.Info("corpus loaded",
		zap.String("source", source),
		zap.Int("trades", len(trades)),
		zap.Int("skipped", skipped))
	return trades, nil
}

func (p *CSVCorpus) parseRow(record []string, lineNum int) (types.TradeRecord, bool) {
	f := p.format
	if len(record) < f.MinColumns {
		p.logger.Warn("insufficient columns, skipping row",
			zap.Int("line", lineNum),
			zap.Int("expected", f.MinColumns),
			zap.Int("got", len(record)))
		return types.TradeRecord{}, false
	}

	trade := types.TradeRecord{
		Symbol:  strings.ToUpper(strings.TrimSpace(record[f.SymbolCol])),
		Pattern: strings.TrimSpace(record[f.PatternCol]),
	}

	switch strings.ToUpper(strings.TrimSpace(record[f.SideCol])) {
	case string(types.SideLong):
		trade.Side = types.SideLong
	case string(types.SideShort):
		trade.Side = types.SideShort
	default:
		p.logger.Warn("unknown side, skipping row",
			zap.Int("line", lineNum), zap.String("side", record[f.SideCol]))
		return types.TradeRecord{}, false
	}

	trade.Regime = parseRegime(record[f.RegimeCol])

	fields := []struct {
		col  int
		name string
		dst  *float64
	}{
		{f.EntryPriceCol, "entry_price", &trade.EntryPrice},
		{f.ExitPriceCol, "exit_price", &trade.ExitPrice},
		{f.QuantityCol, "quantity", &trade.Quantity},
		{f.ConfidenceCol, "confidence", &trade.Confidence},
		{f.VolatilityCol, "volatility_ratio", &trade.VolatilityRatio},
		{f.VolumeRatioCol, "volume_ratio", &trade.VolumeRatio},
		{f.PnLPercentCol, "pnl_percent", &trade.PnLPercent},
	}
	for _, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(record[field.col]), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			p.logger.Warn("invalid numeric field, skipping row",
				zap.Int("line", lineNum),
				zap.String("field", field.name),
				zap.String("value", record[field.col]))
			return types.TradeRecord{}, false
		}
		*field.dst = v
	}

	holdMinutes, err := strconv.ParseFloat(strings.TrimSpace(record[f.HoldMinutesCol]), 64)
	if err != nil || holdMinutes < 0 {
		p.logger.Warn("invalid hold duration, skipping row",
			zap.Int("line", lineNum), zap.String("value", record[f.HoldMinutesCol]))
		return types.TradeRecord{}, false
	}
	trade.HoldingDuration = time.Duration(holdMinutes * float64(time.Minute))

	closedAt, err := time.Parse(f.DateFormat, strings.TrimSpace(record[f.ClosedAtCol]))
	if err != nil {
		p.logger.Warn("invalid close timestamp, skipping row",
			zap.Int("line", lineNum), zap.String("value", record[f.ClosedAtCol]))
		return types.TradeRecord{}, false
	}
	trade.ClosedAt = closedAt

	if trade.EntryPrice <= 0 || trade.ExitPrice <= 0 || trade.Quantity <= 0 {
		p.logger.Warn("non-positive price or quantity, skipping row", zap.Int("line", lineNum))
		return types.TradeRecord{}, false
	}
	if trade.Confidence < 0 || trade.Confidence > 1 {
		p.logger.Warn("confidence out of range, skipping row",
			zap.Int("line", lineNum), zap.Float64("confidence", trade.Confidence))
		return types.TradeRecord{}, false
	}

	return trade, true
}

func parseRegime(raw string) types.Regime {
	switch types.Regime(strings.ToUpper(strings.TrimSpace(raw))) {
	case types.RegimeBull:
		return types.RegimeBull
	case types.RegimeBear:
		return types.RegimeBear
	case types.RegimeVolatile:
		return types.RegimeVolatile
	default:
		return types.RegimeSideways
	}
}

// FilterPeriod returns the trades closed within [start, end). Zero bounds are open.
func FilterPeriod(trades []types.TradeRecord, start, end time.Time) []types.TradeRecord {
	var out []types.TradeRecord
	for _, t := range trades {
		if !start.IsZero() && t.ClosedAt.Before(start) {
			continue
		}
		if !end.IsZero() && !t.ClosedAt.Before(end) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// FilterPattern returns the trades tagged with the given pattern
func FilterPattern(trades []types.TradeRecord, pattern string) []types.TradeRecord {
	var out []types.TradeRecord
	for _, t := range trades {
		if t.Pattern == pattern {
			out = append(out, t)
		}
	}
	return out
}

// ValidateCorpus checks a loaded corpus for the structural problems that
// would poison downstream statistics.
func ValidateCorpus(trades []types.TradeRecord) error {
	if len(trades) == 0 {
		return engerr.New(engerr.ErrorCategoryData, "data", "validate_corpus", "corpus is empty")
	}
	for i, t := range trades {
		if i > 0 && t.ClosedAt.Before(trades[i-1].ClosedAt) {
			return engerr.New(engerr.ErrorCategoryData, "data", "validate_corpus", "corpus is not in chronological order")
		}
		if math.IsNaN(t.PnLPercent) || math.IsInf(t.PnLPercent, 0) {
			return engerr.New(engerr.ErrorCategoryData, "data", "validate_corpus", "corpus contains non-finite pnl")
		}
	}
	return nil
}
