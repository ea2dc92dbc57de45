package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/quantforge/risk-engine/pkg/validation"
)

// ExcelStyles holds the style IDs used across report sheets
type ExcelStyles struct {
	HeaderStyle  int
	PercentStyle int
	NumberStyle  int
}

// ExcelReporter writes validation reports to an Excel workbook
type ExcelReporter struct{}

// NewExcelReporter creates a new Excel reporter
func NewExcelReporter() *ExcelReporter {
	return &ExcelReporter{}
}

// WriteReportXLSX writes the Kelly report and, when present, the A/B and
// bootstrap results into a single workbook at path.
func (r *ExcelReporter) WriteReportXLSX(kelly *validation.KellyReport, ab *validation.ABResult, bootstrap *validation.BootstrapResult, path string) error {
	// Ensure directory exists before creating file
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	const kellySheet = "Kelly Validation"
	fx.SetSheetName(fx.GetSheetName(0), kellySheet)

	styles, err := r.createExcelStyles(fx)
	if err != nil {
		return err
	}

	if err := r.writeKellySheet(fx, kellySheet, kelly, styles); err != nil {
		return err
	}

	if ab != nil {
		const abSheet = "AB Test"
		fx.NewSheet(abSheet)
		if err := r.writeABSheet(fx, abSheet, ab, bootstrap, styles); err != nil {
			return err
		}
	}

	return fx.SaveAs(path)
}

// createExcelStyles creates the styles shared by all sheets
func (r *ExcelReporter) createExcelStyles(fx *excelize.File) (ExcelStyles, error) {
	var styles ExcelStyles
	var err error

	// Header style - Dark slate background with white text
	styles.HeaderStyle, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold:   true,
			Size:   11,
			Color:  "FFFFFF",
			Family: "Calibri",
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"2F4F4F"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return styles, err
	}

	styles.PercentStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt: 10, // 0.00%
		Alignment: &excelize.Alignment{
			Horizontal: "right",
		},
	})
	if err != nil {
		return styles, err
	}

	styles.NumberStyle, err = fx.NewStyle(&excelize.Style{
		NumFmt: 2, // 0.00
		Alignment: &excelize.Alignment{
			Horizontal: "right",
		},
	})
	return styles, err
}

func (r *ExcelReporter) writeKellySheet(fx *excelize.File, sheet string, report *validation.KellyReport, styles ExcelStyles) error {
	headers := []string{"Pattern", "Trades", "Win Rate", "Avg Win", "Avg Loss", "Predicted Edge", "Realized Edge", "Abs Error", "Accuracy"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := fx.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		fx.SetCellStyle(sheet, cell, cell, styles.HeaderStyle)
	}

	for row, p := range report.Patterns {
		values := []interface{}{p.Pattern, p.Trades, p.WinRate, p.AvgWin, p.AvgLoss, p.PredictedEdge, p.RealizedEdge, p.AbsoluteError, p.Accuracy}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := fx.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
			if col >= 2 {
				fx.SetCellStyle(sheet, cell, cell, styles.PercentStyle)
			}
		}
	}

	summaryRow := len(report.Patterns) + 3
	fx.SetCellValue(sheet, fmt.Sprintf("A%d", summaryRow), "Overall Accuracy")
	cell := fmt.Sprintf("B%d", summaryRow)
	fx.SetCellValue(sheet, cell, report.OverallAccuracy)
	fx.SetCellStyle(sheet, cell, cell, styles.PercentStyle)

	fx.SetColWidth(sheet, "A", "A", 20)
	fx.SetColWidth(sheet, "B", "I", 14)
	return nil
}

func (r *ExcelReporter) writeABSheet(fx *excelize.File, sheet string, ab *validation.ABResult, bootstrap *validation.BootstrapResult, styles ExcelStyles) error {
	headers := []string{"Metric", ab.A.Name, ab.B.Name}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := fx.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		fx.SetCellStyle(sheet, cell, cell, styles.HeaderStyle)
	}

	rows := []struct {
		label   string
		a, b    float64
		percent bool
	}{
		{"Final Equity", ab.A.FinalEquity, ab.B.FinalEquity, false},
		{"Total Return", ab.A.TotalReturn, ab.B.TotalReturn, true},
		{"Max Drawdown", ab.A.MaxDrawdown, ab.B.MaxDrawdown, true},
		{"Sharpe Ratio", ab.A.SharpeRatio, ab.B.SharpeRatio, false},
		{"Profit Factor", ab.A.ProfitFactor, ab.B.ProfitFactor, false},
	}
	for i, row := range rows {
		rowNum := i + 2
		fx.SetCellValue(sheet, fmt.Sprintf("A%d", rowNum), row.label)
		style := styles.NumberStyle
		if row.percent {
			style = styles.PercentStyle
		}
		for col, v := range []float64{row.a, row.b} {
			cell, _ := excelize.CoordinatesToCellName(col+2, rowNum)
			fx.SetCellValue(sheet, cell, v)
			fx.SetCellStyle(sheet, cell, cell, style)
		}
	}

	summaryRow := len(rows) + 3
	fx.SetCellValue(sheet, fmt.Sprintf("A%d", summaryRow), "Winner")
	fx.SetCellValue(sheet, fmt.Sprintf("B%d", summaryRow), ab.Winner)

	if bootstrap != nil {
		base := summaryRow + 2
		entries := []struct {
			label string
			value interface{}
		}{
			{"Bootstrap Resamples", bootstrap.Resamples},
			{"Mean Difference", bootstrap.MeanDifference},
			{"Std Deviation", bootstrap.StdDev},
			{"P-Value", bootstrap.PValue},
			{"Significant", bootstrap.Significant},
		}
		for i, e := range entries {
			fx.SetCellValue(sheet, fmt.Sprintf("A%d", base+i), e.label)
			fx.SetCellValue(sheet, fmt.Sprintf("B%d", base+i), e.value)
		}
	}

	fx.SetColWidth(sheet, "A", "A", 22)
	fx.SetColWidth(sheet, "B", "C", 14)
	return nil
}
