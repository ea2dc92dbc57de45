package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/quantforge/risk-engine/internal/rl"
	"github.com/quantforge/risk-engine/internal/sizing"
	"github.com/quantforge/risk-engine/pkg/config"
	"github.com/quantforge/risk-engine/pkg/data"
	"github.com/quantforge/risk-engine/pkg/reporting"
	"github.com/quantforge/risk-engine/pkg/types"
	"github.com/quantforge/risk-engine/pkg/validation"
)

func main() {
	var (
		corpusFile  = flag.String("corpus", "", "Trade corpus CSV file (required)")
		configFile  = flag.String("config", "", "Engine configuration file (optional, defaults apply)")
		envFile     = flag.String("env", ".env", "Environment file path (default: .env)")
		outputFile  = flag.String("output", "", "Excel report output path (e.g., results/kelly_report.xlsx)")
		flatPercent = flag.Float64("flat", 0.02, "Flat policy position percent for the A/B baseline")
		resamples   = flag.Int("resamples", validation.DefaultBootstrapResamples, "Bootstrap resample count")
		skipABTest  = flag.Bool("skip-ab", false, "Skip the A/B comparison and bootstrap test")
		sinceFlag   = flag.String("since", "", "Only include trades closed after this date (RFC3339)")
	)
	flag.Parse()

	if *corpusFile == "" {
		log.Fatal("Please specify a corpus file with -corpus flag")
	}

	// Load environment variables from .env file
	if err := loadEnvFile(*envFile); err != nil {
		log.Printf("Warning: Could not load .env file (%v), checking environment variables...", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.LoadFromFile(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fmt.Println("🚀 Kelly Validation Starting...")

	provider := data.NewCSVCorpus(logger)
	trades, err := provider.LoadTrades(*corpusFile)
	if err != nil {
		log.Fatalf("Failed to load corpus: %v", err)
	}

	if *sinceFlag != "" {
		since, err := time.Parse(time.RFC3339, *sinceFlag)
		if err != nil {
			log.Fatalf("Invalid -since value: %v", err)
		}
		trades = data.FilterPeriod(trades, since, time.Time{})
	}

	if err := data.ValidateCorpus(trades); err != nil {
		log.Fatalf("Corpus validation failed: %v", err)
	}

	console := reporting.NewConsoleReporter()

	// Kelly edge validation, walk-forward: stats from the first half of the
	// corpus predict the edge realized over the second half.
	statsWindow, evalWindow := splitCorpus(trades)
	validator := validation.NewKellyValidator()
	report, err := validator.Validate(evalWindow, validation.PatternStatsFromCorpus(statsWindow))
	if err != nil {
		log.Fatalf("Kelly validation failed: %v", err)
	}
	console.PrintKellyReport(report)

	// A/B comparison: flat percent vs dynamic sizing
	var abResult *validation.ABResult
	var bootResult *validation.BootstrapResult
	if !*skipABTest {
		ctx := context.Background()
		agent := rl.NewAgent(cfg.RL, logger)
		sizer := sizing.NewSizer(cfg.Sizing, cfg.Defaults, agent, logger)

		flat := validation.FlatPolicy{Percent: *flatPercent}
		dynamic := validation.NewDynamicPolicy(sizer,
			validation.PatternStatsFromCorpus(trades), cfg.Sizing.MinPositionPercent)

		tester := validation.NewABTester(logger, cfg.RL.Seed)
		abResult, err = tester.Compare(ctx, trades, dynamic, flat)
		if err != nil {
			log.Fatalf("A/B comparison failed: %v", err)
		}
		console.PrintABResult(abResult)

		bootResult, err = tester.Bootstrap(ctx, trades, dynamic, flat, *resamples)
		if err != nil {
			log.Fatalf("Bootstrap test failed: %v", err)
		}
		console.PrintBootstrapResult(bootResult)
	}

	if *outputFile != "" {
		excel := reporting.NewExcelReporter()
		if err := excel.WriteReportXLSX(report, abResult, bootResult, *outputFile); err != nil {
			log.Fatalf("Failed to write Excel report: %v", err)
		}
		fmt.Printf("📄 Report written to %s\n", *outputFile)
	}
}

// splitCorpus halves a chronologically sorted corpus into a statistics window
// and an evaluation window
func splitCorpus(trades []types.TradeRecord) ([]types.TradeRecord, []types.TradeRecord) {
	mid := len(trades) / 2
	return trades[:mid], trades[mid:]
}

func loadEnvFile(envFile string) error {
	if _, err := os.Stat(envFile); err == nil {
		return godotenv.Load(envFile)
	}
	return fmt.Errorf("env file %s not found", envFile)
}
