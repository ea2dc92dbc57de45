package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/quantforge/risk-engine/internal/amplifier"
	"github.com/quantforge/risk-engine/internal/engine"
	"github.com/quantforge/risk-engine/internal/monitoring"
	"github.com/quantforge/risk-engine/internal/portfolio"
	"github.com/quantforge/risk-engine/internal/risk"
	"github.com/quantforge/risk-engine/internal/rl"
	"github.com/quantforge/risk-engine/internal/sizing"
	"github.com/quantforge/risk-engine/internal/state"
	"github.com/quantforge/risk-engine/pkg/config"
)

func main() {
	var (
		configFile = flag.String("config", "", "Engine configuration file (optional, defaults apply)")
		envFile    = flag.String("env", ".env", "Environment file path (default: .env)")
		interval   = flag.Duration("interval", 5*time.Second, "Evaluation cycle interval")
		cycles     = flag.Int("cycles", 0, "Number of cycles to run (0 = run until interrupted)")
		balance    = flag.Float64("balance", 10000, "Initial simulated portfolio balance")
		seed       = flag.Int64("seed", 0, "Simulation seed (0 = random)")
	)
	flag.Parse()

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

	fmt.Println("🚀 Risk Engine Starting...")

	// Restore persisted state before wiring components
	persistence := state.NewPersistence(logger, filepath.Dir(cfg.StateFile))
	if err := persistence.Initialize(); err != nil {
		log.Fatalf("Failed to initialize state persistence: %v", err)
	}
	snapshot, err := persistence.Load()
	if err != nil {
		log.Fatalf("Failed to load engine state: %v", err)
	}

	agent := rl.NewAgent(cfg.RL, logger)
	if snapshot.Agent != nil {
		agent.Restore(*snapshot.Agent)
	}

	monitor := risk.NewMonitor(logger)
	monitor.RestoreHighWaterMark(snapshot.HighWaterMark)

	sizer := sizing.NewSizer(cfg.Sizing, cfg.Defaults, agent, logger)
	limits := config.NewLimitStore(cfg.Risk)
	correlation := portfolio.NewMatrixAnalyzer(cfg.Correlation)
	pm := portfolio.NewManager(limits, sizer, monitor, correlation, logger)
	limiter := risk.NewLimiter(cfg.Loss, logger)
	amp := amplifier.NewAmplifier(cfg.Amplifier, logger)
	manager := engine.NewManager(limiter, monitor, amp, pm, agent, logger)
	if snapshot.Tracker != nil {
		manager.Tracker().Restore(*snapshot.Tracker)
	}

	trainer := rl.NewTrainer(agent, logger, 4)
	trainer.Start()

	health := monitoring.NewHealthChecker()
	startServers(cfg.Monitoring, health, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go consumeTrainingResults(trainer, health, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	runLoop(ctx, manager, agent, monitor, limiter, pm, persistence, trainer, health, *interval, *cycles, *balance, *seed, logger)

	// Drain and close everything before the final snapshot
	trainer.Stop()
	saveState(persistence, monitor, agent, manager, cfg.RL.BufferCapacity)
	if err := persistence.Close(); err != nil {
		logger.Error("final state save failed", zap.Error(err))
	}
	fmt.Println("👋 Risk Engine stopped")
}

// runLoop drives evaluation cycles against the simulated portfolio feed
func runLoop(ctx context.Context, manager *engine.Manager, agent *rl.Agent, monitor *risk.Monitor,
	limiter *risk.Limiter, pm *portfolio.Manager, persistence *state.Persistence, trainer *rl.Trainer,
	health *monitoring.HealthChecker, interval time.Duration, maxCycles int, balance float64, seed int64,
	logger *zap.Logger) {

	sim := newSimulator(balance, seed, pm)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cycle := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("evaluation loop stopped")
			return
		case <-ticker.C:
			cycle++

			snapshot, signal := sim.step()
			decision, err := manager.EvaluateCycle(snapshot, signal, nil)
			if err != nil {
				logger.Error("evaluation cycle failed", zap.Error(err))
				monitoring.RecordError("VALIDATION")
				health.RecordError(err.Error())
				continue
			}

			monitoring.RecordDecision(string(decision.OverallStatus))
			if snapshot.TotalValue > 0 {
				monitoring.RecordConsensus(decision.PositionSize > 0, decision.PositionSize/snapshot.TotalValue)
			}
			monitoring.UpdateDrawdown(monitor.Update(snapshot.TotalValue).DrawdownPercent)
			loss := limiter.Check(snapshot)
			monitoring.UpdateLossState(loss.ConsecutiveLosses, loss.DailyLossPercent)
			health.RecordCycle(string(decision.OverallStatus), !decision.CanOpenNewPosition)

			for _, trade := range sim.apply(decision, signal) {
				manager.RecordTradeOutcome(trade)
			}

			// Off-path training and autosave every 50 cycles
			if cycle%50 == 0 {
				job := rl.TrainingJob{ID: fmt.Sprintf("cycle-%d", cycle), Batches: 4}
				if err := trainer.Submit(job); err != nil {
					logger.Warn("training job rejected", zap.Error(err))
				}
				saveState(persistence, monitor, agent, manager, 1000)
			}

			if maxCycles > 0 && cycle >= maxCycles {
				logger.Info("cycle limit reached", zap.Int("cycles", cycle))
				metrics := manager.GetMetrics()
				fmt.Printf("📊 %d trades, %.1f%% win rate, profit factor %.2f\n",
					metrics.TotalTrades, metrics.WinRate*100, metrics.ProfitFactor)
				return
			}
		}
	}
}

func saveState(p *state.Persistence, monitor *risk.Monitor, agent *rl.Agent, manager *engine.Manager, maxBuffer int) {
	agentState := agent.Snapshot(maxBuffer)
	trackerState := manager.Tracker().Snapshot()
	p.Update(monitor.HighWaterMark(), &agentState, &trackerState)
}

func consumeTrainingResults(trainer *rl.Trainer, health *monitoring.HealthChecker, logger *zap.Logger) {
	for result := range trainer.Results() {
		if result.Err != nil {
			logger.Warn("training result", zap.String("job_id", result.ID), zap.Error(result.Err))
			continue
		}
		monitoring.RecordTrainingDuration(result.Duration.Seconds())
	}
}

func startServers(cfg config.MonitoringConfig, health *monitoring.HealthChecker, logger *zap.Logger) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", monitoring.NewMetricsHandler())
		addr := fmt.Sprintf(":%d", cfg.PrometheusPort)
		logger.Info("metrics server listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/health", health)
		addr := fmt.Sprintf(":%d", cfg.HealthPort)
		logger.Info("health server listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("health server failed", zap.Error(err))
		}
	}()
}

func loadEnvFile(envFile string) error {
	if _, err := os.Stat(envFile); err == nil {
		return godotenv.Load(envFile)
	}
	return fmt.Errorf("env file %s not found", envFile)
}
