package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// HealthChecker tracks the liveness of the evaluation loop and serves it
// as a health endpoint.
type HealthChecker struct {
	mu            sync.RWMutex
	lastCycle     time.Time
	lastStatus    string
	tradingHalted bool
	errors        []string
}

type HealthStatus struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	LastCycle     time.Time `json:"last_cycle"`
	LastRiskLevel string    `json:"last_risk_level"`
	TradingHalted bool      `json:"trading_halted"`
	Uptime        string    `json:"uptime"`
	Errors        []string  `json:"errors,omitempty"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		errors: make([]string, 0),
	}
}

// RecordCycle marks a completed evaluation cycle
func (h *HealthChecker) RecordCycle(riskLevel string, halted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastCycle = time.Now()
	h.lastStatus = riskLevel
	h.tradingHalted = halted
}

// RecordError appends an error to the health report, keeping the last five
func (h *HealthChecker) RecordError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
	if len(h.errors) > 5 {
		h.errors = h.errors[len(h.errors)-5:]
	}
}

// ClearErrors resets the error list after recovery
func (h *HealthChecker) ClearErrors() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = h.errors[:0]
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	if h.lastCycle.IsZero() || time.Since(h.lastCycle) > 5*time.Minute {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if len(h.errors) > 0 {
		status = "unhealthy"
		code = http.StatusInternalServerError
	}

	health := HealthStatus{
		Status:        status,
		Timestamp:     time.Now(),
		LastCycle:     h.lastCycle,
		LastRiskLevel: h.lastStatus,
		TradingHalted: h.tradingHalted,
		Uptime:        time.Since(startTime).String(),
		Errors:        h.errors,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(health)
}
