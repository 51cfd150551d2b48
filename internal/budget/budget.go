// Package budget watches per-provider monthly spend and raises threshold
// alerts. Hard enforcement lives in the quota tracker's cost buckets;
// this monitor only alerts, it never blocks a request.
package budget

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lmoretti/lingo-gateway/internal/domain"
)

type AlertLevel string

const (
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
	AlertLevelExceeded AlertLevel = "exceeded"
)

type Alert struct {
	Provider   string
	Level      AlertLevel
	Budget     float64
	CurrentUse float64
	Percentage float64
	Timestamp  time.Time
}

type AlertHandler func(alert Alert)

// StatsSource exposes current usage per provider. *quota.Tracker
// satisfies it.
type StatsSource interface {
	Stats() map[string]domain.ProviderUsageStats
}

type Thresholds struct {
	Warning  float64
	Critical float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Warning:  0.8,
		Critical: 0.95,
	}
}

// Monitor compares each provider's month-to-date cost against its
// configured budget and fires alerts on threshold crossings. The
// deduplicator suppresses repeats of the same level.
type Monitor struct {
	mu            sync.RWMutex
	stats         StatsSource
	budgets       map[string]float64
	thresholds    Thresholds
	dedup         AlertDeduplicator
	alertHandlers []AlertHandler
}

func NewMonitor(stats StatsSource, budgets map[string]float64, thresholds Thresholds, dedup AlertDeduplicator) *Monitor {
	if dedup == nil {
		dedup = NewInMemoryDeduplicator()
	}
	return &Monitor{
		stats:      stats,
		budgets:    budgets,
		thresholds: thresholds,
		dedup:      dedup,
	}
}

func (m *Monitor) OnAlert(handler AlertHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertHandlers = append(m.alertHandlers, handler)
}

// Check evaluates one provider's budget. Providers without a budget are
// never alerted on.
func (m *Monitor) Check(providerID string) {
	m.mu.RLock()
	budgetUSD := m.budgets[providerID]
	m.mu.RUnlock()
	if budgetUSD <= 0 {
		return
	}

	usage, ok := m.stats.Stats()[providerID]
	if !ok {
		return
	}
	currentCost := usage.CostUSD
	percentage := currentCost / budgetUSD

	ctx := context.Background()

	var level AlertLevel
	switch {
	case percentage >= 1.0:
		level = AlertLevelExceeded
	case percentage >= m.thresholds.Critical:
		level = AlertLevelCritical
	case percentage >= m.thresholds.Warning:
		level = AlertLevelWarning
	default:
		m.dedup.ClearAlert(ctx, providerID)
		return
	}

	if !m.dedup.ShouldAlert(ctx, providerID, level) {
		return
	}

	alert := Alert{
		Provider:   providerID,
		Level:      level,
		Budget:     budgetUSD,
		CurrentUse: currentCost,
		Percentage: percentage * 100,
		Timestamp:  time.Now(),
	}

	m.mu.RLock()
	handlers := make([]AlertHandler, len(m.alertHandlers))
	copy(handlers, m.alertHandlers)
	m.mu.RUnlock()

	for _, handler := range handlers {
		handler(alert)
	}
}

// CheckAll evaluates every budgeted provider, for the periodic sweep.
func (m *Monitor) CheckAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.budgets))
	for id := range m.budgets {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.Check(id)
	}
}

func LogAlertHandler(alert Alert) {
	slog.Warn("budget alert",
		"provider", alert.Provider,
		"level", alert.Level,
		"budget_usd", alert.Budget,
		"current_use_usd", alert.CurrentUse,
		"percentage", alert.Percentage,
	)
}
