package telemetry

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jiangjiechen/auction-arena/config"
)

var (
	llmCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aucarena_llm_calls_total",
		Help: "Chat completion calls, by model.",
	}, []string{"model"})

	llmTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aucarena_llm_tokens_total",
		Help: "Tokens consumed by chat completions, by model and direction.",
	}, []string{"model", "direction"})

	llmCostTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aucarena_llm_cost_dollars_total",
		Help: "Accumulated provider spend in dollars, by model.",
	}, []string{"model"})

	itemsSoldTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aucarena_items_sold_total",
		Help: "Items that found a buyer.",
	})

	itemsUnsoldTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aucarena_items_unsold_total",
		Help: "Items that went permanently unsold.",
	})

	hammerPrice = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aucarena_hammer_price_dollars",
		Help:    "Final sale prices.",
		Buckets: prometheus.ExponentialBuckets(100, 2, 10),
	})

	bidRoundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aucarena_bid_rounds_total",
		Help: "Bidding rounds run across all items.",
	})
)

// Metrics holds the in-process counters behind the performance report.
type Metrics struct {
	mu sync.RWMutex

	ItemsPresented int64
	ItemsSold      int64
	ItemsUnsold    int64
	BidRounds      int64

	LLMRequests   map[string]int64
	LLMTokensUsed map[string]int64
}

// CostTracker accumulates provider spend per model.
type CostTracker struct {
	mu sync.RWMutex

	ModelCosts  map[string]float64
	TotalCost   float64
	TotalTokens int64
}

// Telemetry tracks auction progress, provider usage and spend. It doubles as
// the usage recorder handed to bidders and the observer handed to the
// session runner; everything is also exported as prometheus metrics.
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	metrics     *Metrics
	costTracker *CostTracker
}

func New(cfg config.TelemetryConfig) *Telemetry {
	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			LLMRequests:   make(map[string]int64),
			LLMTokensUsed: make(map[string]int64),
		},
		costTracker: &CostTracker{
			ModelCosts: make(map[string]float64),
		},
	}
	if cfg.Enabled && cfg.PeriodicLogs {
		go t.startCostReporting()
	}
	return t
}

// RecordLLMCall records one chat completion round-trip.
func (t *Telemetry) RecordLLMCall(model string, promptTokens, completionTokens int, cost float64) {
	if !t.config.Enabled {
		return
	}
	tokens := int64(promptTokens + completionTokens)

	t.metrics.mu.Lock()
	t.metrics.LLMRequests[model]++
	t.metrics.LLMTokensUsed[model] += tokens
	t.metrics.mu.Unlock()

	t.costTracker.mu.Lock()
	t.costTracker.ModelCosts[model] += cost
	t.costTracker.TotalCost += cost
	t.costTracker.TotalTokens += tokens
	t.costTracker.mu.Unlock()

	llmCallsTotal.WithLabelValues(model).Inc()
	llmTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	llmTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	llmCostTotal.WithLabelValues(model).Add(cost)
}

// ItemPresented implements the session observer.
func (t *Telemetry) ItemPresented(name string, remaining int) {
	if !t.config.Enabled {
		return
	}
	t.metrics.mu.Lock()
	t.metrics.ItemsPresented++
	t.metrics.mu.Unlock()
}

// BidRound implements the session observer.
func (t *Telemetry) BidRound(item string, round int) {
	if !t.config.Enabled {
		return
	}
	t.metrics.mu.Lock()
	t.metrics.BidRounds++
	t.metrics.mu.Unlock()
	bidRoundsTotal.Inc()
}

// ItemSold implements the session observer.
func (t *Telemetry) ItemSold(item string, price, trueValue int) {
	if !t.config.Enabled {
		return
	}
	t.metrics.mu.Lock()
	t.metrics.ItemsSold++
	t.metrics.mu.Unlock()
	itemsSoldTotal.Inc()
	hammerPrice.Observe(float64(price))
	t.logger.Printf("Sale Event: Item=%s, Price=$%d, TrueValue=$%d", item, price, trueValue)
}

// ItemUnsold implements the session observer.
func (t *Telemetry) ItemUnsold(item string) {
	if !t.config.Enabled {
		return
	}
	t.metrics.mu.Lock()
	t.metrics.ItemsUnsold++
	t.metrics.mu.Unlock()
	itemsUnsoldTotal.Inc()
	t.logger.Printf("Unsold Event: Item=%s", item)
}

// CostSummary is a point-in-time view of provider spend.
type CostSummary struct {
	TotalCost   float64
	TotalTokens int64
	ModelCosts  map[string]float64
}

func (t *Telemetry) GetCostSummary() CostSummary {
	t.costTracker.mu.RLock()
	defer t.costTracker.mu.RUnlock()
	summary := CostSummary{
		TotalCost:   t.costTracker.TotalCost,
		TotalTokens: t.costTracker.TotalTokens,
		ModelCosts:  make(map[string]float64, len(t.costTracker.ModelCosts)),
	}
	for k, v := range t.costTracker.ModelCosts {
		summary.ModelCosts[k] = v
	}
	return summary
}

// MetricsSnapshot is a copy of the auction progress counters.
type MetricsSnapshot struct {
	ItemsPresented int64
	ItemsSold      int64
	ItemsUnsold    int64
	BidRounds      int64
	LLMRequests    map[string]int64
	LLMTokensUsed  map[string]int64
}

func (t *Telemetry) GetMetrics() MetricsSnapshot {
	t.metrics.mu.RLock()
	defer t.metrics.mu.RUnlock()
	snap := MetricsSnapshot{
		ItemsPresented: t.metrics.ItemsPresented,
		ItemsSold:      t.metrics.ItemsSold,
		ItemsUnsold:    t.metrics.ItemsUnsold,
		BidRounds:      t.metrics.BidRounds,
		LLMRequests:    make(map[string]int64, len(t.metrics.LLMRequests)),
		LLMTokensUsed:  make(map[string]int64, len(t.metrics.LLMTokensUsed)),
	}
	for k, v := range t.metrics.LLMRequests {
		snap.LLMRequests[k] = v
	}
	for k, v := range t.metrics.LLMTokensUsed {
		snap.LLMTokensUsed[k] = v
	}
	return snap
}

// GetPerformanceReport renders a human-readable summary of the run so far.
func (t *Telemetry) GetPerformanceReport() string {
	metrics := t.GetMetrics()
	costs := t.GetCostSummary()

	report := fmt.Sprintf(`
=== PERFORMANCE REPORT ===
Auction Progress:
  Items Presented: %d
  Items Sold: %d
  Items Unsold: %d
  Bid Rounds: %d
  Total Cost: $%.4f
  Total Tokens: %d

LLM Usage:
`, metrics.ItemsPresented, metrics.ItemsSold, metrics.ItemsUnsold,
		metrics.BidRounds, costs.TotalCost, costs.TotalTokens)

	for model, requests := range metrics.LLMRequests {
		report += fmt.Sprintf("  %s: %d requests, %d tokens, $%.4f\n",
			model, requests, metrics.LLMTokensUsed[model], costs.ModelCosts[model])
	}
	return report
}

func (t *Telemetry) startCostReporting() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		costs := t.GetCostSummary()
		t.logger.Printf("Cost Report: Total=$%.4f, Tokens=%d", costs.TotalCost, costs.TotalTokens)
		for model, cost := range costs.ModelCosts {
			t.logger.Printf("  Model %s: $%.4f", model, cost)
		}
	}
}

// Shutdown emits the final report.
func (t *Telemetry) Shutdown() {
	costs := t.GetCostSummary()
	metrics := t.GetMetrics()
	t.logger.Println("Shutting down telemetry system...")
	t.logger.Printf("  Items Sold: %d/%d", metrics.ItemsSold, metrics.ItemsPresented)
	t.logger.Printf("  Total Cost: $%.4f", costs.TotalCost)
	t.logger.Printf("  Total Tokens: %d", costs.TotalTokens)
}
