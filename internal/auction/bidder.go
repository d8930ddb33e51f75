package auction

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/jiangjiechen/auction-arena/provider"
)

// PlanStrategy controls how much planning an agent does across the session.
type PlanStrategy string

const (
	PlanNone     PlanStrategy = "none"
	PlanStatic   PlanStrategy = "static"
	PlanAdaptive PlanStrategy = "adaptive"
)

// Winning is one item won by a bidder, with the hammer price paid.
type Winning struct {
	Item *Item
	Bid  int
}

// BidderStatus is the ground-truth standing of one bidder, distributed to all
// agents so their self-reported beliefs can be checked against reality.
type BidderStatus struct {
	Profit   int
	ItemsWon []Winning
}

// RoundState carries the auctioneer-side figures a bidder may need to decide
// a price without consulting a language model.
type RoundState struct {
	Round        int
	CurBid       int
	MinMarkupPct float64
}

// BidResult is a bidder's answer to a bid solicitation. LLM and human
// bidders return raw text to be parsed downstream; rule bidders decide a
// price directly and set Priced.
type BidResult struct {
	Raw    string
	Price  int
	Priced bool
}

// Bidder is an auction participant. The concrete behavior behind it is fixed
// at construction time: language-model driven, rule driven, or human driven.
type Bidder interface {
	Name() string
	ModelName() string
	Budget() int
	Profit() int
	ItemsWon() []Winning
	Withdrawn() bool
	SetWithdraw(bid int)
	SetAllBiddersStatus(status map[string]BidderStatus)

	LearningEnabled() bool
	LearnFromPrevAuction(ctx context.Context, pastLearnings, pastAuctionLog string) (string, error)
	Learnings() string

	PlanInstruction(items []*Item) string
	InitPlan(ctx context.Context, instruct string) (string, error)
	BidInstruction(auctioneerMsg string, round int) string
	Bid(ctx context.Context, instruct string, st RoundState) (BidResult, error)
	RebidInstruction(auctioneerMsg string) string
	RebidForFailure(ctx context.Context, instruct string, st RoundState) (BidResult, error)
	SanityCheckBid(bidPrice, prevRoundMaxBid int, minMarkupPct float64) string
	SummarizeInstruction(biddingHistory, hammerMsg, winLoseMsg string) string
	Summarize(ctx context.Context, instruct string) (string, error)
	ReplanInstruction() string
	Replan(ctx context.Context, instruct string) (string, error)

	WinBid(item *Item, bid int) string
	LoseBid(item *Item) string
	ProfitReport() string
	Cost() float64
	Snapshot() Monitor
}

// BidderSpec is one record in the bidder roster file, one JSON object per
// line. Model selects the behavior: "rule", "human", or a configured
// language-model key.
type BidderSpec struct {
	Name                string  `json:"name"`
	Model               string  `json:"model"`
	Budget              int     `json:"budget"`
	Desire              Desire  `json:"desire"`
	PlanStrategy        string  `json:"plan_strategy"`
	Temperature         float64 `json:"temperature"`
	OverestimatePercent int     `json:"overestimate_percent"`
	CorrectBelief       bool    `json:"correct_belief"`
	EnableLearning      bool    `json:"enable_learning"`
}

// LoadBidderSpecs reads a bidder roster file with one JSON record per line.
func LoadBidderSpecs(path string) ([]BidderSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bidder roster: %w", err)
	}
	defer f.Close()

	var specs []BidderSpec
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		spec := BidderSpec{
			Temperature:         0.7,
			OverestimatePercent: 10,
		}
		if err := json.Unmarshal(raw, &spec); err != nil {
			return nil, fmt.Errorf("bidder roster line %d: %w", line, err)
		}
		if spec.Name == "" || spec.Budget <= 0 {
			return nil, fmt.Errorf("bidder roster line %d: name and positive budget required", line)
		}
		specs = append(specs, spec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read bidder roster: %w", err)
	}
	return specs, nil
}

// ProviderFactory resolves a model key to a ready-to-use chat provider.
type ProviderFactory func(model string) (provider.Provider, error)

// BidderDeps are shared dependencies handed to every bidder at construction.
type BidderDeps struct {
	Providers     ProviderFactory
	AuctionHash   string
	Logger        *log.Logger
	Recorder      UsageRecorder
	RuleMaxBidCnt int
}

// UsageRecorder receives per-call token and cost figures from LLM bidders.
type UsageRecorder interface {
	RecordLLMCall(model string, promptTokens, completionTokens int, cost float64)
}

// NewBidder builds the concrete bidder for a roster record.
func NewBidder(spec BidderSpec, deps BidderDeps) (Bidder, error) {
	switch spec.Model {
	case "rule":
		return NewRuleBidder(spec, deps), nil
	case "human":
		return NewHumanBidder(spec, deps), nil
	default:
		if deps.Providers == nil {
			return nil, fmt.Errorf("bidder %s: no provider factory for model %q", spec.Name, spec.Model)
		}
		llm, err := deps.Providers(spec.Model)
		if err != nil {
			return nil, fmt.Errorf("bidder %s: %w", spec.Name, err)
		}
		return NewLLMBidder(spec, llm, deps), nil
	}
}

// NewBidders builds the whole roster in order.
func NewBidders(specs []BidderSpec, deps BidderDeps) ([]Bidder, error) {
	bidders := make([]Bidder, 0, len(specs))
	for _, spec := range specs {
		b, err := NewBidder(spec, deps)
		if err != nil {
			return nil, err
		}
		bidders = append(bidders, b)
	}
	return bidders, nil
}

// agentCore holds the bookkeeping every bidder variant shares: identity,
// budget, winnings, engagement and the ground-truth view of all bidders.
// The mutex exists because monitors read snapshots while the auction loop
// mutates state from coordinator goroutines.
type agentCore struct {
	mu sync.RWMutex

	name                string
	modelName           string
	desire              Desire
	overestimatePercent int
	auctionHash         string
	logger              *log.Logger

	budget         int
	originalBudget int
	profit         int
	itemsWon       []Winning

	items      []*Item
	curItemIdx int

	withdraw          bool
	engagementCount   int
	engagementHistory map[string]int

	failedBidCnt int
	totalBidCnt  int

	budgetHistory []int
	profitHistory []int

	allBiddersStatus map[string]BidderStatus
}

func newAgentCore(spec BidderSpec, deps BidderDeps) agentCore {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[BIDDER] ", log.LstdFlags)
	}
	c := agentCore{
		name:                spec.Name,
		modelName:           spec.Model,
		desire:              spec.Desire,
		overestimatePercent: spec.OverestimatePercent,
		auctionHash:         deps.AuctionHash,
		logger:              logger,
		budget:              spec.Budget,
		originalBudget:      spec.Budget,
		engagementHistory:   make(map[string]int),
		allBiddersStatus:    make(map[string]BidderStatus),
	}
	c.budgetHistory = append(c.budgetHistory, c.budget)
	c.profitHistory = append(c.profitHistory, c.profit)
	return c
}

func (c *agentCore) Name() string      { return c.name }
func (c *agentCore) ModelName() string { return c.modelName }

func (c *agentCore) Budget() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.budget
}

func (c *agentCore) Profit() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profit
}

func (c *agentCore) ItemsWon() []Winning {
	c.mu.RLock()
	defer c.mu.RUnlock()
	won := make([]Winning, len(c.itemsWon))
	copy(won, c.itemsWon)
	return won
}

func (c *agentCore) Withdrawn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.withdraw
}

// SetWithdraw interprets the final bid of a round. Negative marks the bidder
// out for the current item, zero re-opens a bidder that only sat out because
// the item failed to sell and was re-offered at a discount, positive counts
// as engagement.
func (c *agentCore) SetWithdraw(bid int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case bid < 0:
		c.withdraw = true
	case bid == 0:
		c.withdraw = false
	default:
		c.withdraw = false
		c.engagementCount++
		if item := c.curItemLocked(); item != nil {
			c.engagementHistory[item.Name]++
		}
	}
}

func (c *agentCore) SetAllBiddersStatus(status map[string]BidderStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allBiddersStatus = make(map[string]BidderStatus, len(status))
	for k, v := range status {
		c.allBiddersStatus[k] = v
	}
}

// estimatedValue is the bidder's private valuation, skewed off the true
// value by the configured overestimate percentage and truncated to a dollar.
func (c *agentCore) estimatedValue(item *Item) int {
	return int(float64(item.TrueValue) * (1 + float64(c.overestimatePercent)/100))
}

func (c *agentCore) curItemLocked() *Item {
	if c.curItemIdx < len(c.items) {
		return c.items[c.curItemIdx]
	}
	return nil
}

func (c *agentCore) curItem() *Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.curItemLocked()
}

func (c *agentCore) remainingItems() []*Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.curItemIdx+1 >= len(c.items) {
		return nil
	}
	return c.items[c.curItemIdx+1:]
}

// itemsValueString lists items with starting prices and this bidder's
// private estimates, as presented in planning prompts.
func (c *agentCore) itemsValueString(items []*Item) string {
	var sb strings.Builder
	for i, item := range items {
		fmt.Fprintf(&sb, "%d. %s, starting price is $%d. Your estimated value for this item is $%d.\n",
			i+1, item.Name, item.Price, c.estimatedValue(item))
	}
	return strings.TrimSpace(sb.String())
}

// SanityCheckBid validates a proposed price against the bidder's own budget
// and the auction floor. An empty string means the bid is acceptable;
// withdrawals are always acceptable.
func (c *agentCore) SanityCheckBid(bidPrice, prevRoundMaxBid int, minMarkupPct float64) string {
	if bidPrice < 0 {
		return ""
	}
	item := c.curItem()
	if item == nil {
		return ""
	}
	minBidIncrease := minBidIncrease(item.Price, minMarkupPct)
	switch {
	case bidPrice > c.Budget():
		return fmt.Sprintf("you have insufficient budget ($%d left)", c.Budget())
	case bidPrice < item.Price:
		return fmt.Sprintf("your bid is lower than the starting bid ($%d)", item.Price)
	case bidPrice < prevRoundMaxBid+minBidIncrease:
		return fmt.Sprintf("you must advance previous highest bid ($%d) by at least $%d (%d%%).",
			prevRoundMaxBid, minBidIncrease, int(100*minMarkupPct))
	}
	return ""
}

// minBidIncrease is the smallest allowed advance over the current highest
// bid, rounded up so a fractional markup never collapses to a free advance.
func minBidIncrease(startingPrice int, minMarkupPct float64) int {
	return int(math.Ceil(minMarkupPct * float64(startingPrice)))
}

// WinBid settles a won item: pays the hammer price, books the profit against
// the true value, and returns the congratulation shown to the agent.
func (c *agentCore) WinBid(item *Item, bid int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.budget -= bid
	c.profit += item.TrueValue - bid
	c.itemsWon = append(c.itemsWon, Winning{Item: item, Bid: bid})
	return fmt.Sprintf("Congratulations! You won %s at $%d.", item.Name, bid)
}

func (c *agentCore) LoseBid(item *Item) string {
	return fmt.Sprintf("You lost %s.", item.Name)
}

// ProfitReport is the per-bidder section of the final auction report.
func (c *agentCore) ProfitReport() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var sb strings.Builder
	fmt.Fprintf(&sb, "* %s, starting with $%d, has won %d items in this auction, with a total profit of $%d.:\n",
		c.name, c.originalBudget, len(c.itemsWon), c.profit)
	for _, w := range c.itemsWon {
		fmt.Fprintf(&sb, "  * Won %s at $%d over $%d, with a true value of $%d.\n",
			w.Item.Name, w.Bid, w.Item.Price, w.Item.TrueValue)
	}
	return strings.TrimSpace(sb.String())
}

func (c *agentCore) recordRoundFigures() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.budgetHistory = append(c.budgetHistory, c.budget)
	c.profitHistory = append(c.profitHistory, c.profit)
}

func (c *agentCore) setItems(items []*Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = items
	c.curItemIdx = 0
}

func (c *agentCore) advanceItem() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.curItemIdx++
	c.withdraw = false
}
