package auction

import "math"

// ItemWonRecord is a won item in a monitor snapshot.
type ItemWonRecord struct {
	Item      string `json:"item"`
	Bid       int    `json:"bid"`
	TrueValue int    `json:"true_value"`
}

// Monitor is the pull-based per-bidder snapshot served to the presentation
// layer and archived at the end of a session. Model-driven bidders fill in
// the belief-tracking and transcript sections; rule and human bidders leave
// them empty.
type Monitor struct {
	AuctionHash         string              `json:"auction_hash"`
	BidderName          string              `json:"bidder_name"`
	ModelName           string              `json:"model_name"`
	Desire              string              `json:"desire,omitempty"`
	PlanStrategy        string              `json:"plan_strategy,omitempty"`
	OverestimatePercent int                 `json:"overestimate_percent"`
	Temperature         float64             `json:"temperature,omitempty"`
	CorrectBelief       bool                `json:"correct_belief"`
	EnableLearning      bool                `json:"enable_learning"`
	Budget              int                 `json:"budget"`
	MoneyLeft           int                 `json:"money_left"`
	Profit              int                 `json:"profit"`
	ItemsWon            []ItemWonRecord     `json:"items_won"`
	TokensUsed          int                 `json:"tokens_used"`
	ProviderCost        float64             `json:"provider_cost"`
	FailedBidCnt        int                 `json:"failed_bid_cnt"`
	SelfBeliefErrorCnt  int                 `json:"self_belief_error_cnt"`
	OtherBeliefErrorCnt int                 `json:"other_belief_error_cnt"`
	FailedBidRate       float64             `json:"failed_bid_rate"`
	SelfErrorRate       float64             `json:"self_error_rate"`
	OtherErrorRate      float64             `json:"other_error_rate"`
	EngagementCount     int                 `json:"engagement_count"`
	EngagementHistory   map[string]int      `json:"engagement_history"`
	BudgetHistory       []int               `json:"budget_history"`
	ProfitHistory       []int               `json:"profit_history"`
	ChangesOfPlan       []PlanChange        `json:"changes_of_plan"`
	BudgetErrorHistory  []DiscrepancyRecord `json:"budget_error_history"`
	ProfitErrorHistory  []DiscrepancyRecord `json:"profit_error_history"`
	WinBidErrorHistory  []DiscrepancyRecord `json:"win_bid_error_history"`
	History             []PromptRecord      `json:"history,omitempty"`
}

func rate(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return math.Round(float64(numerator)/float64(denominator)*100) / 100
}

// baseMonitor fills the fields every bidder variant shares.
func (c *agentCore) baseMonitor() Monitor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	won := make([]ItemWonRecord, 0, len(c.itemsWon))
	for _, w := range c.itemsWon {
		won = append(won, ItemWonRecord{Item: w.Item.Name, Bid: w.Bid, TrueValue: w.Item.TrueValue})
	}
	engagement := make(map[string]int, len(c.engagementHistory))
	for k, v := range c.engagementHistory {
		engagement[k] = v
	}
	return Monitor{
		AuctionHash:         c.auctionHash,
		BidderName:          c.name,
		ModelName:           c.modelName,
		Desire:              string(c.desire),
		OverestimatePercent: c.overestimatePercent,
		Budget:              c.originalBudget,
		MoneyLeft:           c.budget,
		Profit:              c.profit,
		ItemsWon:            won,
		FailedBidCnt:        c.failedBidCnt,
		FailedBidRate:       rate(c.failedBidCnt, c.totalBidCnt),
		EngagementCount:     c.engagementCount,
		EngagementHistory:   engagement,
		BudgetHistory:       append([]int(nil), c.budgetHistory...),
		ProfitHistory:       append([]int(nil), c.profitHistory...),
	}
}

func (c *agentCore) Snapshot() Monitor { return c.baseMonitor() }

func (b *LLMBidder) Snapshot() Monitor {
	m := b.baseMonitor()
	b.mu.RLock()
	defer b.mu.RUnlock()
	m.PlanStrategy = string(b.planStrategy)
	m.Temperature = b.temperature
	m.CorrectBelief = b.correctBelief
	m.EnableLearning = b.enableLearning
	m.TokensUsed = b.llmTokenCount
	m.ProviderCost = math.Round(b.cost*100) / 100
	m.SelfBeliefErrorCnt = b.selfBeliefErrorCnt
	m.OtherBeliefErrorCnt = b.otherBeliefErrorCnt
	m.SelfErrorRate = rate(b.selfBeliefErrorCnt, b.totalSelfBeliefCnt)
	m.OtherErrorRate = rate(b.otherBeliefErrorCnt, b.totalOtherBeliefCnt)
	m.ChangesOfPlan = append([]PlanChange(nil), b.changesOfPlan...)
	m.BudgetErrorHistory = append([]DiscrepancyRecord(nil), b.budgetErrorHistory...)
	m.ProfitErrorHistory = append([]DiscrepancyRecord(nil), b.profitErrorHistory...)
	m.WinBidErrorHistory = append([]DiscrepancyRecord(nil), b.winBidErrorHistory...)
	m.History = append([]PromptRecord(nil), b.promptHistory...)
	return m
}
