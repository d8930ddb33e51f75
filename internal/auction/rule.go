package auction

import (
	"context"
	"sort"
	"strings"
)

const defaultRuleMaxBidCnt = 4

// RuleBidder bids mechanically: it opens at the starting price, advances by
// the minimum markup, and drops out once it has bid a fixed number of times
// on an item or the next bid would overrun its budget.
type RuleBidder struct {
	agentCore

	maxBidCnt  int
	ruleBidCnt int
	plan       string
}

func NewRuleBidder(spec BidderSpec, deps BidderDeps) *RuleBidder {
	maxCnt := deps.RuleMaxBidCnt
	if maxCnt <= 0 {
		maxCnt = defaultRuleMaxBidCnt
	}
	return &RuleBidder{
		agentCore: newAgentCore(spec, deps),
		maxBidCnt: maxCnt,
	}
}

func (b *RuleBidder) LearningEnabled() bool { return false }
func (b *RuleBidder) Learnings() string     { return "" }
func (b *RuleBidder) Cost() float64         { return 0 }

func (b *RuleBidder) LearnFromPrevAuction(context.Context, string, string) (string, error) {
	return "", nil
}

func (b *RuleBidder) PlanInstruction(items []*Item) string {
	b.setItems(items)
	return planInstruction(b.name, b.Budget(), len(items), b.itemsValueString(items), b.desire, false)
}

// InitPlan picks the items this bidder intends to chase, within budget:
// highest estimated value first when maximizing profit, cheapest first when
// maximizing item count.
func (b *RuleBidder) InitPlan(_ context.Context, _ string) (string, error) {
	chosen := b.chooseItems(b.Budget(), b.items)
	names := make([]string, 0, len(chosen))
	for _, item := range chosen {
		names = append(names, item.Name)
	}
	b.mu.Lock()
	b.plan = strings.Join(names, ", ")
	b.mu.Unlock()
	return b.plan, nil
}

func (b *RuleBidder) chooseItems(budget int, items []*Item) []*Item {
	sorted := make([]*Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		if b.desire == DesireMaximizeProfit {
			return b.estimatedValue(sorted[i]) > b.estimatedValue(sorted[j])
		}
		return b.estimatedValue(sorted[i]) < b.estimatedValue(sorted[j])
	})

	var chosen []*Item
	for _, item := range sorted {
		if budget < 0 {
			break
		}
		if item.Price <= budget {
			chosen = append(chosen, item)
			budget -= item.Price
		}
	}
	return chosen
}

func (b *RuleBidder) BidInstruction(auctioneerMsg string, _ int) string {
	return auctioneerMsg
}

// Bid decides a price directly from the round state, no parsing needed.
func (b *RuleBidder) Bid(_ context.Context, _ string, st RoundState) (BidResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	item := b.curItemLocked()
	if item == nil {
		return BidResult{Price: -1, Priced: true}, nil
	}

	var next int
	if st.CurBid <= 0 {
		next = item.Price
	} else {
		next = st.CurBid + minBidIncrease(item.Price, st.MinMarkupPct)
	}

	price := -1
	if b.budget-next >= 0 && b.ruleBidCnt < b.maxBidCnt {
		price = next
		b.ruleBidCnt++
	}
	b.totalBidCnt++
	return BidResult{Price: price, Priced: true}, nil
}

func (b *RuleBidder) RebidInstruction(auctioneerMsg string) string { return auctioneerMsg }

// RebidForFailure withdraws outright: a rule bid that failed validation
// would be recomputed identically, so retrying cannot help.
func (b *RuleBidder) RebidForFailure(context.Context, string, RoundState) (BidResult, error) {
	b.mu.Lock()
	b.failedBidCnt++
	b.mu.Unlock()
	return BidResult{Price: -1, Priced: true}, nil
}

func (b *RuleBidder) SummarizeInstruction(_, _, _ string) string { return "" }

func (b *RuleBidder) Summarize(context.Context, string) (string, error) {
	b.recordRoundFigures()
	b.mu.Lock()
	b.ruleBidCnt = 0
	b.mu.Unlock()
	return "", nil
}

func (b *RuleBidder) ReplanInstruction() string { return "" }

func (b *RuleBidder) Replan(context.Context, string) (string, error) {
	b.advanceItem()
	return "", nil
}
