package auction

import (
	"context"
	"fmt"
	"sync/atomic"
)

// HumanBidder takes its bidding decisions from an external operator, fed in
// through ProvideInput (the monitor API exposes it). Everything else about
// its standing is tracked like any other bidder.
type HumanBidder struct {
	agentCore

	humanName string
	needInput atomic.Bool
	input     chan string
}

func NewHumanBidder(spec BidderSpec, deps BidderDeps) *HumanBidder {
	return &HumanBidder{
		agentCore: newAgentCore(spec, deps),
		input:     make(chan string, 1),
	}
}

func (b *HumanBidder) LearningEnabled() bool { return false }
func (b *HumanBidder) Learnings() string     { return "" }
func (b *HumanBidder) Cost() float64         { return 0 }

func (b *HumanBidder) LearnFromPrevAuction(context.Context, string, string) (string, error) {
	return "", nil
}

// NeedsInput reports whether the bidder is currently blocked on operator
// input.
func (b *HumanBidder) NeedsInput() bool { return b.needInput.Load() }

// ProvideInput hands one bidding decision to a waiting Bid call. It reports
// false when no decision is being waited for.
func (b *HumanBidder) ProvideInput(text string) bool {
	if !b.needInput.Load() {
		return false
	}
	select {
	case b.input <- text:
		return true
	default:
		return false
	}
}

func (b *HumanBidder) PlanInstruction(items []*Item) string {
	b.setItems(items)
	return fmt.Sprintf("As %s, you have a total budget of $%d. This auction has a total of %d items to be sequentially presented, they are:\n%s",
		b.name, b.Budget(), len(items), b.itemsValueString(items))
}

func (b *HumanBidder) InitPlan(_ context.Context, _ string) (string, error) {
	return "", nil
}

func (b *HumanBidder) BidInstruction(auctioneerMsg string, _ int) string {
	return auctioneerMsg
}

// Bid blocks until the operator submits a decision or the context runs out.
func (b *HumanBidder) Bid(ctx context.Context, _ string, _ RoundState) (BidResult, error) {
	b.needInput.Store(true)
	defer b.needInput.Store(false)

	select {
	case text := <-b.input:
		b.mu.Lock()
		b.totalBidCnt++
		b.mu.Unlock()
		return BidResult{Raw: text}, nil
	case <-ctx.Done():
		return BidResult{}, fmt.Errorf("bidder %s: waiting for operator input: %w", b.name, ctx.Err())
	}
}

func (b *HumanBidder) RebidInstruction(auctioneerMsg string) string { return auctioneerMsg }

func (b *HumanBidder) RebidForFailure(ctx context.Context, instruct string, st RoundState) (BidResult, error) {
	res, err := b.Bid(ctx, instruct, st)
	if err != nil {
		return BidResult{}, err
	}
	b.mu.Lock()
	b.failedBidCnt++
	b.mu.Unlock()
	return res, nil
}

func (b *HumanBidder) SummarizeInstruction(biddingHistory, hammerMsg, winLoseMsg string) string {
	return fmt.Sprintf("%s\n\n%s\n%s", biddingHistory, hammerMsg, winLoseMsg)
}

func (b *HumanBidder) Summarize(context.Context, string) (string, error) {
	b.recordRoundFigures()
	return "", nil
}

func (b *HumanBidder) ReplanInstruction() string { return "" }

func (b *HumanBidder) Replan(context.Context, string) (string, error) {
	b.advanceItem()
	return "", nil
}
