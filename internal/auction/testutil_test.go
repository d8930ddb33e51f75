package auction

import (
	"context"
	"io"
	"log"
	"sync"

	"github.com/jiangjiechen/auction-arena/provider"
)

// scriptProvider plays back canned completions, repeating the last one when
// the script runs out.
type scriptProvider struct {
	mu        sync.Mutex
	model     string
	responses []string
	calls     [][]provider.Message
	err       error
}

func (p *scriptProvider) Chat(_ context.Context, messages []provider.Message, _ provider.Options) (string, provider.Usage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", provider.Usage{}, p.err
	}
	p.calls = append(p.calls, messages)
	var text string
	switch {
	case len(p.responses) == 0:
		text = ""
	case len(p.responses) == 1:
		text = p.responses[0]
	default:
		text = p.responses[0]
		p.responses = p.responses[1:]
	}
	return text, provider.Usage{PromptTokens: 10, CompletionTokens: 5, Cost: 0.001}, nil
}

func (p *scriptProvider) CountTokens(messages []provider.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content) / 4
	}
	return total
}

func (p *scriptProvider) ContextWindow() int { return 8000 }

func (p *scriptProvider) ModelName() string {
	if p.model == "" {
		return "script"
	}
	return p.model
}

func (p *scriptProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testItem(name string, price, trueValue int) *Item {
	it := &Item{Name: name, Price: price, TrueValue: trueValue}
	it.rememberPrice()
	return it
}

func testRuleBidder(name string, budget int) *RuleBidder {
	return NewRuleBidder(BidderSpec{
		Name:                name,
		Model:               "rule",
		Budget:              budget,
		Desire:              DesireMaximizeProfit,
		OverestimatePercent: 10,
	}, BidderDeps{Logger: quietLogger(), AuctionHash: "test-hash"})
}

// scriptedBidder overrides the bidding decisions of an embedded rule bidder
// with a fixed price sequence; once the script is exhausted it withdraws.
type scriptedBidder struct {
	*RuleBidder

	mu       sync.Mutex
	prices   []int
	rebids   []int
	rebidCnt int
}

func newScriptedBidder(name string, budget int, prices ...int) *scriptedBidder {
	return &scriptedBidder{RuleBidder: testRuleBidder(name, budget), prices: prices}
}

func (s *scriptedBidder) nextPrice() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prices) == 0 {
		return -1
	}
	price := s.prices[0]
	s.prices = s.prices[1:]
	return price
}

func (s *scriptedBidder) Bid(context.Context, string, RoundState) (BidResult, error) {
	return BidResult{Price: s.nextPrice(), Priced: true}, nil
}

func (s *scriptedBidder) RebidForFailure(context.Context, string, RoundState) (BidResult, error) {
	s.mu.Lock()
	s.rebidCnt++
	price := -1
	if len(s.rebids) > 0 {
		price = s.rebids[0]
		s.rebids = s.rebids[1:]
	}
	s.mu.Unlock()
	return BidResult{Price: price, Priced: true}, nil
}

func (s *scriptedBidder) rebidCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebidCnt
}
