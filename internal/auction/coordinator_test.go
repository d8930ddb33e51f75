package auction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// coordBidder overrides Bid on an embedded rule bidder with an arbitrary
// function, for exercising the coordinator's failure paths.
type coordBidder struct {
	*RuleBidder
	bid func(ctx context.Context) (BidResult, error)
}

func (b *coordBidder) Bid(ctx context.Context, _ string, _ RoundState) (BidResult, error) {
	return b.bid(ctx)
}

func TestCoordinatorPreservesInputOrder(t *testing.T) {
	var bidders []Bidder
	for i := 0; i < 4; i++ {
		price := 100 + i
		delay := time.Duration(3-i) * 10 * time.Millisecond
		bidders = append(bidders, &coordBidder{
			RuleBidder: testRuleBidder(fmt.Sprintf("B%d", i), 1000),
			bid: func(ctx context.Context) (BidResult, error) {
				time.Sleep(delay)
				return BidResult{Price: price, Priced: true}, nil
			},
		})
	}

	c := NewCoordinator(2, time.Second, quietLogger())
	results, err := c.RunBid(context.Background(), bidders, make([]string, 4), RoundState{})
	if err != nil {
		t.Fatalf("RunBid: %v", err)
	}
	for i, res := range results {
		if res.Price != 100+i {
			t.Fatalf("results[%d].Price = %d, want %d", i, res.Price, 100+i)
		}
	}
}

func TestCoordinatorAggregatesFailures(t *testing.T) {
	boom := errors.New("boom")
	mk := func(i int, fail bool) Bidder {
		return &coordBidder{
			RuleBidder: testRuleBidder(fmt.Sprintf("B%d", i), 1000),
			bid: func(ctx context.Context) (BidResult, error) {
				if fail {
					return BidResult{}, boom
				}
				return BidResult{Price: 100, Priced: true}, nil
			},
		}
	}
	bidders := []Bidder{mk(0, false), mk(1, true), mk(2, false), mk(3, true)}

	c := NewCoordinator(4, time.Second, quietLogger())
	results, err := c.RunBid(context.Background(), bidders, make([]string, 4), RoundState{})

	var batchErr *BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("err = %v, want *BatchError", err)
	}
	if len(batchErr.Failures) != 2 {
		t.Fatalf("failures = %d, want 2", len(batchErr.Failures))
	}
	if batchErr.Failures[0].Index != 1 || batchErr.Failures[0].Name != "B1" {
		t.Fatalf("first failure = %+v", batchErr.Failures[0])
	}
	if batchErr.Failures[1].Index != 3 || batchErr.Failures[1].Name != "B3" {
		t.Fatalf("second failure = %+v", batchErr.Failures[1])
	}
	if !strings.HasPrefix(batchErr.Error(), "error(s) in bid:") {
		t.Fatalf("error string = %q", batchErr.Error())
	}

	// successes are still delivered alongside the error
	if results[0].Price != 100 || results[2].Price != 100 {
		t.Fatalf("partial results lost: %+v", results)
	}
}

func TestCoordinatorTimesOutSlowBidder(t *testing.T) {
	slow := &coordBidder{
		RuleBidder: testRuleBidder("Slow", 1000),
		bid: func(ctx context.Context) (BidResult, error) {
			<-ctx.Done()
			return BidResult{}, ctx.Err()
		},
	}
	fast := &coordBidder{
		RuleBidder: testRuleBidder("Fast", 1000),
		bid: func(ctx context.Context) (BidResult, error) {
			return BidResult{Price: 100, Priced: true}, nil
		},
	}

	c := NewCoordinator(2, 20*time.Millisecond, quietLogger())
	results, err := c.RunBid(context.Background(), []Bidder{slow, fast}, make([]string, 2), RoundState{})

	var batchErr *BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("err = %v, want *BatchError", err)
	}
	if len(batchErr.Failures) != 1 || batchErr.Failures[0].Name != "Slow" {
		t.Fatalf("failures = %+v", batchErr.Failures)
	}
	if !errors.Is(batchErr.Failures[0].Err, ErrBidderTimeout) {
		t.Fatalf("failure err = %v, want ErrBidderTimeout", batchErr.Failures[0].Err)
	}
	if results[1].Price != 100 {
		t.Fatalf("fast bidder's result lost: %+v", results[1])
	}
}

func TestCoordinatorHonorsConcurrencyLimit(t *testing.T) {
	const threadNum = 2
	var mu = make(chan struct{}, threadNum)
	mk := func(i int) Bidder {
		return &coordBidder{
			RuleBidder: testRuleBidder(fmt.Sprintf("B%d", i), 1000),
			bid: func(ctx context.Context) (BidResult, error) {
				select {
				case mu <- struct{}{}:
				default:
					return BidResult{}, errors.New("concurrency limit exceeded")
				}
				time.Sleep(5 * time.Millisecond)
				<-mu
				return BidResult{Price: 100, Priced: true}, nil
			},
		}
	}
	var bidders []Bidder
	for i := 0; i < 6; i++ {
		bidders = append(bidders, mk(i))
	}

	c := NewCoordinator(threadNum, time.Second, quietLogger())
	if _, err := c.RunBid(context.Background(), bidders, make([]string, 6), RoundState{}); err != nil {
		t.Fatalf("RunBid: %v", err)
	}
}
