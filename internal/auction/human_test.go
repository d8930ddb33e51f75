package auction

import (
	"context"
	"testing"
	"time"
)

func testHumanBidder(name string, budget int) *HumanBidder {
	return NewHumanBidder(BidderSpec{Name: name, Model: "human", Budget: budget}, BidderDeps{Logger: quietLogger()})
}

func TestHumanBidderWaitsForInput(t *testing.T) {
	b := testHumanBidder("Pat", 1000)
	b.setItems([]*Item{testItem("Desk", 400, 600)})

	if b.ProvideInput("too early") {
		t.Fatal("input should be rejected while nothing is waiting")
	}

	done := make(chan BidResult, 1)
	go func() {
		res, err := b.Bid(context.Background(), "", RoundState{})
		if err != nil {
			t.Errorf("Bid: %v", err)
		}
		done <- res
	}()

	deadline := time.After(2 * time.Second)
	for !b.NeedsInput() {
		select {
		case <-deadline:
			t.Fatal("bidder never signaled that it needs input")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if !b.ProvideInput("I bid $500!") {
		t.Fatal("input should be accepted while the bidder is waiting")
	}

	select {
	case res := <-done:
		if res.Raw != "I bid $500!" {
			t.Fatalf("raw decision = %q", res.Raw)
		}
		if res.Priced {
			t.Fatal("human decisions must go through the parser")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Bid never returned after input was provided")
	}
}

func TestHumanBidderBidHonorsContext(t *testing.T) {
	b := testHumanBidder("Pat", 1000)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Bid(ctx, "", RoundState{})
	if err == nil {
		t.Fatal("Bid should fail when the context expires without input")
	}
	if b.NeedsInput() {
		t.Fatal("need-input flag should be cleared after Bid returns")
	}
}
