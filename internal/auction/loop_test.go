package auction

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type countingObserver struct {
	mu        sync.Mutex
	presented int
	rounds    int
	sold      int
	unsold    int
}

func (o *countingObserver) ItemPresented(string, int) {
	o.mu.Lock()
	o.presented++
	o.mu.Unlock()
}

func (o *countingObserver) BidRound(string, int) {
	o.mu.Lock()
	o.rounds++
	o.mu.Unlock()
}

func (o *countingObserver) ItemSold(string, int, int) {
	o.mu.Lock()
	o.sold++
	o.mu.Unlock()
}

func (o *countingObserver) ItemUnsold(string) {
	o.mu.Lock()
	o.unsold++
	o.mu.Unlock()
}

func newTestRunner(t *testing.T, items []*Item, bidders []Bidder, oracle *scriptProvider, obs Observer) *Runner {
	t.Helper()
	a := NewAuctioneer(AuctioneerOptions{Logger: quietLogger()})
	a.InitItems(items)
	return NewRunner(RunnerOptions{
		Auctioneer:  a,
		Bidders:     bidders,
		Coordinator: NewCoordinator(2, time.Second, quietLogger()),
		Parser:      NewBidParser(oracle, quietLogger(), nil),
		AuctionHash: "test-hash",
		Logger:      quietLogger(),
		Observer:    obs,
	})
}

func TestRunnerFullSession(t *testing.T) {
	items := []*Item{testItem("Desk", 400, 600), testItem("Lamp", 100, 150)}
	alice := newScriptedBidder("Alice", 600, 400)
	bob := newScriptedBidder("Bob", 500, -1, 100)
	obs := &countingObserver{}

	r := newTestRunner(t, items, []Bidder{alice, bob}, &scriptProvider{}, obs)
	result, err := r.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.AuctionHash != "test-hash" {
		t.Fatalf("auction hash = %q", result.AuctionHash)
	}
	if alice.Profit() != 200 || alice.Budget() != 200 {
		t.Fatalf("Alice profit/budget = %d/%d, want 200/200", alice.Profit(), alice.Budget())
	}
	if bob.Profit() != 50 || bob.Budget() != 400 {
		t.Fatalf("Bob profit/budget = %d/%d, want 50/400", bob.Profit(), bob.Budget())
	}

	if got := result.Memo.Profit["Alice"]; got != 200 {
		t.Fatalf("memo profit Alice = %d, want 200", got)
	}
	if got := result.Memo.Profit["Bob"]; got != 50 {
		t.Fatalf("memo profit Bob = %d, want 50", got)
	}
	if result.Memo.ModelInfo["Alice"] != "rule" {
		t.Fatalf("memo model info = %v", result.Memo.ModelInfo)
	}
	if result.TotalCost != 0 {
		t.Fatalf("total cost = %v, want 0 for rule bidders", result.TotalCost)
	}

	// the full log carries model attribution, the memo log does not
	if !strings.Contains(result.Log, "## Personal Report") {
		t.Fatalf("log missing personal reports:\n%s", result.Log)
	}
	if !strings.Contains(result.Log, "(rule)") {
		t.Fatalf("log missing model attribution:\n%s", result.Log)
	}
	if strings.Contains(result.Memo.AuctionLog, "(rule)") {
		t.Fatalf("memo log leaks model names:\n%s", result.Memo.AuctionLog)
	}
	if !strings.Contains(result.Memo.AuctionLog, "### 1. Desk, starting at $400.") {
		t.Fatalf("memo log missing first item:\n%s", result.Memo.AuctionLog)
	}

	if obs.presented != 2 || obs.sold != 2 || obs.unsold != 0 {
		t.Fatalf("observer counts = %+v", obs)
	}

	if len(result.Monitors) != 2 {
		t.Fatalf("monitors = %d, want 2", len(result.Monitors))
	}
	for _, m := range result.Monitors {
		if m.AuctionHash != "test-hash" {
			t.Fatalf("monitor auction hash = %q", m.AuctionHash)
		}
	}
}

func TestRunnerForcesWithdrawalAfterRebidCap(t *testing.T) {
	items := []*Item{testItem("Desk", 400, 600)}
	alice := newScriptedBidder("Alice", 600, 400)
	cheat := newScriptedBidder("Cheat", 600, 50)
	cheat.rebids = []int{50, 50, 50}

	r := newTestRunner(t, items, []Bidder{alice, cheat}, &scriptProvider{}, nil)
	result, err := r.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := cheat.rebidCount(); got != 3 {
		t.Fatalf("rebid attempts = %d, want 3", got)
	}
	if !strings.Contains(result.Memo.AuctionLog, "* Cheat: Withdrew") {
		t.Fatalf("forced withdrawal not logged:\n%s", result.Memo.AuctionLog)
	}
	if alice.Profit() != 200 {
		t.Fatalf("Alice profit = %d, want 200", alice.Profit())
	}
}

// rawBidder answers solicitations with free text, forcing the parser path.
type rawBidder struct {
	*RuleBidder
	raw string
}

func (b *rawBidder) Bid(context.Context, string, RoundState) (BidResult, error) {
	return BidResult{Raw: b.raw}, nil
}

func TestRunnerParsesRawDecisions(t *testing.T) {
	items := []*Item{testItem("Desk", 400, 600)}
	alice := &rawBidder{RuleBidder: testRuleBidder("Alice", 600), raw: "I bid $400!"}
	bob := &rawBidder{RuleBidder: testRuleBidder("Bob", 500), raw: "I'm out!"}
	oracle := &scriptProvider{responses: []string{"$400", "-1"}}

	r := newTestRunner(t, items, []Bidder{alice, bob}, oracle, nil)
	if _, err := r.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if alice.Profit() != 200 {
		t.Fatalf("Alice profit = %d, want 200", alice.Profit())
	}
	if got := bob.ItemsWon(); len(got) != 0 {
		t.Fatalf("Bob should have won nothing: %v", got)
	}
}

func TestRunnerResolicitsUnparsableDecisions(t *testing.T) {
	items := []*Item{testItem("Desk", 400, 600)}
	mumble := &rawBidder{RuleBidder: testRuleBidder("Mumble", 600), raw: "hmm, tough call"}
	bob := newScriptedBidder("Bob", 500, 400)
	oracle := &scriptProvider{responses: []string{"no idea"}}

	r := newTestRunner(t, items, []Bidder{mumble, bob}, oracle, nil)
	result, err := r.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// the default rebid cap allows three re-solicitations before the forced
	// withdrawal, so the oracle sees the initial parse plus three retries
	if got := oracle.callCount(); got != 4 {
		t.Fatalf("oracle calls = %d, want 4", got)
	}
	if !strings.Contains(result.Memo.AuctionLog, "* Mumble: Withdrew") {
		t.Fatalf("unparsable bidder should be withdrawn:\n%s", result.Memo.AuctionLog)
	}
	if bob.Profit() != 200 {
		t.Fatalf("Bob profit = %d, want 200", bob.Profit())
	}
}

func TestRunnerDiscountReopensWithdrawnBidders(t *testing.T) {
	items := []*Item{testItem("Desk", 400, 600)}
	// both pass on the opening offer, Alice takes it once discounted to $200
	alice := newScriptedBidder("Alice", 600, -1, 200)
	bob := newScriptedBidder("Bob", 500, -1, -1)

	a := NewAuctioneer(AuctioneerOptions{EnableDiscount: true, MaxDiscounts: 3, Logger: quietLogger()})
	a.InitItems(items)
	r := NewRunner(RunnerOptions{
		Auctioneer:  a,
		Bidders:     []Bidder{alice, bob},
		Coordinator: NewCoordinator(2, time.Second, quietLogger()),
		Parser:      NewBidParser(&scriptProvider{}, quietLogger(), nil),
		AuctionHash: "test-hash",
		Logger:      quietLogger(),
	})

	result, err := r.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	won := alice.ItemsWon()
	if len(won) != 1 || won[0].Bid != 200 {
		t.Fatalf("Alice winnings = %v, want Desk at $200", won)
	}
	if alice.Profit() != 400 {
		t.Fatalf("Alice profit = %d, want 400", alice.Profit())
	}
	if !strings.Contains(result.Memo.AuctionLog, "Desk, starting at $200.") {
		t.Fatalf("discounted re-offer missing from log:\n%s", result.Memo.AuctionLog)
	}
}
