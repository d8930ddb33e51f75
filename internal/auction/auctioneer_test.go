package auction

import (
	"math/rand"
	"strings"
	"testing"
)

func newTestAuctioneer(t *testing.T, items []*Item, opts AuctioneerOptions) *Auctioneer {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	a := NewAuctioneer(opts)
	a.InitItems(items)
	if _, err := a.PresentItem(); err != nil {
		t.Fatalf("PresentItem: %v", err)
	}
	return a
}

func TestRecordBidTracksLeader(t *testing.T) {
	a := newTestAuctioneer(t, []*Item{testItem("Desk", 100, 300)}, AuctioneerOptions{})
	alice := testRuleBidder("Alice", 1000)
	bob := testRuleBidder("Bob", 1000)

	a.RecordBid(BidEvent{Bidder: alice, Bid: 100, Round: 0})
	a.RecordBid(BidEvent{Bidder: bob, Bid: 150, Round: 0})

	if got := a.HighestBidder(); got == nil || got.Name() != bob.Name() {
		t.Fatalf("leader = %v, want Bob", got)
	}
	if got := a.HighestBid(); got != 150 {
		t.Fatalf("highest bid = %d, want 150", got)
	}
}

func TestRecordBidWithdrawalKeepsLeader(t *testing.T) {
	a := newTestAuctioneer(t, []*Item{testItem("Desk", 100, 300)}, AuctioneerOptions{})
	alice := testRuleBidder("Alice", 1000)
	bob := testRuleBidder("Bob", 1000)

	a.RecordBid(BidEvent{Bidder: alice, Bid: 120, Round: 0})
	a.RecordBid(BidEvent{Bidder: bob, Bid: -1, Round: 0})

	if got := a.HighestBidder(); got == nil || got.Name() != alice.Name() {
		t.Fatalf("leader = %v, want Alice", got)
	}
}

func TestRecordBidTieRepicksUniformly(t *testing.T) {
	winners := map[string]int{}
	for seed := int64(0); seed < 100; seed++ {
		a := newTestAuctioneer(t, []*Item{testItem("Desk", 100, 300)}, AuctioneerOptions{
			Rng: rand.New(rand.NewSource(seed)),
		})
		alice := testRuleBidder("Alice", 1000)
		bob := testRuleBidder("Bob", 1000)
		a.RecordBid(BidEvent{Bidder: alice, Bid: 100, Round: 0})
		a.RecordBid(BidEvent{Bidder: bob, Bid: 100, Round: 0})
		winners[a.HighestBidder().Name()]++
	}
	if winners["Alice"] == 0 || winners["Bob"] == 0 {
		t.Fatalf("tie-break never re-picked one side: %v", winners)
	}
}

func TestCheckHammerFirstRoundSingleBid(t *testing.T) {
	a := newTestAuctioneer(t, []*Item{testItem("Desk", 100, 300)}, AuctioneerOptions{})
	alice := testRuleBidder("Alice", 1000)
	a.RecordBid(BidEvent{Bidder: alice, Bid: 100, Round: 0})

	sold, err := a.CheckHammer(0)
	if err != nil {
		t.Fatalf("CheckHammer: %v", err)
	}
	if !sold {
		t.Fatal("single uncontested opening bid should close the item immediately")
	}
}

func TestCheckHammerSellsWhenNoAdvance(t *testing.T) {
	a := newTestAuctioneer(t, []*Item{testItem("Desk", 100, 300)}, AuctioneerOptions{})
	alice := testRuleBidder("Alice", 1000)
	bob := testRuleBidder("Bob", 1000)

	a.RecordBid(BidEvent{Bidder: alice, Bid: 100, Round: 0})
	a.RecordBid(BidEvent{Bidder: bob, Bid: 150, Round: 0})
	sold, err := a.CheckHammer(0)
	if err != nil {
		t.Fatalf("CheckHammer round 0: %v", err)
	}
	if sold {
		t.Fatal("contested round should continue")
	}
	if got := a.PrevRoundMaxBid(); got != 150 {
		t.Fatalf("prev round max = %d, want 150", got)
	}

	a.RecordBid(BidEvent{Bidder: alice, Bid: -1, Round: 1})
	sold, err = a.CheckHammer(1)
	if err != nil {
		t.Fatalf("CheckHammer round 1: %v", err)
	}
	if !sold {
		t.Fatal("round with no advance should drop the hammer")
	}
}

func TestCheckHammerUnsoldWithoutDiscount(t *testing.T) {
	a := newTestAuctioneer(t, []*Item{testItem("Desk", 100, 300)}, AuctioneerOptions{})
	alice := testRuleBidder("Alice", 1000)
	a.RecordBid(BidEvent{Bidder: alice, Bid: -1, Round: 0})

	sold, err := a.CheckHammer(0)
	if err != nil {
		t.Fatalf("CheckHammer: %v", err)
	}
	if !sold {
		t.Fatal("item with no takers and no discount should go unsold")
	}
	if !a.FailToSell() {
		t.Fatal("FailToSell should be set")
	}
}

func TestCheckHammerDiscountsThenGivesUp(t *testing.T) {
	item := testItem("Desk", 400, 600)
	a := newTestAuctioneer(t, []*Item{item}, AuctioneerOptions{EnableDiscount: true, MaxDiscounts: 3})

	wantPrices := []int{200, 100, 50}
	for i, want := range wantPrices {
		sold, err := a.CheckHammer(0)
		if err != nil {
			t.Fatalf("CheckHammer discount %d: %v", i+1, err)
		}
		if sold {
			t.Fatalf("discount %d should re-offer, not close", i+1)
		}
		if item.Price != want {
			t.Fatalf("price after discount %d = %d, want %d", i+1, item.Price, want)
		}
		msg := a.AskForBid(0)
		if !strings.Contains(msg, "lower the starting bid") {
			t.Fatalf("re-offer announcement missing discount wording: %q", msg)
		}
	}

	sold, err := a.CheckHammer(0)
	if err != nil {
		t.Fatalf("CheckHammer after max discounts: %v", err)
	}
	if !sold {
		t.Fatal("item should go unsold once discounts are exhausted")
	}
}

func TestHammerFallResetsItemState(t *testing.T) {
	a := newTestAuctioneer(t, []*Item{testItem("Desk", 100, 300), testItem("Lamp", 50, 80)}, AuctioneerOptions{})
	alice := testRuleBidder("Alice", 1000)
	a.RecordBid(BidEvent{Bidder: alice, Bid: 100, Round: 0})
	a.HammerFall()

	if a.HighestBidder() != nil {
		t.Fatal("leader should be cleared after the hammer")
	}
	if a.HighestBid() != -1 || a.PrevRoundMaxBid() != -1 {
		t.Fatal("bid figures should reset to -1")
	}
	if a.CurItem() != nil {
		t.Fatal("current item should be cleared")
	}
	if a.EndAuction() {
		t.Fatal("one item should remain in the queue")
	}
}

func TestAskForBidOpeningAnnouncement(t *testing.T) {
	a := newTestAuctioneer(t, []*Item{testItem("Desk", 100, 300), testItem("Lamp", 50, 80)}, AuctioneerOptions{})

	msg := a.AskForBid(0)
	if !strings.Contains(msg, "Attention, bidders! 2 item(s) left") {
		t.Fatalf("opening announcement missing remaining count: %q", msg)
	}
	if !strings.Contains(msg, "Desk, Lamp") {
		t.Fatalf("opening announcement missing catalog: %q", msg)
	}
	if !strings.Contains(msg, "The starting price for bidding for Desk is $100") {
		t.Fatalf("opening announcement missing starting price: %q", msg)
	}
}

func TestAskForBidLaterRound(t *testing.T) {
	a := newTestAuctioneer(t, []*Item{testItem("Desk", 100, 300)}, AuctioneerOptions{MinMarkupPct: 0.1})
	alice := testRuleBidder("Alice", 1000)
	a.RecordBid(BidEvent{Bidder: alice, Bid: 120, Round: 0})

	msg := a.AskForBid(1)
	if !strings.Contains(msg, "the 1st round of bidding") {
		t.Fatalf("round message missing ordinal: %q", msg)
	}
	if !strings.Contains(msg, "Now we have $120 from Alice for Desk") {
		t.Fatalf("round message missing leader recap: %q", msg)
	}
	if !strings.Contains(msg, "The minimum increase over this highest bid is $10") {
		t.Fatalf("round message missing minimum increase: %q", msg)
	}
}

func TestAuctionLogRendering(t *testing.T) {
	a := newTestAuctioneer(t, []*Item{testItem("Desk", 100, 300)}, AuctioneerOptions{})
	alice := testRuleBidder("Alice", 1000)
	bob := testRuleBidder("Bob", 1000)

	a.RecordBid(BidEvent{Bidder: alice, Bid: 100, Round: 0})
	a.RecordBid(BidEvent{Bidder: bob, Bid: 150, Round: 0})
	if _, err := a.CheckHammer(0); err != nil {
		t.Fatalf("CheckHammer round 0: %v", err)
	}
	a.RecordBid(BidEvent{Bidder: alice, Bid: -1, Round: 1})
	if _, err := a.CheckHammer(1); err != nil {
		t.Fatalf("CheckHammer round 1: %v", err)
	}
	a.HammerFall()

	got := a.Log(nil, false)
	for _, want := range []string{
		"## Auction Log",
		"### 1. Desk, starting at $100.",
		"#### 1st bid:",
		"* Alice: $100",
		"* Bob: $150",
		"#### 2nd bid:",
		"* Alice: Withdrew",
		"#### Hammer price (true value):",
		"* Bob: $150 ($300)",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("log missing %q:\n%s", want, got)
		}
	}

	withModels := a.Log(nil, true)
	if !strings.Contains(withModels, "* Bob (rule): $150") {
		t.Fatalf("log with models missing attribution:\n%s", withModels)
	}
}

func TestAuctionLogUnsoldItem(t *testing.T) {
	a := newTestAuctioneer(t, []*Item{testItem("Desk", 100, 300)}, AuctioneerOptions{})
	alice := testRuleBidder("Alice", 1000)
	a.RecordBid(BidEvent{Bidder: alice, Bid: -1, Round: 0})
	if _, err := a.CheckHammer(0); err != nil {
		t.Fatalf("CheckHammer: %v", err)
	}
	a.HammerFall()

	got := a.Log(nil, false)
	if !strings.Contains(got, "* None bid") {
		t.Fatalf("unsold item should log as none bid:\n%s", got)
	}
}
