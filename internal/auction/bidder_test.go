package auction

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanityCheckBid(t *testing.T) {
	b := testRuleBidder("Alice", 500)
	b.setItems([]*Item{testItem("Desk", 400, 600)})

	cases := []struct {
		name            string
		bid             int
		prevRoundMaxBid int
		want            string
	}{
		{"withdrawal always passes", -1, 450, ""},
		{"exact minimum advance passes", 490, 450, ""},
		{"short advance rejected", 485, 450, "you must advance previous highest bid ($450) by at least $40 (10%)."},
		{"over budget rejected", 600, 450, "you have insufficient budget ($500 left)"},
		{"below starting price rejected", 300, -1, "your bid is lower than the starting bid ($400)"},
		{"opening bid at starting price passes", 400, -1, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := b.SanityCheckBid(tc.bid, tc.prevRoundMaxBid, 0.1)
			if got != tc.want {
				t.Fatalf("SanityCheckBid(%d, %d) = %q, want %q", tc.bid, tc.prevRoundMaxBid, got, tc.want)
			}
		})
	}
}

func TestMinBidIncreaseRoundsUp(t *testing.T) {
	if got := minBidIncrease(400, 0.1); got != 40 {
		t.Fatalf("minBidIncrease(400, 0.1) = %d, want 40", got)
	}
	// a fractional markup must never collapse to a free advance
	if got := minBidIncrease(15, 0.1); got != 2 {
		t.Fatalf("minBidIncrease(15, 0.1) = %d, want 2", got)
	}
	if got := minBidIncrease(1, 0.1); got != 1 {
		t.Fatalf("minBidIncrease(1, 0.1) = %d, want 1", got)
	}
}

func TestEstimatedValueTruncates(t *testing.T) {
	b := testRuleBidder("Alice", 500)
	if got := b.estimatedValue(testItem("Desk", 100, 2000)); got != 2200 {
		t.Fatalf("estimated value = %d, want 2200", got)
	}
	b.overestimatePercent = 9
	if got := b.estimatedValue(testItem("Lamp", 100, 333)); got != 362 {
		t.Fatalf("estimated value = %d, want 362", got)
	}
}

func TestSetWithdrawTriState(t *testing.T) {
	b := testRuleBidder("Alice", 500)
	b.setItems([]*Item{testItem("Desk", 400, 600)})

	b.SetWithdraw(-1)
	if !b.Withdrawn() {
		t.Fatal("negative bid should mark the bidder withdrawn")
	}
	b.SetWithdraw(0)
	if b.Withdrawn() {
		t.Fatal("zero should re-open a withdrawn bidder")
	}
	b.SetWithdraw(450)
	if b.Withdrawn() {
		t.Fatal("positive bid should keep the bidder in")
	}
	snap := b.Snapshot()
	if snap.EngagementCount != 1 {
		t.Fatalf("engagement count = %d, want 1", snap.EngagementCount)
	}
	if snap.EngagementHistory["Desk"] != 1 {
		t.Fatalf("engagement history = %v, want Desk: 1", snap.EngagementHistory)
	}
}

func TestWinBidSettlement(t *testing.T) {
	b := testRuleBidder("Alice", 500)
	item := testItem("Desk", 400, 600)

	msg := b.WinBid(item, 450)
	if msg != "Congratulations! You won Desk at $450." {
		t.Fatalf("win message = %q", msg)
	}
	if got := b.Budget(); got != 50 {
		t.Fatalf("budget after win = %d, want 50", got)
	}
	if got := b.Profit(); got != 150 {
		t.Fatalf("profit after win = %d, want 150", got)
	}
	won := b.ItemsWon()
	if len(won) != 1 || won[0].Item.Name != "Desk" || won[0].Bid != 450 {
		t.Fatalf("items won = %v", won)
	}

	report := b.ProfitReport()
	if !strings.Contains(report, "Alice, starting with $500, has won 1 items in this auction, with a total profit of $150.") {
		t.Fatalf("profit report header wrong:\n%s", report)
	}
	if !strings.Contains(report, "Won Desk at $450 over $400, with a true value of $600.") {
		t.Fatalf("profit report detail wrong:\n%s", report)
	}
}

func TestLoadBidderSpecs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bidders.jsonl")
	content := `{"name":"Alice","model":"gpt-4","budget":2000,"desire":"maximize_profit","plan_strategy":"adaptive","correct_belief":true}
{"name":"Bob","model":"rule","budget":1000}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write roster: %v", err)
	}

	specs, err := LoadBidderSpecs(path)
	if err != nil {
		t.Fatalf("LoadBidderSpecs: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("got %d specs, want 2", len(specs))
	}
	if specs[0].Temperature != 0.7 || specs[0].OverestimatePercent != 10 {
		t.Fatalf("defaults not applied: %+v", specs[0])
	}
	if !specs[0].CorrectBelief || specs[0].PlanStrategy != "adaptive" {
		t.Fatalf("spec fields lost: %+v", specs[0])
	}
	if specs[1].Model != "rule" || specs[1].Budget != 1000 {
		t.Fatalf("second spec wrong: %+v", specs[1])
	}
}

func TestLoadBidderSpecsRejectsBadRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bidders.jsonl")
	if err := os.WriteFile(path, []byte(`{"name":"","model":"rule","budget":100}`), 0o644); err != nil {
		t.Fatalf("write roster: %v", err)
	}
	if _, err := LoadBidderSpecs(path); err == nil {
		t.Fatal("nameless bidder should be rejected")
	}
}

func TestLoadItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.jsonl")
	content := `{"id":1,"name":"Desk","price":400,"true_value":600,"desc":"A desk."}
{"id":2,"name":"Lamp","price":100,"true_value":150,"desc":"A lamp."}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	items, err := LoadItems(path)
	if err != nil {
		t.Fatalf("LoadItems: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}

	// a discount must be reversible across sessions
	items[0].LowerPrice(0.5)
	if items[0].Price != 200 {
		t.Fatalf("price after discount = %d, want 200", items[0].Price)
	}
	items[0].ResetPrice()
	if items[0].Price != 400 {
		t.Fatalf("price after reset = %d, want 400", items[0].Price)
	}
}

func TestNewBidderDispatch(t *testing.T) {
	deps := BidderDeps{Logger: quietLogger()}
	if _, ok := mustBidder(t, BidderSpec{Name: "R", Model: "rule", Budget: 100}, deps).(*RuleBidder); !ok {
		t.Fatal("model rule should build a rule bidder")
	}
	if _, ok := mustBidder(t, BidderSpec{Name: "H", Model: "human", Budget: 100}, deps).(*HumanBidder); !ok {
		t.Fatal("model human should build a human bidder")
	}
	if _, err := NewBidder(BidderSpec{Name: "L", Model: "gpt-4", Budget: 100}, deps); err == nil {
		t.Fatal("LLM bidder without a provider factory should fail")
	}
}

func mustBidder(t *testing.T, spec BidderSpec, deps BidderDeps) Bidder {
	t.Helper()
	b, err := NewBidder(spec, deps)
	if err != nil {
		t.Fatalf("NewBidder(%s): %v", spec.Name, err)
	}
	return b
}
