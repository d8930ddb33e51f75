package auction

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrEmptyQueue is returned when an item is requested but none remain.
var ErrEmptyQueue = errors.New("no items left in the auction queue")

// ConsistencyError reports an impossible auctioneer state: positive bids
// recorded in a round without any leader being tracked. It indicates a bug
// in bid recording and aborts the session.
type ConsistencyError struct {
	Round   int
	NumBids int
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("auction state corrupt: no leader tracked but %d positive bid(s) in round %d", e.NumBids, e.Round)
}

// BidEvent is one recorded bidding decision. Bid is the amount for a
// positive bid, -1 for a withdrawal, and 0 for a discount-triggered
// re-offer marker; it never changes once recorded.
type BidEvent struct {
	Bidder Bidder
	Bid    int
	Raw    string
	Round  int
}

// LogEntry is one line of the session-wide auction log.
type LogEntry struct {
	BidderName string
	ModelName  string
	Bid        int
	Round      int
	Hammer     bool
	TrueValue  int
}

// ItemLog collects the log entries of one item's bidding war, headed by the
// item description at the price it was offered at.
type ItemLog struct {
	Desc    string
	Entries []LogEntry
}

// AuctioneerOptions configure a session's auctioneer. The random source is
// injectable so tie-breaking is reproducible under test.
type AuctioneerOptions struct {
	EnableDiscount bool
	MaxDiscounts   int
	MinMarkupPct   float64
	Rng            *rand.Rand
	Logger         *log.Logger
}

// Auctioneer runs the per-item bidding state machine: it presents items,
// records bids, tracks the leader, applies the discount rule, and decides
// when the hammer falls.
type Auctioneer struct {
	mu sync.RWMutex

	enableDiscount bool
	maxDiscounts   int
	minMarkupPct   float64
	rng            *rand.Rand
	logger         *log.Logger

	items           []*Item
	itemsQueue      []*Item
	curItem         *Item
	highestBidder   Bidder
	highestBid      int
	prevRoundMaxBid int
	failToSell      bool
	discountCnt     int
	biddingHistory  map[int][]BidEvent
	auctionLogs     []*ItemLog
}

func NewAuctioneer(opts AuctioneerOptions) *Auctioneer {
	if opts.MaxDiscounts <= 0 {
		opts.MaxDiscounts = 3
	}
	if opts.MinMarkupPct <= 0 {
		opts.MinMarkupPct = 0.1
	}
	if opts.Rng == nil {
		opts.Rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[AUCTIONEER] ", log.LstdFlags)
	}
	return &Auctioneer{
		enableDiscount:  opts.EnableDiscount,
		maxDiscounts:    opts.MaxDiscounts,
		minMarkupPct:    opts.MinMarkupPct,
		rng:             opts.Rng,
		logger:          opts.Logger,
		highestBid:      -1,
		prevRoundMaxBid: -1,
		biddingHistory:  make(map[int][]BidEvent),
	}
}

// InitItems loads the session catalog, undoing any discount left over from
// a previous session.
func (a *Auctioneer) InitItems(items []*Item) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, item := range items {
		item.ResetPrice()
	}
	a.items = items
	a.itemsQueue = append([]*Item(nil), items...)
}

// ShuffleItems randomizes the presentation order.
func (a *Auctioneer) ShuffleItems() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rng.Shuffle(len(a.items), func(i, j int) {
		a.items[i], a.items[j] = a.items[j], a.items[i]
	})
	a.itemsQueue = append([]*Item(nil), a.items...)
}

// SummarizeItemsInfo lists the full catalog for the opening announcement.
func (a *Auctioneer) SummarizeItemsInfo() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var sb strings.Builder
	for _, item := range a.items {
		fmt.Fprintf(&sb, "- %s\n", item.DescString())
	}
	return strings.TrimSpace(sb.String())
}

// PresentItem takes the next item off the queue and makes it current.
func (a *Auctioneer) PresentItem() (*Item, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.itemsQueue) == 0 {
		return nil, ErrEmptyQueue
	}
	a.curItem = a.itemsQueue[0]
	a.itemsQueue = a.itemsQueue[1:]
	return a.curItem, nil
}

func (a *Auctioneer) Items() []*Item {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.items
}

func (a *Auctioneer) CurItem() *Item {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.curItem
}

func (a *Auctioneer) RemainingCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.itemsQueue)
}

func (a *Auctioneer) HighestBidder() Bidder {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.highestBidder
}

func (a *Auctioneer) HighestBid() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.highestBid
}

func (a *Auctioneer) PrevRoundMaxBid() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.prevRoundMaxBid
}

func (a *Auctioneer) MinMarkupPct() float64 { return a.minMarkupPct }

func (a *Auctioneer) FailToSell() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.failToSell
}

func (a *Auctioneer) DiscountEnabled() bool { return a.enableDiscount }

// RecordBid appends a bid event to the round history and recomputes the
// leader by scanning every positive bid recorded so far in that round. A
// strictly greater bid takes the lead; an exact tie re-selects uniformly at
// random between the incumbent and the challenger. Withdrawals never touch
// the leader.
func (a *Auctioneer) RecordBid(ev BidEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.biddingHistory[ev.Round] = append(a.biddingHistory[ev.Round], ev)
	for _, hist := range a.biddingHistory[ev.Round] {
		if hist.Bid <= 0 {
			continue
		}
		if a.highestBid < hist.Bid {
			a.highestBid = hist.Bid
			a.highestBidder = hist.Bidder
		} else if a.highestBid == hist.Bid && a.rng.Intn(2) == 1 {
			a.highestBidder = hist.Bidder
		}
	}

	a.curItemLogLocked().Entries = append(a.curItemLogLocked().Entries, LogEntry{
		BidderName: ev.Bidder.Name(),
		ModelName:  ev.Bidder.ModelName(),
		Bid:        ev.Bid,
		Round:      ev.Round,
	})
}

// curItemLogLocked finds the log section for the current item at its current
// asking price, opening a new section after a discount changes the price.
func (a *Auctioneer) curItemLogLocked() *ItemLog {
	desc := a.curItem.DescString()
	if n := len(a.auctionLogs); n > 0 && a.auctionLogs[n-1].Desc == desc {
		return a.auctionLogs[n-1]
	}
	a.auctionLogs = append(a.auctionLogs, &ItemLog{Desc: desc})
	return a.auctionLogs[len(a.auctionLogs)-1]
}

func (a *Auctioneer) biddingsToStringLocked(round int) string {
	var sb strings.Builder
	for _, ev := range a.biddingHistory[round] {
		if ev.Bid < 0 {
			fmt.Fprintf(&sb, "- %s withdrew\n", ev.Bidder.Name())
		} else {
			fmt.Fprintf(&sb, "- %s: $%d\n", ev.Bidder.Name(), ev.Bid)
		}
	}
	return strings.TrimSpace(sb.String())
}

// AllBiddingHistoryString renders the whole bidding war of the current item,
// round by round.
func (a *Auctioneer) AllBiddingHistoryString() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rounds := make([]int, 0, len(a.biddingHistory))
	for r := range a.biddingHistory {
		rounds = append(rounds, r)
	}
	sort.Ints(rounds)
	var sb strings.Builder
	for _, r := range rounds {
		fmt.Fprintf(&sb, "Round %d:\n%s\n\n", r, a.biddingsToStringLocked(r))
	}
	return strings.TrimSpace(sb.String())
}

// AskForBid builds the solicitation message for a round. Round 0 announces
// the item (at a reduced price if the discount rule fired); later rounds
// summarize the previous round and state the minimum qualifying advance.
func (a *Auctioneer) AskForBid(round int) string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.highestBidder == nil {
		if a.discountCnt > 0 {
			return fmt.Sprintf("Seeing as we've had no takers at the initial price, we're going to lower the starting bid to $%d for %s to spark some interest! Do I have any takers?",
				a.curItem.Price, a.curItem.Name)
		}
		remaining := []string{a.curItem.Name}
		for _, item := range a.itemsQueue {
			remaining = append(remaining, item.Name)
		}
		return fmt.Sprintf("Attention, bidders! %d item(s) left, they are: %s.\n\nNow, please bid on %s. The starting price for bidding for %s is $%d. Anyone interested in this item?",
			len(remaining), strings.Join(remaining, ", "), a.curItem.Name, a.curItem.Name, a.curItem.Price)
	}

	history := a.biddingsToStringLocked(round - 1)
	minIncrease := minBidIncrease(a.curItem.Price, a.minMarkupPct)
	return fmt.Sprintf("Thank you! This is the %s round of bidding for this item:\n%s\n\nNow we have $%d from %s for %s. The minimum increase over this highest bid is $%d. Do I have any advance on $%d?",
		ordinal(round), history, a.highestBid, a.highestBidder.Name(), a.curItem.Name, minIncrease, a.highestBid)
}

// AskForRebid tells a bidder why its last bid was rejected.
func (a *Auctioneer) AskForRebid(failMsg string, bidPrice int) string {
	return fmt.Sprintf("Your bid of $%d failed, because %s: You must reconsider your bid.", bidPrice, failMsg)
}

// HammerMsg is the conclusion announced to all bidders once an item's
// bidding war ends.
func (a *Auctioneer) HammerMsg() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.highestBidder == nil {
		return fmt.Sprintf("Since no one bid on %s, we'll move on to the next item.", a.curItem.Name)
	}
	return fmt.Sprintf("Sold! %s to %s at $%d! The true value for %s is $%d.",
		a.curItem.Name, a.highestBidder.Name(), a.highestBid, a.curItem.Name, a.curItem.TrueValue)
}

// CheckHammer decides whether the current item's round ended it. With no
// leader and no bids the item fails to sell; if discounting still has
// applications left, the price is halved and rounds restart at 0, otherwise
// the item goes permanently unsold. With a leader the item sells when no one
// advanced this round, or immediately when the very first round drew exactly
// one bid.
func (a *Auctioneer) CheckHammer(round int) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.failToSell = false
	numBids := 0
	for _, ev := range a.biddingHistory[round] {
		if ev.Bid > 0 {
			numBids++
		}
	}

	if a.highestBidder == nil {
		if numBids != 0 {
			return false, &ConsistencyError{Round: round, NumBids: numBids}
		}
		a.failToSell = true
		if a.enableDiscount && a.discountCnt < a.maxDiscounts {
			a.curItem.LowerPrice(0.5)
			a.discountCnt++
			a.biddingHistory = make(map[int][]BidEvent)
			a.logger.Printf("no takers for %s, price lowered to $%d (discount %d/%d)",
				a.curItem.Name, a.curItem.Price, a.discountCnt, a.maxDiscounts)
			return false, nil
		}
		return true, nil
	}

	if a.prevRoundMaxBid < 0 && numBids == 1 {
		return true, nil
	}
	a.prevRoundMaxBid = a.highestBid
	return numBids == 0, nil
}

// HammerFall closes out the current item and resets per-item state.
func (a *Auctioneer) HammerFall() {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry := LogEntry{Hammer: true, TrueValue: a.curItem.TrueValue, Bid: a.highestBid}
	if a.highestBidder != nil {
		entry.BidderName = a.highestBidder.Name()
		entry.ModelName = a.highestBidder.ModelName()
		a.logger.Printf("sold: %s ($%d) goes to %s at $%d",
			a.curItem.Name, a.curItem.TrueValue, a.highestBidder.Name(), a.highestBid)
	} else {
		a.logger.Printf("unsold: %s found no buyer", a.curItem.Name)
	}
	a.curItemLogLocked().Entries = append(a.curItemLogLocked().Entries, entry)

	a.curItem = nil
	a.highestBidder = nil
	a.highestBid = -1
	a.prevRoundMaxBid = -1
	a.failToSell = false
	a.discountCnt = 0
	a.biddingHistory = make(map[int][]BidEvent)
}

// EndAuction reports whether every item has been presented.
func (a *Auctioneer) EndAuction() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.itemsQueue) == 0
}

// GatherAllStatus snapshots the ground-truth standing of every bidder, for
// distribution to the agents' belief trackers.
func (a *Auctioneer) GatherAllStatus(bidders []Bidder) map[string]BidderStatus {
	status := make(map[string]BidderStatus, len(bidders))
	for _, b := range bidders {
		status[b.Name()] = BidderStatus{Profit: b.Profit(), ItemsWon: b.ItemsWon()}
	}
	return status
}

// Log renders the session-wide auction log as markdown, optionally followed
// by the bidders' personal reports.
func (a *Auctioneer) Log(personalReports []string, showModelName bool) string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var sb strings.Builder
	sb.WriteString("## Auction Log\n\n")
	for i, itemLog := range a.auctionLogs {
		fmt.Fprintf(&sb, "### %d. %s\n\n", i+1, itemLog.Desc)
		curRound := -1
		hammerHeading := false
		for _, entry := range itemLog.Entries {
			if entry.Hammer {
				if !hammerHeading {
					sb.WriteString("\n#### Hammer price (true value):\n\n")
					hammerHeading = true
				}
			} else if entry.Round != curRound || hammerHeading {
				curRound = entry.Round
				hammerHeading = false
				fmt.Fprintf(&sb, "\n#### %s bid:\n\n", ordinal(entry.Round+1))
			}

			if entry.BidderName == "" {
				sb.WriteString("* None bid\n")
				continue
			}
			price := "Withdrew"
			if entry.Bid != -1 {
				price = fmt.Sprintf("$%d", entry.Bid)
				if entry.Hammer {
					price = fmt.Sprintf("$%d ($%d)", entry.Bid, entry.TrueValue)
				}
			}
			if showModelName {
				fmt.Fprintf(&sb, "* %s (%s): %s\n", entry.BidderName, entry.ModelName, price)
			} else {
				fmt.Fprintf(&sb, "* %s: %s\n", entry.BidderName, price)
			}
		}
		sb.WriteString("\n")
	}

	if len(personalReports) > 0 {
		sb.WriteString("\n## Personal Report")
		for _, report := range personalReports {
			sb.WriteString("\n\n")
			sb.WriteString(report)
		}
	}
	return strings.TrimSpace(sb.String())
}

// FinishAuction clears all session state for reuse across repeated runs.
func (a *Auctioneer) FinishAuction() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.auctionLogs = nil
	a.curItem = nil
	a.highestBidder = nil
	a.highestBid = -1
	a.prevRoundMaxBid = -1
	a.failToSell = false
	a.discountCnt = 0
	a.biddingHistory = make(map[int][]BidEvent)
	a.itemsQueue = nil
	a.items = nil
}
