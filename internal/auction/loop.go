package auction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
)

// Memo is what a finished session leaves behind for later runs: the log
// without model attribution, the personal reports, and per-bidder learnings
// that a learning-enabled agent picks up at the start of its next session.
type Memo struct {
	AuctionLog string             `json:"auction_log"`
	MemoText   []string           `json:"memo_text"`
	Profit     map[string]int     `json:"profit"`
	TotalCost  float64            `json:"total_cost"`
	Learnings  map[string]string  `json:"learnings"`
	ModelInfo  map[string]string  `json:"model_info"`
}

// SessionResult is everything a completed auction session produced.
type SessionResult struct {
	AuctionHash string
	TotalCost   float64
	Log         string
	Reports     []string
	Monitors    []Monitor
	Memo        *Memo
}

// Observer receives auction progress events. All methods may be called from
// the session goroutine only.
type Observer interface {
	ItemPresented(name string, remaining int)
	BidRound(item string, round int)
	ItemSold(item string, price, trueValue int)
	ItemUnsold(item string)
}

// Runner wires an auctioneer, a roster of bidders, the bidding coordinator
// and the bid parser into a full session: plan, then per item a bid/rebid
// cycle until the hammer falls, then summarize and replan.
type Runner struct {
	auctioneer  *Auctioneer
	bidders     []Bidder
	coordinator *Coordinator
	parser      *BidParser
	rebidCap    int
	auctionHash string
	logger      *log.Logger
	observer    Observer
}

// RunnerOptions configure a session runner.
type RunnerOptions struct {
	Auctioneer  *Auctioneer
	Bidders     []Bidder
	Coordinator *Coordinator
	Parser      *BidParser
	RebidCap    int
	AuctionHash string
	Logger      *log.Logger
	Observer    Observer
}

func NewRunner(opts RunnerOptions) *Runner {
	if opts.RebidCap <= 0 {
		opts.RebidCap = 3
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[AUCTION] ", log.LstdFlags)
	}
	return &Runner{
		auctioneer:  opts.Auctioneer,
		bidders:     opts.Bidders,
		coordinator: opts.Coordinator,
		parser:      opts.Parser,
		rebidCap:    opts.RebidCap,
		auctionHash: opts.AuctionHash,
		logger:      opts.Logger,
		observer:    opts.Observer,
	}
}

// Bidders exposes the roster, for monitors.
func (r *Runner) Bidders() []Bidder { return r.bidders }

// Auctioneer exposes the state machine, for monitors.
func (r *Runner) Auctioneer() *Auctioneer { return r.auctioneer }

// Run executes one full auction session. A past memo, when given, feeds the
// learning round of learning-enabled bidders before planning starts.
func (r *Runner) Run(ctx context.Context, past *Memo) (*SessionResult, error) {
	a := r.auctioneer

	// learning round
	if past != nil {
		for _, b := range r.bidders {
			if !b.LearningEnabled() {
				continue
			}
			if _, err := b.LearnFromPrevAuction(ctx, past.Learnings[b.Name()], past.AuctionLog); err != nil {
				return nil, fmt.Errorf("learning round: %w", err)
			}
		}
	}

	// plan round
	status := a.GatherAllStatus(r.bidders)
	for _, b := range r.bidders {
		b.SetAllBiddersStatus(status)
	}
	planInstructs := make([]string, len(r.bidders))
	for i, b := range r.bidders {
		planInstructs[i] = b.PlanInstruction(a.Items())
	}
	if _, err := r.coordinator.RunPlan(ctx, r.bidders, planInstructs); err != nil {
		return nil, fmt.Errorf("plan round: %w", err)
	}

	for !a.EndAuction() {
		curItem, err := a.PresentItem()
		if err != nil {
			return nil, err
		}
		if r.observer != nil {
			r.observer.ItemPresented(curItem.Name, a.RemainingCount())
		}
		r.logger.Printf("presenting %s at $%d (%d item(s) after this one)", curItem.Name, curItem.Price, a.RemainingCount())

		if err := r.runBiddingWar(ctx, curItem); err != nil {
			return nil, err
		}
		if err := r.settleItem(ctx, curItem); err != nil {
			return nil, err
		}
	}

	return r.finish()
}

// runBiddingWar drives the round loop for one item until the hammer
// decision says it is over.
func (r *Runner) runBiddingWar(ctx context.Context, curItem *Item) error {
	a := r.auctioneer
	round := 0
	for {
		if r.observer != nil {
			r.observer.BidRound(curItem.Name, round)
		}
		msg := a.AskForBid(round)
		st := RoundState{Round: round, CurBid: a.PrevRoundMaxBid(), MinMarkupPct: a.MinMarkupPct()}

		leader := a.HighestBidder()
		var active []Bidder
		var instructs []string
		for _, b := range r.bidders {
			if b == leader || b.Withdrawn() {
				continue
			}
			active = append(active, b)
			instructs = append(instructs, b.BidInstruction(msg, round))
		}

		results, err := r.coordinator.RunBid(ctx, active, instructs, st)
		if err != nil {
			return err
		}
		for i, b := range active {
			price, raw, err := r.resolveBid(ctx, b, results[i], st)
			if err != nil {
				return err
			}
			b.SetWithdraw(price)
			a.RecordBid(BidEvent{Bidder: b, Bid: price, Raw: raw, Round: round})
		}

		sold, err := a.CheckHammer(round)
		if err != nil {
			return err
		}
		if sold {
			return nil
		}
		round++
		if a.FailToSell() {
			// discounted re-offer: everyone is back in and rounds restart
			for _, b := range r.bidders {
				b.SetWithdraw(0)
			}
			round = 0
		}
	}
}

// resolveBid turns a coordinator result into a validated price. Unparsable
// responses and sanity-check failures each get up to rebidCap retries;
// beyond that the bidder is forcibly withdrawn.
func (r *Runner) resolveBid(ctx context.Context, b Bidder, res BidResult, st RoundState) (int, string, error) {
	var price int
	raw := res.Raw
	var err error
	if res.Priced {
		price = res.Price
	} else {
		price, raw, err = r.parsePrice(ctx, b, raw, st)
		if err != nil {
			return 0, "", err
		}
	}

	for attempts := 0; ; {
		failMsg := b.SanityCheckBid(price, st.CurBid, st.MinMarkupPct)
		if failMsg == "" {
			return price, raw, nil
		}
		attempts++
		if attempts > r.rebidCap {
			r.logger.Printf("%s exhausted %d rebid attempt(s), forcing withdrawal", b.Name(), r.rebidCap)
			return -1, raw, nil
		}
		rebidMsg := r.auctioneer.AskForRebid(failMsg, price)
		instruct := b.RebidInstruction(rebidMsg)
		rebid, err := b.RebidForFailure(ctx, instruct, st)
		if err != nil {
			return 0, "", err
		}
		if rebid.Priced {
			price, raw = rebid.Price, rebid.Raw
			continue
		}
		price, raw, err = r.parsePrice(ctx, b, rebid.Raw, st)
		if err != nil {
			return 0, "", err
		}
	}
}

// parsePrice runs raw bid text through the parser, re-soliciting a clearer
// decision when nothing could be extracted.
func (r *Runner) parsePrice(ctx context.Context, b Bidder, raw string, st RoundState) (int, string, error) {
	for attempts := 0; ; attempts++ {
		price, err := r.parser.Parse(ctx, raw)
		if err == nil {
			return price, raw, nil
		}
		if !errors.Is(err, ErrNoBid) {
			return 0, "", err
		}
		if attempts >= r.rebidCap {
			r.logger.Printf("%s gave no parsable decision after %d attempt(s), forcing withdrawal", b.Name(), attempts)
			return -1, raw, nil
		}
		res, err := b.Bid(ctx, `You must be clear about your bidding decision, say either "I'm out!" or "I bid $xxx!". Please rebid.`, st)
		if err != nil {
			return 0, "", err
		}
		raw = res.Raw
	}
}

// settleItem runs the summarize and replan stages once an item's bidding
// war is over, then drops the hammer.
func (r *Runner) settleItem(ctx context.Context, curItem *Item) error {
	a := r.auctioneer
	winner := a.HighestBidder()
	finalPrice := a.HighestBid()

	history := a.AllBiddingHistoryString()
	hammerMsg := a.HammerMsg()
	summInstructs := make([]string, len(r.bidders))
	for i, b := range r.bidders {
		var winLose string
		if b == winner {
			winLose = b.WinBid(curItem, finalPrice)
		} else {
			winLose = b.LoseBid(curItem)
		}
		summInstructs[i] = b.SummarizeInstruction(history, hammerMsg, winLose)
	}

	status := a.GatherAllStatus(r.bidders)
	for _, b := range r.bidders {
		b.SetAllBiddersStatus(status)
	}
	if _, err := r.coordinator.RunSummarize(ctx, r.bidders, summInstructs); err != nil {
		return fmt.Errorf("summarize round for %s: %w", curItem.Name, err)
	}

	if a.RemainingCount() > 0 {
		replanInstructs := make([]string, len(r.bidders))
		for i, b := range r.bidders {
			replanInstructs[i] = b.ReplanInstruction()
		}
		if _, err := r.coordinator.RunReplan(ctx, r.bidders, replanInstructs); err != nil {
			return fmt.Errorf("replan round for %s: %w", curItem.Name, err)
		}
	}

	if r.observer != nil {
		if winner != nil {
			r.observer.ItemSold(curItem.Name, finalPrice, curItem.TrueValue)
		} else {
			r.observer.ItemUnsold(curItem.Name)
		}
	}
	a.HammerFall()
	return nil
}

func (r *Runner) finish() (*SessionResult, error) {
	a := r.auctioneer

	totalCost := r.parser.Cost()
	for _, b := range r.bidders {
		totalCost += b.Cost()
	}
	totalCost = math.Round(totalCost*10000) / 10000

	reports := make([]string, len(r.bidders))
	monitors := make([]Monitor, len(r.bidders))
	profits := make(map[string]int, len(r.bidders))
	learnings := make(map[string]string, len(r.bidders))
	models := make(map[string]string, len(r.bidders))
	for i, b := range r.bidders {
		reports[i] = b.ProfitReport()
		monitors[i] = b.Snapshot()
		profits[b.Name()] = b.Profit()
		learnings[b.Name()] = b.Learnings()
		models[b.Name()] = b.ModelName()
	}

	result := &SessionResult{
		AuctionHash: r.auctionHash,
		TotalCost:   totalCost,
		Log:         a.Log(reports, true),
		Reports:     reports,
		Monitors:    monitors,
		Memo: &Memo{
			AuctionLog: a.Log(nil, false),
			MemoText:   reports,
			Profit:     profits,
			TotalCost:  totalCost,
			Learnings:  learnings,
			ModelInfo:  models,
		},
	}
	a.FinishAuction()
	r.logger.Printf("auction %s finished, total provider cost $%.4f", r.auctionHash, totalCost)
	return result, nil
}
