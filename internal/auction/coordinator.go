package auction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Op names the batched bidder operation a coordinator run executes.
type Op string

const (
	OpPlan      Op = "plan"
	OpBid       Op = "bid"
	OpSummarize Op = "summarize"
	OpReplan    Op = "replan"
)

// ErrBidderTimeout marks a bidder call that exceeded the per-call deadline.
var ErrBidderTimeout = errors.New("bidder timed out")

// BidderFailure is one failed bidder call inside a batch, identified by the
// bidder's position in the input order.
type BidderFailure struct {
	Index int
	Name  string
	Err   error
}

// BatchError aggregates every failure of a coordinator run. Results for the
// bidders that succeeded are still returned alongside it.
type BatchError struct {
	Op       Op
	Failures []BidderFailure
}

func (e *BatchError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%d (%s): %v", f.Index, f.Name, f.Err))
	}
	return fmt.Sprintf("error(s) in %s:\n%s", e.Op, strings.Join(parts, "\n"))
}

// Coordinator fans a bidder operation out over goroutines, bounded by a
// concurrency limit and a per-call timeout. Results always come back in the
// bidders' input order; a timed-out or failed bidder yields a typed failure
// entry instead of being dropped.
type Coordinator struct {
	threadNum int
	timeout   time.Duration
	logger    *log.Logger
}

func NewCoordinator(threadNum int, timeout time.Duration, logger *log.Logger) *Coordinator {
	if threadNum <= 0 {
		threadNum = 1
	}
	if timeout <= 0 {
		timeout = 600 * time.Second
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[COORD] ", log.LstdFlags)
	}
	return &Coordinator{threadNum: threadNum, timeout: timeout, logger: logger}
}

type batchResult struct {
	idx  int
	text string
	bid  BidResult
	err  error
}

func (c *Coordinator) run(ctx context.Context, op Op, bidders []Bidder, call func(ctx context.Context, i int) (string, BidResult, error)) ([]batchResult, error) {
	sem := make(chan struct{}, c.threadNum)
	out := make(chan batchResult, len(bidders))
	var wg sync.WaitGroup

	for i := range bidders {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			text, bid, err := call(callCtx, i)
			if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				err = fmt.Errorf("%w after %s: %v", ErrBidderTimeout, c.timeout, err)
			}
			out <- batchResult{idx: i, text: text, bid: bid, err: err}
		}(i)
	}
	wg.Wait()
	close(out)

	results := make([]batchResult, len(bidders))
	for res := range out {
		results[res.idx] = res
	}

	var failures []BidderFailure
	for i, res := range results {
		if res.err != nil {
			failures = append(failures, BidderFailure{Index: i, Name: bidders[i].Name(), Err: res.err})
		}
	}
	if len(failures) > 0 {
		sort.Slice(failures, func(i, j int) bool { return failures[i].Index < failures[j].Index })
		c.logger.Printf("%s batch finished with %d failure(s)", op, len(failures))
		return results, &BatchError{Op: op, Failures: failures}
	}
	return results, nil
}

// RunPlan executes InitPlan for every bidder with its own instruction.
func (c *Coordinator) RunPlan(ctx context.Context, bidders []Bidder, instructs []string) ([]string, error) {
	results, err := c.run(ctx, OpPlan, bidders, func(ctx context.Context, i int) (string, BidResult, error) {
		text, err := bidders[i].InitPlan(ctx, instructs[i])
		return text, BidResult{}, err
	})
	return texts(results), err
}

// RunBid solicits a bid from every bidder in the batch.
func (c *Coordinator) RunBid(ctx context.Context, bidders []Bidder, instructs []string, st RoundState) ([]BidResult, error) {
	results, err := c.run(ctx, OpBid, bidders, func(ctx context.Context, i int) (string, BidResult, error) {
		bid, err := bidders[i].Bid(ctx, instructs[i], st)
		return "", bid, err
	})
	bids := make([]BidResult, len(results))
	for i, res := range results {
		bids[i] = res.bid
	}
	return bids, err
}

// RunSummarize executes Summarize for every bidder.
func (c *Coordinator) RunSummarize(ctx context.Context, bidders []Bidder, instructs []string) ([]string, error) {
	results, err := c.run(ctx, OpSummarize, bidders, func(ctx context.Context, i int) (string, BidResult, error) {
		text, err := bidders[i].Summarize(ctx, instructs[i])
		return text, BidResult{}, err
	})
	return texts(results), err
}

// RunReplan executes Replan for every bidder.
func (c *Coordinator) RunReplan(ctx context.Context, bidders []Bidder, instructs []string) ([]string, error) {
	results, err := c.run(ctx, OpReplan, bidders, func(ctx context.Context, i int) (string, BidResult, error) {
		text, err := bidders[i].Replan(ctx, instructs[i])
		return text, BidResult{}, err
	})
	return texts(results), err
}

func texts(results []batchResult) []string {
	out := make([]string, len(results))
	for i, res := range results {
		out[i] = res.text
	}
	return out
}
