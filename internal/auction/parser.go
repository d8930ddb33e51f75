package auction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/jiangjiechen/auction-arena/provider"
)

// ErrNoBid reports a bidder response from which no bidding decision could be
// extracted. The caller re-solicits a clearer answer.
var ErrNoBid = errors.New("no bid price found in response")

var bidNumberRe = regexp.MustCompile(`\$?\d+`)

// BidParser turns free-text bidding decisions into prices using a cheap
// oracle model at temperature zero. A withdrawal parses to -1.
type BidParser struct {
	mu       sync.Mutex
	oracle   provider.Provider
	logger   *log.Logger
	recorder UsageRecorder
	cost     float64
}

func NewBidParser(oracle provider.Provider, logger *log.Logger, recorder UsageRecorder) *BidParser {
	if logger == nil {
		logger = log.New(os.Stderr, "[PARSER] ", log.LstdFlags)
	}
	return &BidParser{oracle: oracle, logger: logger, recorder: recorder}
}

// Parse extracts the bid price from a bidder's response: -1 for a
// withdrawal, the last number mentioned otherwise. ErrNoBid when the oracle
// output contains neither.
func (p *BidParser) Parse(ctx context.Context, text string) (int, error) {
	prompt := parseBidInstruction(text)
	result, usage, err := p.oracle.Chat(ctx, []provider.Message{provider.Human(prompt)}, provider.Options{Temperature: 0})
	if err != nil {
		return 0, fmt.Errorf("bid parse oracle: %w", err)
	}

	p.mu.Lock()
	p.cost += usage.Cost
	p.mu.Unlock()
	if p.recorder != nil {
		p.recorder.RecordLLMCall(p.oracle.ModelName(), usage.PromptTokens, usage.CompletionTokens, usage.Cost)
	}

	if strings.Contains(result, "-1") {
		return -1, nil
	}
	cleaned := strings.ReplaceAll(result, ",", "")
	matches := bidNumberRe.FindAllString(cleaned, -1)
	if len(matches) == 0 {
		p.logger.Printf("unparsable bidding decision: %q", truncateForLog(text))
		return 0, ErrNoBid
	}
	last := strings.TrimPrefix(matches[len(matches)-1], "$")
	price, err := strconv.Atoi(last)
	if err != nil {
		return 0, fmt.Errorf("parse bid number %q: %w", last, err)
	}
	return price, nil
}

// Cost is the accumulated oracle spend for this session.
func (p *BidParser) Cost() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cost
}

func truncateForLog(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
