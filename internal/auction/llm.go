package auction

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/jiangjiechen/auction-arena/provider"
)

// PromptRecord is one provider round-trip kept for the session dump.
type PromptRecord struct {
	Messages []provider.Message `json:"messages"`
	Result   string             `json:"result"`
	Tag      string             `json:"tag"`
}

// PlanChange records whether an agent revised its priorities at a stage of
// the auction, with the priorities it settled on.
type PlanChange struct {
	Stage      string `json:"stage"`
	Changed    bool   `json:"changed"`
	Priorities string `json:"priorities"`
}

// LLMBidder drives its decisions through a chat provider: it plans against
// the catalog, bids in free text, summarizes each item into a belief status
// JSON, and optionally replans for the remaining items.
type LLMBidder struct {
	agentCore

	llm         provider.Provider
	temperature float64
	recorder    UsageRecorder

	planStrategy   PlanStrategy
	correctBelief  bool
	enableLearning bool

	systemMsg    string
	planInstruct string
	curPlan      string
	learnings    string

	statusQuo  map[string]any
	bidHistory []provider.Message
	dialogue   []provider.Message

	promptHistory []PromptRecord
	changesOfPlan []PlanChange

	llmTokenCount int
	cost          float64

	selfBeliefErrorCnt  int
	totalSelfBeliefCnt  int
	otherBeliefErrorCnt int
	totalOtherBeliefCnt int

	budgetErrorHistory []DiscrepancyRecord
	profitErrorHistory []DiscrepancyRecord
	winBidErrorHistory []DiscrepancyRecord
}

// NewLLMBidder builds a model-driven bidder from its roster record.
func NewLLMBidder(spec BidderSpec, llm provider.Provider, deps BidderDeps) *LLMBidder {
	strategy := PlanStrategy(spec.PlanStrategy)
	if strategy == "" {
		strategy = PlanStatic
	}
	b := &LLMBidder{
		agentCore:      newAgentCore(spec, deps),
		llm:            llm,
		temperature:    spec.Temperature,
		recorder:       deps.Recorder,
		planStrategy:   strategy,
		correctBelief:  spec.CorrectBelief,
		enableLearning: spec.EnableLearning,
		statusQuo:      map[string]any{},
	}
	b.systemMsg = systemMessage(b.name, b.desire)
	b.dialogue = append(b.dialogue, provider.System(b.systemMsg), provider.Assistant(""))
	return b
}

func (b *LLMBidder) LearningEnabled() bool { return b.enableLearning }

func (b *LLMBidder) Learnings() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.learnings
}

func (b *LLMBidder) Cost() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cost
}

func (b *LLMBidder) runLLM(ctx context.Context, messages []provider.Message, tag string) (string, error) {
	maxTokens := provider.OutputBudget(b.llm, messages, 192)
	result, usage, err := b.llm.Chat(ctx, messages, provider.Options{
		Temperature: b.temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("bidder %s: chat completion: %w", b.name, err)
	}

	b.mu.Lock()
	b.llmTokenCount = b.llm.CountTokens(messages)
	b.cost += usage.Cost
	b.promptHistory = append(b.promptHistory, PromptRecord{Messages: messages, Result: result, Tag: tag})
	b.mu.Unlock()

	if b.recorder != nil {
		b.recorder.RecordLLMCall(b.llm.ModelName(), usage.PromptTokens, usage.CompletionTokens, usage.Cost)
	}
	return result, nil
}

func (b *LLMBidder) appendDialogue(msgs ...provider.Message) {
	b.mu.Lock()
	b.dialogue = append(b.dialogue, msgs...)
	b.mu.Unlock()
}

// LearnFromPrevAuction distills durable strategy notes from a past auction
// log and pins them to the system message for the rest of the session.
func (b *LLMBidder) LearnFromPrevAuction(ctx context.Context, pastLearnings, pastAuctionLog string) (string, error) {
	if !b.enableLearning {
		return "", nil
	}
	instruct := learningInstruction(pastAuctionLog, pastLearnings)
	result, err := b.runLLM(ctx, []provider.Message{provider.Human(instruct)}, "learn_0")
	if err != nil {
		return "", err
	}
	b.appendDialogue(provider.Human(instruct), provider.Assistant(result))

	learnings := strings.Join(extractNumberedList(result), "\n")
	b.mu.Lock()
	b.learnings = learnings
	if learnings != "" {
		b.systemMsg += fmt.Sprintf("\n\nHere are your key learning points and practical tips from a previous auction. You can use them to guide this auction:\n```\n%s\n```", learnings)
	}
	b.mu.Unlock()

	b.logger.Printf("learn from previous auction: %s (%s)", b.name, b.modelName)
	return result, nil
}

func (b *LLMBidder) PlanInstruction(items []*Item) string {
	b.setItems(items)
	return planInstruction(b.name, b.Budget(), len(items), b.itemsValueString(items), b.desire, b.enableLearning)
}

// InitPlan derives the initial priorities for the catalog. The belief status
// starts from the known roster with zero profits and no winnings.
func (b *LLMBidder) InitPlan(ctx context.Context, instruct string) (string, error) {
	b.mu.Lock()
	profits := map[string]any{}
	winnings := map[string]any{}
	for name := range b.allBiddersStatus {
		profits[name] = float64(0)
		winnings[name] = map[string]any{}
	}
	b.statusQuo = map[string]any{
		"remaining_budget": float64(b.budget),
		"total_profits":    profits,
		"winning_bids":     winnings,
	}
	strategy := b.planStrategy
	system := b.systemMsg
	b.mu.Unlock()

	if strategy == PlanNone {
		b.mu.Lock()
		b.planInstruct = ""
		b.curPlan = ""
		b.mu.Unlock()
		return "", nil
	}

	messages := []provider.Message{provider.System(system), provider.Human(instruct)}
	result, err := b.runLLM(ctx, messages, "plan_0")
	if err != nil {
		return "", err
	}
	b.appendDialogue(provider.Human(instruct), provider.Assistant(result))

	priorities := "{}"
	if obj, jerr := lastJSONObject(result); jerr == nil {
		if raw, merr := json.Marshal(obj); merr == nil {
			priorities = string(raw)
		}
	}

	b.mu.Lock()
	b.curPlan = result
	b.planInstruct = instruct
	b.changesOfPlan = append(b.changesOfPlan, PlanChange{
		Stage:      fmt.Sprintf("%d (Initial)", b.curItemIdx),
		Changed:    false,
		Priorities: priorities,
	})
	b.mu.Unlock()
	return result, nil
}

// BidInstruction builds the message soliciting a bid. On the opening round
// of an item, static and no-plan agents are reminded of the status quo since
// they never replan it into context.
func (b *LLMBidder) BidInstruction(auctioneerMsg string, round int) string {
	personalized := strings.ReplaceAll(auctioneerMsg, b.name, fmt.Sprintf("You (%s)", b.name))
	instruct := bidInstruction(personalized, b.name, b.desire, b.enableLearning)

	if round == 0 {
		b.mu.RLock()
		strategy := b.planStrategy
		statusQuo := b.statusQuo
		b.mu.RUnlock()
		if strategy == PlanStatic || strategy == PlanNone {
			raw, err := json.MarshalIndent(statusQuo, "", "    ")
			if err == nil {
				instruct = fmt.Sprintf("The status quo of this auction so far is:\n\"%s\"\n\n%s\n---\n", raw, instruct)
			}
		}
	} else {
		instruct = fmt.Sprintf("Now, the auctioneer says: \"%s\"", personalized)
	}
	b.appendDialogue(provider.Human(instruct), provider.Assistant(""))
	return instruct
}

// Bid asks the model for a bidding decision against the running per-item
// transcript. The returned text still has to be parsed into a price.
func (b *LLMBidder) Bid(ctx context.Context, instruct string, _ RoundState) (BidResult, error) {
	bidMsg := provider.Human(instruct)

	b.mu.Lock()
	var messages []provider.Message
	messages = append(messages, provider.System(b.systemMsg))
	if b.planStrategy != PlanNone {
		messages = append(messages, provider.Human(b.planInstruct), provider.Assistant(b.curPlan))
	}
	b.bidHistory = append(b.bidHistory, bidMsg)
	messages = append(messages, b.bidHistory...)
	b.mu.Unlock()

	result, err := b.runLLM(ctx, messages, fmt.Sprintf("bid_%d", b.curItemIndex()))
	if err != nil {
		return BidResult{}, err
	}

	b.mu.Lock()
	b.bidHistory = append(b.bidHistory, provider.Assistant(result))
	b.totalBidCnt++
	b.mu.Unlock()
	b.appendDialogue(provider.Human(""), provider.Assistant(result))
	return BidResult{Raw: result}, nil
}

func (b *LLMBidder) curItemIndex() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.curItemIdx
}

func (b *LLMBidder) RebidInstruction(auctioneerMsg string) string {
	b.appendDialogue(provider.Human(auctioneerMsg), provider.Assistant(""))
	return auctioneerMsg
}

// RebidForFailure re-solicits a bid after a sanity-check failure or an
// unparsable response, counting the miss.
func (b *LLMBidder) RebidForFailure(ctx context.Context, instruct string, st RoundState) (BidResult, error) {
	res, err := b.Bid(ctx, instruct, st)
	if err != nil {
		return BidResult{}, err
	}
	b.mu.Lock()
	b.failedBidCnt++
	b.mu.Unlock()
	return res, nil
}

func (b *LLMBidder) SummarizeInstruction(biddingHistory, hammerMsg, winLoseMsg string) string {
	itemName := ""
	if item := b.curItem(); item != nil {
		itemName = item.Name
	}
	b.mu.RLock()
	prevStatus := statusJSONToText(b.statusQuo)
	b.mu.RUnlock()
	return summarizeInstruction(itemName, biddingHistory, hammerMsg, winLoseMsg, b.name, prevStatus)
}

// Summarize has the model update its belief status from the item's bidding
// history, then runs the status through structural validation and belief
// tracking, asking for revisions until the report is sound or the
// self-correction budget runs out.
func (b *LLMBidder) Summarize(ctx context.Context, instruct string) (string, error) {
	b.recordRoundFigures()

	summMsg := provider.Human(instruct)
	b.mu.RLock()
	messages := []provider.Message{provider.System(b.systemMsg), summMsg}
	b.mu.RUnlock()

	statusText, err := b.runLLM(ctx, messages, fmt.Sprintf("summarize_%d", b.curItemIndex()))
	if err != nil {
		return "", err
	}
	b.appendDialogue(summMsg, provider.Assistant(statusText))
	b.mu.Lock()
	b.bidHistory = append(b.bidHistory, summMsg, provider.Assistant(statusText))
	b.mu.Unlock()

	for cnt := 0; cnt <= 3; cnt++ {
		var sanityMsg, consistencyMsg string
		status, jerr := lastJSONObject(statusText)
		if jerr != nil {
			sanityMsg = "- " + sanityCheckStatusJSON(nil)
		} else if msg := sanityCheckStatusJSON(status); msg != "" {
			sanityMsg = "- " + msg
		} else {
			consistencyMsg = b.beliefTracking(status)
		}

		if sanityMsg == "" && (consistencyMsg == "" || !b.correctBelief) {
			break
		}

		errMsg := strings.TrimSpace(fmt.Sprintf(
			"As %s, here are some error(s) of your summary of the status JSON:\n%s\n%s\n\nPlease revise the status JSON based on the errors. Don't apologize. Just give me the revised status JSON.",
			b.name, strings.TrimSpace(sanityMsg), strings.TrimSpace(consistencyMsg)))

		messages = append(messages, provider.Assistant(statusText), provider.Human(errMsg))
		statusText, err = b.runLLM(ctx, messages, fmt.Sprintf("summarize_%d", b.curItemIndex()))
		if err != nil {
			return "", err
		}
		b.appendDialogue(provider.Human(errMsg), provider.Assistant(statusText))
	}

	if status, jerr := lastJSONObject(statusText); jerr == nil {
		b.mu.Lock()
		b.statusQuo = status
		b.mu.Unlock()
	} else {
		b.logger.Printf("bidder %s: final status has no parsible JSON, keeping empty belief", b.name)
		b.mu.Lock()
		b.statusQuo = map[string]any{}
		b.mu.Unlock()
	}
	return statusText, nil
}

func (b *LLMBidder) ReplanInstruction() string {
	b.mu.RLock()
	statusQuo := statusJSONToText(b.statusQuo)
	b.mu.RUnlock()
	return replanInstruction(statusQuo, b.itemsValueString(b.remainingItems()), b.name, b.desire, b.enableLearning)
}

// Replan revises the priority list for the remaining items. Static and
// no-plan agents skip it and just roll over to the next item with a clean
// per-item transcript.
func (b *LLMBidder) Replan(ctx context.Context, instruct string) (string, error) {
	if b.planStrategy == PlanNone || b.planStrategy == PlanStatic {
		b.mu.Lock()
		b.bidHistory = nil
		b.mu.Unlock()
		b.advanceItem()
		return "Skip replanning for bidders with static or no plan.", nil
	}

	b.mu.RLock()
	messages := []provider.Message{
		provider.System(b.systemMsg),
		provider.Human(b.planInstruct),
		provider.Assistant(b.curPlan),
		provider.Human(instruct),
	}
	oldPlanText := b.curPlan
	b.mu.RUnlock()

	tag := fmt.Sprintf("plan_%d", b.curItemIndex()+1)
	result, err := b.runLLM(ctx, messages, tag)
	if err != nil {
		return "", err
	}

	newPlan, jerr := lastJSONObject(result)
	for cnt := 0; jerr != nil && cnt < 2; cnt++ {
		errMsg := "Your response does not contain a JSON-format priority list for items. Please revise your plan."
		messages = append(messages, provider.Assistant(result), provider.Human(errMsg))
		result, err = b.runLLM(ctx, messages, tag)
		if err != nil {
			return "", err
		}
		b.appendDialogue(provider.Human(errMsg), provider.Assistant(result))
		newPlan, jerr = lastJSONObject(result)
	}
	if jerr != nil {
		newPlan = map[string]any{}
	}

	oldPlan, oerr := lastJSONObject(oldPlanText)
	if oerr != nil {
		oldPlan = map[string]any{}
	}

	priorities := "{}"
	if raw, merr := json.Marshal(newPlan); merr == nil {
		priorities = string(raw)
	}

	itemName := "no item left"
	if item := b.curItem(); item != nil {
		itemName = item.Name
	}

	b.mu.Lock()
	b.changesOfPlan = append(b.changesOfPlan, PlanChange{
		Stage:      fmt.Sprintf("%d (%s)", b.curItemIdx+1, itemName),
		Changed:    planChanged(oldPlan, newPlan),
		Priorities: priorities,
	})
	b.planInstruct = instruct
	b.curPlan = result
	b.bidHistory = nil
	b.mu.Unlock()
	b.advanceItem()

	b.appendDialogue(provider.Human(instruct), provider.Assistant(result))
	return result, nil
}

// planChanged reports whether any item in the new priority list differs
// from the old one, including items that only appear in the new list.
func planChanged(oldPlan, newPlan map[string]any) bool {
	for k, v := range newPlan {
		if !reflect.DeepEqual(oldPlan[k], v) {
			return true
		}
	}
	return false
}
