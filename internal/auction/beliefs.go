package auction

import (
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Belief status reported by an agent after each item:
// remaining_budget (own), total_profits (name -> number) and winning_bids
// (name -> item -> number). The schema is the gate; the per-field probes
// below turn a failure into an actionable correction message for the agent.
const beliefSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["remaining_budget", "total_profits", "winning_bids"],
  "properties": {
    "remaining_budget": {"type": "number"},
    "total_profits": {
      "type": "object",
      "additionalProperties": {"type": "number"}
    },
    "winning_bids": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": {"type": "number"}
      }
    }
  }
}`

var beliefSchema = jsonschema.MustCompileString("belief.json", beliefSchemaJSON)

// sanityCheckStatusJSON verifies the shape of a reported belief status.
// Empty string means the report is structurally sound.
func sanityCheckStatusJSON(data map[string]any) string {
	if len(data) == 0 {
		return "Error: No parsible JSON in your response. Possibly due to missing a closing curly bracket '}', or unparsible values (e.g., 'profit': 1000 + 400, instead of 'profit': 1400)."
	}
	if err := beliefSchema.Validate(toAnyMap(data)); err == nil {
		return ""
	}

	for _, key := range []string{"remaining_budget", "total_profits", "winning_bids"} {
		if _, ok := data[key]; !ok {
			return fmt.Sprintf("Error: Missing '%s' field in the status JSON.", key)
		}
	}
	if !isNumber(data["remaining_budget"]) {
		return "Error: 'remaining_budget' should be a number, and only about your remaining budget."
	}
	profits, ok := data["total_profits"].(map[string]any)
	if !ok {
		return "Error: 'total_profits' should be a dictionary of every bidder."
	}
	for bidder, profit := range profits {
		if !isNumber(profit) {
			return fmt.Sprintf("Error: Profit for %s should be a number.", bidder)
		}
	}
	bids, ok := data["winning_bids"].(map[string]any)
	if !ok {
		return "Error: 'winning_bids' should be a dictionary."
	}
	for bidder, won := range bids {
		wonMap, ok := won.(map[string]any)
		if !ok {
			return fmt.Sprintf("Error: Bids for %s should be a dictionary.", bidder)
		}
		for item, amount := range wonMap {
			if !isNumber(amount) {
				return fmt.Sprintf("Error: Amount for %s under %s should be a number.", item, bidder)
			}
		}
	}
	return "Error: status JSON has an unexpected shape."
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int64:
		return true
	}
	return false
}

func toAnyMap(data map[string]any) any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

// statusJSONToText renders a belief status for inclusion in a prompt.
func statusJSONToText(data map[string]any) string {
	var sb strings.Builder
	budget := "unknown"
	if v, ok := data["remaining_budget"]; ok {
		budget = formatNumber(v)
	}
	fmt.Fprintf(&sb, "* Remaining Budget: $%s\n\n", budget)

	sb.WriteString("* Total Profits:\n")
	if profits, ok := data["total_profits"].(map[string]any); ok {
		for _, bidder := range sortedKeys(profits) {
			fmt.Fprintf(&sb, "  * %s: $%s\n", bidder, formatNumber(profits[bidder]))
		}
	}

	sb.WriteString("\n* Winning Bids:\n")
	if bids, ok := data["winning_bids"].(map[string]any); ok {
		for _, bidder := range sortedKeys(bids) {
			fmt.Fprintf(&sb, "  * %s:\n", bidder)
			won, _ := bids[bidder].(map[string]any)
			if len(won) == 0 {
				sb.WriteString("    * No winning bids\n")
				continue
			}
			for _, item := range sortedKeys(won) {
				fmt.Fprintf(&sb, "    * %s: $%s\n", item, formatNumber(won[item]))
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatNumber(v any) string {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", v)
}

// DiscrepancyRecord is one detected mismatch between an agent's belief and
// the ground truth at the time of the check.
type DiscrepancyRecord struct {
	Context  string `json:"context"`
	Believed string `json:"believed"`
	Actual   string `json:"actual"`
}

// beliefTracking compares a structurally valid status report against the
// ground truth distributed by the auctioneer. It returns a correction
// message listing every discrepancy (empty when the belief is accurate) and
// updates the error counters and histories.
func (b *LLMBidder) beliefTracking(status map[string]any) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var sb strings.Builder
	curItemName := ""
	if item := b.curItemLocked(); item != nil {
		curItemName = item.Name
	}

	b.totalSelfBeliefCnt++
	if budget, ok := status["remaining_budget"].(float64); ok && int(budget) != b.budget {
		fmt.Fprintf(&sb, "- Your belief of budget is wrong: you have $%d left, but you think you have $%d left.\n",
			b.budget, int(budget))
		b.selfBeliefErrorCnt++
		b.budgetErrorHistory = append(b.budgetErrorHistory, DiscrepancyRecord{
			Context:  curItemName,
			Believed: formatNumber(status["remaining_budget"]),
			Actual:   fmt.Sprintf("%d", b.budget),
		})
	}

	if profits, ok := status["total_profits"].(map[string]any); ok {
		for _, bidderName := range sortedKeys(profits) {
			truth, known := b.allBiddersStatus[bidderName]
			if !known {
				continue
			}
			if bidderName == b.name {
				b.totalSelfBeliefCnt++
			} else {
				b.totalOtherBeliefCnt++
			}
			believed, _ := profits[bidderName].(float64)
			if int(believed) == truth.Profit {
				continue
			}
			if bidderName == b.name {
				b.selfBeliefErrorCnt++
			} else {
				b.otherBeliefErrorCnt++
			}
			fmt.Fprintf(&sb, "- Your belief of total profit of %s is wrong: %s has earned $%d so far, but you think %s has earned $%d.\n",
				bidderName, bidderName, truth.Profit, bidderName, int(believed))
			b.profitErrorHistory = append(b.profitErrorHistory, DiscrepancyRecord{
				Context:  fmt.Sprintf("%s (%s)", bidderName, curItemName),
				Believed: formatNumber(profits[bidderName]),
				Actual:   fmt.Sprintf("%d", truth.Profit),
			})
		}
	}

	if bids, ok := status["winning_bids"].(map[string]any); ok {
		for _, bidderName := range sortedKeys(bids) {
			truth, known := b.allBiddersStatus[bidderName]
			if !known {
				continue
			}
			if bidderName == b.name {
				b.totalSelfBeliefCnt++
			} else {
				b.totalOtherBeliefCnt++
			}
			believedWon, _ := bids[bidderName].(map[string]any)
			believedNames := sortedKeys(believedWon)
			actualNames := make([]string, 0, len(truth.ItemsWon))
			for _, w := range truth.ItemsWon {
				actualNames = append(actualNames, w.Item.Name)
			}
			if itemListEqual(believedNames, actualNames) {
				continue
			}
			ctxName := bidderName
			if bidderName == b.name {
				b.selfBeliefErrorCnt++
				ctxName = "you"
			} else {
				b.otherBeliefErrorCnt++
			}
			fmt.Fprintf(&sb, "- Your belief of winning items of %s is wrong: %s won %s, but you think %s won %s.\n",
				bidderName, bidderName, strings.Join(actualNames, ", "), bidderName, strings.Join(believedNames, ", "))
			b.winBidErrorHistory = append(b.winBidErrorHistory, DiscrepancyRecord{
				Context:  fmt.Sprintf("%s (%s)", ctxName, curItemName),
				Believed: strings.Join(believedNames, ", "),
				Actual:   strings.Join(actualNames, ", "),
			})
		}
	}
	return sb.String()
}
