package auction

import (
	"fmt"
	"strings"
)

// Desire is a bidder's terminal objective for the session.
type Desire string

const (
	DesireMaximizeProfit Desire = "maximize_profit"
	DesireMaximizeItems  Desire = "maximize_items"
)

var desireDesc = map[Desire]string{
	DesireMaximizeProfit: "Your primary objective is to secure the highest profit at the end of this auction, compared to all other bidders",
	DesireMaximizeItems:  "Your primary objective is to win the highest number of items at the end of this auction, compared to everyone else",
}

const learningStatement = " and your learnings from previous auctions"

const systemMessageTemplate = `You are %s, who is attending an ascending-bid auction as a bidder. This auction will have some other bidders to compete with you in bidding wars. The price is gradually raised, bidders drop out until finally only one bidder remains, and that bidder wins the item at this final price. Remember: %s.

Here are some must-know rules for this auction:

1. Item Values: The true value of an item means its resale value in the broader market, which you don't know. You will have a personal estimation of the item value. However, note that your estimated value could deviate from the true value, due to your potential overestimation or underestimation of this item.
2. Winning Bid: The highest bid wins the item. Your profit from winning an item is determined by the difference between the item's true value and your winning bid. You should try to win an item at a bid as minimal as possible to save your budget.`

func systemMessage(name string, desire Desire) string {
	return fmt.Sprintf(systemMessageTemplate, name, desireDesc[desire])
}

const priorityScaleDesc = `each item should be represented as a key-value pair, where the key is the item name and the value is its priority on the scale from 1-3. An example output is: {"Fixture Y": 3, "Module B": 2, "Product G": 2}. The descriptions of the priority scale of items are as follows.
    * 1 - This item is the least important. Consider giving it up if necessary to save money for the rest of the auction.
    * 2 - This item holds value but isn't a top priority for the bidder. Could bid on it if you have enough budget.
    * 3 - This item is of utmost importance and is a top priority for the bidder in the rest of the auction.`

func planInstruction(name string, budget, itemNum int, itemsInfo string, desire Desire, withLearning bool) string {
	return fmt.Sprintf(`As %s, you have a total budget of $%d. This auction has a total of %d items to be sequentially presented, they are:
%s

---

Please plan for your bidding strategy for the auction based on the information%s. A well-thought-out plan positions you advantageously against competitors, allowing you to allocate resources effectively. With a clear strategy, you can make decisions rapidly and confidently, especially under the pressure of the auction environment. Remember: %s.

After articulate your thinking, in you plan, assign a priority level to each item. Present the priorities for all items in a JSON format, %s`,
		name, budget, itemNum, itemsInfo, learningSuffix(withLearning), desireDesc[desire], priorityScaleDesc)
}

func bidInstruction(auctioneerMsg, name string, desire Desire, withLearning bool) string {
	return fmt.Sprintf(`Now, the auctioneer says: "%s"

---

As %s, you have to decide whether to bid on this item or withdraw and explain why, according to your plan%s. Remember, %s.

Here are some common practices of bidding:
1. Showing your interest by bidding with or slightly above the starting price of this item, then gradually increase your bid.
2. Think step by step of the pros and cons and the consequences of your action (e.g., remaining budget in future bidding) in order to achieve your primary objective.

Give your reasons first, then make your final decision clearly. You should either withdraw (saying "I'm out!") or make a higher bid for this item (saying "I bid $xxx!").`,
		auctioneerMsg, name, learningSuffix(withLearning), desireDesc[desire])
}

func summarizeInstruction(curItem, biddingHistory, hammerMsg, winLoseMsg, name, prevStatus string) string {
	return fmt.Sprintf(`Here is the history of the bidding war of %s:
"%s"

The auctioneer concludes: "%s"

---

%s
As %s, you have to update the status of the auction based on this round of bidding. Here's your previous status:
`+"```\n%s\n```"+`

Summarize the notable behaviors of all bidders in this round of bidding for future reference. Then, update the status JSON regarding the following information:
- 'remaining_budget': The remaining budget of you, expressed as a numerical value.
- 'total_profits': The total profits achieved so far for each bidder, where a numerical value following a bidder's name. No equation is needed, just the numerical value.
- 'winning_bids': The winning bids for every item won by each bidder, listed as key-value pairs, for example, {"bidder_name": {"item_name_1": winning_bid}, {"item_name_2": winning_bid}, ...}. If a bidder hasn't won any item, then the value for this bidder should be an empty dictionary {}.
- Only include the bidders mentioned in the given text. If a bidder is not mentioned (e.g. Bidder 4 in the following example), then do not include it in the JSON object.

After summarizing the bidding history, you must output the current status in a parsible JSON format. An example output looks like:
`+"```"+`
{"remaining_budget": 8000, "total_profits": {"Bidder 1": 1300, "Bidder 2": 1800, "Bidder 3": 0}, "winning_bids": {"Bidder 1": {"Item 2": 1200, "Item 3": 1000}, "Bidder 2": {"Item 1": 2000}, "Bidder 3": {}}}
`+"```",
		curItem, biddingHistory, strings.TrimSpace(hammerMsg), strings.TrimSpace(winLoseMsg), name, prevStatus)
}

func replanInstruction(statusQuo, remainingItemsInfo, name string, desire Desire, withLearning bool) string {
	return fmt.Sprintf(`The current status of you and other bidders is as follows:
`+"```\n%s\n```"+`

Here are the remaining items in the rest of the auction:
"%s"

As %s, considering the current status%s, review your strategies. Adjust your plans based on the outcomes and new information to achieve your primary objective. This iterative process ensures that your approach remains relevant and effective. Please do the following:
1. Always remember: %s.
2. Determine and explain if there's a need to update the priority list of remaining items based on the current status.
3. Present the updated priorities in a JSON format, %s`,
		statusQuo, remainingItemsInfo, name, learningSuffix(withLearning), desireDesc[desire], priorityScaleDesc)
}

func learningInstruction(pastAuctionLog, pastLearnings string) string {
	return fmt.Sprintf(`Review and reflect on the historical data provided from a past auction.

%s

Here are your past learnings:

%s

Based on the auction log, formulate or update your learning points that could be advantageous to your strategies in the future. Your learnings should be strategic, and of universal relevance and practical use for future auctions. Consolidate your learnings into a concise numbered list of sentences.`,
		pastAuctionLog, pastLearnings)
}

func parseBidInstruction(response string) string {
	return fmt.Sprintf(`Your task is to parse a response from a bidder in an auction, and extract the bidding price from the response. Here are the rules:
- If the language model decides to withdraw from the bidding (e.g., saying "I'm out!"), output -1.
- If a bidding price is mentioned (e.g., saying "I bid $xxx!"), output that price number (e.g., $xxx).
Here is the response:

%s

Don't say anything else other than just a number: either the bidding price (e.g., $xxx, with $) or -1.`, response)
}

func learningSuffix(enabled bool) string {
	if enabled {
		return learningStatement
	}
	return ""
}

// ordinal renders 1 as "1st", 2 as "2nd", 11 as "11th" and so on.
func ordinal(n int) string {
	suffix := "th"
	if v := n % 100; v < 11 || v > 13 {
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
