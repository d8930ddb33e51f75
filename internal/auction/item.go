package auction

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// Item is one auctionable good. The starting price may be lowered by the
// auctioneer's discount rule; TrueValue is the resale value and stays hidden
// from bidders.
type Item struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Price     int    `json:"price"`
	Desc      string `json:"desc"`
	TrueValue int    `json:"true_value"`

	originalPrice int
}

func (it *Item) String() string { return it.Name }

// DescString renders the item with its current asking price.
func (it *Item) DescString() string {
	return fmt.Sprintf("%s, starting at $%d.", it.Name, it.Price)
}

// Info renders the item's price range, including the hidden true value.
// Auctioneer-side only.
func (it *Item) Info() string {
	return fmt.Sprintf("%s: $%d to $%d.", it.Name, it.Price, it.TrueValue)
}

// LowerPrice discounts the current price by the given fraction.
func (it *Item) LowerPrice(percentage float64) {
	it.Price = int(float64(it.Price) * (1 - percentage))
}

// ResetPrice restores the original catalog price.
func (it *Item) ResetPrice() {
	if it.originalPrice > 0 {
		it.Price = it.originalPrice
	}
}

// rememberPrice pins the catalog price so later discounts can be undone
// between sessions.
func (it *Item) rememberPrice() {
	if it.originalPrice == 0 {
		it.originalPrice = it.Price
	}
}

// LoadItems reads an item catalog file with one JSON record per line.
func LoadItems(path string) ([]*Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open item catalog: %w", err)
	}
	defer f.Close()

	var items []*Item
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var it Item
		if err := json.Unmarshal(raw, &it); err != nil {
			return nil, fmt.Errorf("item catalog line %d: %w", line, err)
		}
		if it.Name == "" || it.Price <= 0 {
			return nil, fmt.Errorf("item catalog line %d: name and positive price required", line)
		}
		it.rememberPrice()
		items = append(items, &it)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read item catalog: %w", err)
	}
	return items, nil
}

// itemListEqual compares two sets of item names ignoring order.
func itemListEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, n := range a {
		seen[n]++
	}
	for _, n := range b {
		seen[n]--
		if seen[n] < 0 {
			return false
		}
	}
	return true
}
