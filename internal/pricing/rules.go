package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrRuleNotFound reports a quote whose symbol has no configured corridor.
var ErrRuleNotFound = errors.New("pricing: no price rule for symbol")

// PriceRule bounds a symbol's price to a corridor.
type PriceRule struct {
	Symbol       string
	MinPrice     decimal.Decimal
	MaxPrice     decimal.Decimal
	InitialPrice decimal.Decimal
}

// Range renders the corridor as "{min}-{max}" using the raw bound values.
func (r PriceRule) Range() string {
	return r.MinPrice.String() + "-" + r.MaxPrice.String()
}

// SeedPrice is the configured initial price, or the corridor midpoint when none is set.
func (r PriceRule) SeedPrice() decimal.Decimal {
	if r.InitialPrice.IsPositive() {
		return r.InitialPrice
	}
	return r.MinPrice.Add(r.MaxPrice).Div(decimal.NewFromInt(2)).Round(2)
}

func (r PriceRule) validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return errors.New("price rule symbol is required")
	}
	if r.MinPrice.IsNegative() {
		return fmt.Errorf("price rule %s: min_price cannot be negative", r.Symbol)
	}
	if !r.MinPrice.LessThan(r.MaxPrice) {
		return fmt.Errorf("price rule %s: min_price %s must be below max_price %s", r.Symbol, r.MinPrice, r.MaxPrice)
	}
	if r.InitialPrice.IsNegative() {
		return fmt.Errorf("price rule %s: initial_price cannot be negative", r.Symbol)
	}
	return nil
}

// RuleTable is an immutable symbol -> corridor lookup, safe for concurrent readers.
type RuleTable struct {
	bySymbol map[string]PriceRule
	symbols  []string
}

// NewRuleTable validates rules and builds the lookup table.
func NewRuleTable(rules []PriceRule) (*RuleTable, error) {
	table := &RuleTable{
		bySymbol: make(map[string]PriceRule, len(rules)),
		symbols:  make([]string, 0, len(rules)),
	}
	for _, rule := range rules {
		if err := rule.validate(); err != nil {
			return nil, err
		}
		if _, dup := table.bySymbol[rule.Symbol]; dup {
			return nil, fmt.Errorf("duplicate price rule for symbol %s", rule.Symbol)
		}
		table.bySymbol[rule.Symbol] = rule
		table.symbols = append(table.symbols, rule.Symbol)
	}
	return table, nil
}

// Lookup returns the rule for an exact symbol match.
func (t *RuleTable) Lookup(symbol string) (PriceRule, bool) {
	if t == nil {
		return PriceRule{}, false
	}
	rule, ok := t.bySymbol[symbol]
	return rule, ok
}

// Rules lists the rules in configuration order.
func (t *RuleTable) Rules() []PriceRule {
	if t == nil {
		return nil
	}
	rules := make([]PriceRule, 0, len(t.symbols))
	for _, symbol := range t.symbols {
		rules = append(rules, t.bySymbol[symbol])
	}
	return rules
}

// Len reports the number of configured symbols.
func (t *RuleTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.symbols)
}
