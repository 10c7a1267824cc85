// Package policy maps each listing category to its slot count and
// visibility window. It never touches the store.
package policy

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sifan077/SlotBoard/config"
	"github.com/sifan077/SlotBoard/internal/app/model"
)

// ErrUnknownCategory is returned for categories outside the configured set.
var ErrUnknownCategory = errors.New("unknown category")

// Rule is the capacity pool definition for one category.
type Rule struct {
	Category         model.Category
	Capacity         int
	VisibilityWindow time.Duration
}

// Policy is an immutable category → Rule table.
type Policy struct {
	rules map[model.Category]Rule
	order []model.Category
}

// New builds a policy, rejecting non-positive capacities and windows.
func New(rules ...Rule) (*Policy, error) {
	if len(rules) == 0 {
		return nil, errors.New("policy: at least one category is required")
	}
	p := &Policy{rules: make(map[model.Category]Rule, len(rules))}
	for _, r := range rules {
		if r.Category == "" {
			return nil, errors.New("policy: empty category name")
		}
		if r.Capacity <= 0 {
			return nil, fmt.Errorf("policy: category %q: capacity must be > 0", r.Category)
		}
		if r.VisibilityWindow <= 0 {
			return nil, fmt.Errorf("policy: category %q: visibility window must be > 0", r.Category)
		}
		if _, dup := p.rules[r.Category]; dup {
			return nil, fmt.Errorf("policy: duplicate category %q", r.Category)
		}
		p.rules[r.Category] = r
		p.order = append(p.order, r.Category)
	}
	sort.Slice(p.order, func(i, j int) bool { return p.order[i] < p.order[j] })
	return p, nil
}

// FromConfig converts the queue section of the application config.
func FromConfig(cfg config.QueueConfig) (*Policy, error) {
	rules := make([]Rule, 0, len(cfg.Categories))
	for _, c := range cfg.Categories {
		rules = append(rules, Rule{
			Category:         model.Category(c.Name),
			Capacity:         c.Capacity,
			VisibilityWindow: c.VisibilityWindow,
		})
	}
	return New(rules...)
}

// Lookup returns the rule for category.
func (p *Policy) Lookup(category model.Category) (Rule, error) {
	r, ok := p.rules[category]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return r, nil
}

// Capacity returns the slot count for category, or 0 if it is unknown.
func (p *Policy) Capacity(category model.Category) int {
	return p.rules[category].Capacity
}

// Valid reports whether category is configured.
func (p *Policy) Valid(category model.Category) bool {
	_, ok := p.rules[category]
	return ok
}

// Categories lists every configured category in name order.
func (p *Policy) Categories() []model.Category {
	out := make([]model.Category, len(p.order))
	copy(out, p.order)
	return out
}
