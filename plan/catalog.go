package plan

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Catalog is the static price-identifier to plan table. It is immutable
// after construction and safe for concurrent use.
type Catalog struct {
	byPrice map[string]Plan
	free    Plan
}

// NewCatalog validates plans and indexes them by price identifier.
func NewCatalog(plans ...Plan) (*Catalog, error) {
	c := &Catalog{
		byPrice: make(map[string]Plan, len(plans)),
		free:    Free(),
	}

	var errs []error
	for _, p := range plans {
		p.PriceID = strings.TrimSpace(p.PriceID)
		switch {
		case p.PriceID == "":
			errs = append(errs, fmt.Errorf("plan %q: missing price id", p.Name))
			continue
		case !p.Tier.Valid():
			errs = append(errs, fmt.Errorf("plan %q: unknown tier %q", p.PriceID, p.Tier))
			continue
		case p.Credits <= 0:
			errs = append(errs, fmt.Errorf("plan %q: credits must be positive", p.PriceID))
			continue
		}
		if _, dup := c.byPrice[p.PriceID]; dup {
			errs = append(errs, fmt.Errorf("plan %q: duplicate price id", p.PriceID))
			continue
		}
		if p.Name == "" {
			p.Name = string(p.Tier)
		}
		c.byPrice[p.PriceID] = p
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return c, nil
}

// MustCatalog is like NewCatalog but panics on invalid input.
func MustCatalog(plans ...Plan) *Catalog {
	c, err := NewCatalog(plans...)
	if err != nil {
		panic(err)
	}
	return c
}

// Resolve returns the plan for priceID. Unknown identifiers report false;
// there is no fallback tier.
func (c *Catalog) Resolve(priceID string) (Plan, bool) {
	if c == nil || priceID == "" {
		return Plan{}, false
	}
	p, ok := c.byPrice[priceID]
	return p, ok
}

// Free returns the plan applied on cancellation.
func (c *Catalog) Free() Plan {
	if c == nil {
		return Free()
	}
	return c.free
}

// Plans lists the paid plans ordered by price identifier.
func (c *Catalog) Plans() []Plan {
	if c == nil {
		return nil
	}
	out := make([]Plan, 0, len(c.byPrice))
	for _, p := range c.byPrice {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceID < out[j].PriceID })
	return out
}

// Len returns the number of paid plans.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.byPrice)
}
