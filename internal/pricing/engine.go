// Package pricing computes unit prices with a fixed, ordered pipeline.
// The engine is pure: it reads catalog data and the request and never mutates
// market state. Recording prices is the caller's job.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/talgya/starmarket/internal/commodity"
	"github.com/talgya/starmarket/internal/economy"
	"github.com/talgya/starmarket/internal/entropy"
	"github.com/talgya/starmarket/internal/profile"
)

// ErrInvalidQuantity is returned for quantities below one unit.
var ErrInvalidQuantity = errors.New("quantity must be at least 1")

// Config holds the pipeline constants.
type Config struct {
	Epsilon  float64 `yaml:"epsilon"`   // Supply floor in the ratio stage
	MinRatio float64 `yaml:"min_ratio"` // Demand/supply ratio clamp
	MaxRatio float64 `yaml:"max_ratio"`

	RarityMultipliers map[string]float64 `yaml:"rarity_multipliers"` // Keyed by rarity name, absent = 1.0
	LegalityMarkups   map[string]float64 `yaml:"legality_markups"`   // Keyed by legality name, scaled by (1 - tolerance)

	BuyBulkRate  float64 `yaml:"buy_bulk_rate"`  // Per-unit discount per ln(quantity) when buying
	SellBulkRate float64 `yaml:"sell_bulk_rate"` // Per-unit saturation per ln(quantity) when selling
	BulkFloor    float64 `yaml:"bulk_floor"`     // Lowest bulk multiplier

	VarianceMin float64 `yaml:"variance_min"`
	VarianceMax float64 `yaml:"variance_max"`

	MinUnitPrice float64 `yaml:"min_unit_price"`
}

// DefaultConfig returns the standard pipeline constants.
func DefaultConfig() Config {
	return Config{
		Epsilon:  1e-6,
		MinRatio: 0.5,
		MaxRatio: 2.0,
		RarityMultipliers: map[string]float64{
			commodity.RarityCommon.String():   1.0,
			commodity.RarityUncommon.String(): 1.25,
			commodity.RarityRare.String():     1.6,
			commodity.RarityExotic.String():   2.2,
		},
		LegalityMarkups: map[string]float64{
			commodity.LegalityLegal.String():      0,
			commodity.LegalityRestricted.String(): 0.5,
			commodity.LegalityIllegal.String():    1.5,
		},
		BuyBulkRate:  0.05,
		SellBulkRate: 0.08,
		BulkFloor:    0.5,
		VarianceMin:  0.95,
		VarianceMax:  1.05,
		MinUnitPrice: 0.01,
	}
}

// Validate checks the constants for internal consistency.
func (c Config) Validate() error {
	switch {
	case !(c.Epsilon > 0):
		return fmt.Errorf("pricing: epsilon must be > 0")
	case !(c.MinRatio > 0) || c.MaxRatio < c.MinRatio:
		return fmt.Errorf("pricing: ratio band [%v, %v] invalid", c.MinRatio, c.MaxRatio)
	case c.BuyBulkRate < 0 || c.SellBulkRate < 0:
		return fmt.Errorf("pricing: bulk rates must be >= 0")
	case !(c.BulkFloor > 0) || c.BulkFloor > 1:
		return fmt.Errorf("pricing: bulk_floor must be in (0, 1]")
	case !(c.VarianceMin > 0) || c.VarianceMax < c.VarianceMin:
		return fmt.Errorf("pricing: variance band [%v, %v] invalid", c.VarianceMin, c.VarianceMax)
	case !(c.MinUnitPrice > 0):
		return fmt.Errorf("pricing: min_unit_price must be > 0")
	}
	for name, m := range c.RarityMultipliers {
		if !(m > 0) {
			return fmt.Errorf("pricing: rarity multiplier %q must be > 0", name)
		}
	}
	for name, m := range c.LegalityMarkups {
		if m < 0 {
			return fmt.Errorf("pricing: legality markup %q must be >= 0", name)
		}
	}
	return nil
}

// Request is everything the pipeline reads for one quote.
type Request struct {
	CommodityID string
	Supply      float64
	Demand      float64
	Econ        profile.EconomicProfile
	Faction     profile.FactionProfile
	IsBuy       bool
	Quantity    int
	OmitTax     bool // Reference prices are recorded without tax
}

// RequestFor builds a request from a market entry.
func RequestFor(e *economy.MarketEntry, econ profile.EconomicProfile, faction profile.FactionProfile, isBuy bool, quantity int) Request {
	return Request{
		CommodityID: e.CommodityID(),
		Supply:      e.Supply(),
		Demand:      e.Demand(),
		Econ:        econ,
		Faction:     faction,
		IsBuy:       isBuy,
		Quantity:    quantity,
	}
}

// Quote is the result of a price query.
type Quote struct {
	CommodityID string  `json:"commodity_id"`
	UnitPrice   float64 `json:"unit_price"`
	TotalPrice  float64 `json:"total_price"`
	Quantity    int     `json:"quantity"`
	IsBuy       bool    `json:"is_buy"`
}

// Breakdown lists the multiplier each stage contributed, in pipeline order.
type Breakdown struct {
	Base     float64 `json:"base"`
	Category float64 `json:"category"`
	Faction  float64 `json:"faction"`
	Ratio    float64 `json:"ratio"`
	Rarity   float64 `json:"rarity"`
	Legality float64 `json:"legality"`
	Bulk     float64 `json:"bulk"`
	Variance float64 `json:"variance"`
	Tax      float64 `json:"tax"`
	Unit     float64 `json:"unit"` // Final unit price after the floor
}

// Engine runs the price pipeline.
type Engine struct {
	catalog *commodity.Catalog
	cfg     Config
}

// NewEngine creates a price engine.
func NewEngine(catalog *commodity.Catalog, cfg Config) *Engine {
	return &Engine{catalog: catalog, cfg: cfg}
}

// Knows reports whether the engine can price a commodity id.
func (e *Engine) Knows(commodityID string) bool { return e.catalog.Has(commodityID) }

// Config returns the pipeline constants.
func (e *Engine) Config() Config { return e.cfg }

// Price computes the unit and total price for a request. rng supplies the
// single variance draw; a nil rng uses the middle of the variance band.
func (e *Engine) Price(req Request, rng entropy.Rand) (Quote, error) {
	b, err := e.Breakdown(req, rng)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		CommodityID: req.CommodityID,
		UnitPrice:   b.Unit,
		TotalPrice:  b.Unit * float64(req.Quantity),
		Quantity:    req.Quantity,
		IsBuy:       req.IsBuy,
	}, nil
}

// Breakdown runs the pipeline and reports every stage.
func (e *Engine) Breakdown(req Request, rng entropy.Rand) (Breakdown, error) {
	var b Breakdown
	if req.Quantity < 1 {
		return b, fmt.Errorf("%w: got %d", ErrInvalidQuantity, req.Quantity)
	}
	c, err := e.catalog.Get(req.CommodityID)
	if err != nil {
		return b, err
	}

	// 1. Base price.
	b.Base = c.BasePrice

	// 2. Station category modifier.
	b.Category = req.Econ.Modifier(c.Category)

	// 3. Faction spread.
	if req.IsBuy {
		b.Faction = req.Faction.BuyPriceFactor
	} else {
		b.Faction = req.Faction.SellPriceFactor
	}

	// 4. Demand/supply pressure.
	b.Ratio = e.ratio(req.Supply, req.Demand)

	// 5. Rarity.
	b.Rarity = e.rarity(c.Rarity)

	// 6. Legality markup, softened by faction tolerance.
	b.Legality = e.legality(c.Legality, req.Faction.IllegalTolerance)

	// 7. Bulk curve.
	b.Bulk = e.bulk(req.Quantity, req.IsBuy)

	// 8. Variance.
	b.Variance = e.variance(rng)

	// 9. Tax on purchases.
	b.Tax = 1.0
	if req.IsBuy && !req.OmitTax {
		b.Tax = 1 + req.Faction.TaxRate
	}

	unit := b.Base * b.Category * b.Faction * b.Ratio * b.Rarity * b.Legality * b.Bulk * b.Variance * b.Tax
	if math.IsNaN(unit) || unit < e.cfg.MinUnitPrice {
		unit = e.cfg.MinUnitPrice
	}
	b.Unit = unit
	return b, nil
}

func (e *Engine) ratio(supply, demand float64) float64 {
	r := demand / math.Max(supply, e.cfg.Epsilon)
	if r < e.cfg.MinRatio {
		return e.cfg.MinRatio
	}
	if r > e.cfg.MaxRatio {
		return e.cfg.MaxRatio
	}
	return r
}

func (e *Engine) rarity(r commodity.Rarity) float64 {
	if m, ok := e.cfg.RarityMultipliers[r.String()]; ok {
		return m
	}
	return 1.0
}

func (e *Engine) legality(l commodity.Legality, tolerance float64) float64 {
	if l == commodity.LegalityLegal {
		return 1.0
	}
	tolerance = math.Min(math.Max(tolerance, 0), 1)
	return 1 + e.cfg.LegalityMarkups[l.String()]*(1-tolerance)
}

// bulk is 1 - rate·ln(q), floored. At q = 1 it is exactly 1.
func (e *Engine) bulk(quantity int, isBuy bool) float64 {
	rate := e.cfg.SellBulkRate
	if isBuy {
		rate = e.cfg.BuyBulkRate
	}
	m := 1 - rate*math.Log(float64(quantity))
	if m < e.cfg.BulkFloor {
		return e.cfg.BulkFloor
	}
	return m
}

func (e *Engine) variance(rng entropy.Rand) float64 {
	lo, hi := e.cfg.VarianceMin, e.cfg.VarianceMax
	if rng == nil {
		return (lo + hi) / 2
	}
	return lo + (hi-lo)*rng.Float64()
}
