package market

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/talgya/starmarket/internal/ledger"
	"github.com/talgya/starmarket/internal/pricing"
)

// TradeReceipt records an executed trade and the exact quote it used.
type TradeReceipt struct {
	ID        uuid.UUID       `json:"id"`
	Agent     string          `json:"agent"`
	StationID string          `json:"station_id"`
	Tick      uint64          `json:"tick"`
	Quote     pricing.Quote   `json:"quote"`
	Total     decimal.Decimal `json:"total"` // Credits settled, rounded to cents
}

// ExecuteTrade prices a trade through the same pipeline as CalculatePrice,
// settles it with the ledger and then shifts the market. The market lock is
// held throughout so no tick can move prices in between. If the ledger
// refuses, market state is untouched.
func (r *Registry) ExecuteTrade(ctx context.Context, agent, stationID, commodityID string, quantity int, isBuy bool) (TradeReceipt, error) {
	loc, err := r.market(stationID)
	if err != nil {
		return TradeReceipt{}, err
	}
	loc.Lock()
	defer loc.Unlock()

	q, err := r.quote(loc, commodityID, isBuy, quantity)
	if err != nil {
		return TradeReceipt{}, err
	}

	total := decimal.NewFromFloat(q.TotalPrice).Round(2)
	err = r.ledger.Settle(ctx, ledger.Settlement{
		Agent:       agent,
		StationID:   stationID,
		CommodityID: commodityID,
		Quantity:    quantity,
		Total:       total,
		IsBuy:       isBuy,
	})
	if err != nil {
		return TradeReceipt{}, fmt.Errorf("settle %s %d %s at %s: %w", side(isBuy), quantity, commodityID, stationID, err)
	}

	// Buying drains supply and signals demand; selling does the inverse.
	units := float64(quantity)
	supplyShift := units * r.cfg.TradeSupplyImpact
	demandShift := units * r.cfg.TradeDemandImpact
	if isBuy {
		loc.ApplySupplyEvent(commodityID, -supplyShift)
		loc.ApplyDemandEvent(commodityID, demandShift)
	} else {
		loc.ApplySupplyEvent(commodityID, supplyShift)
		loc.ApplyDemandEvent(commodityID, -demandShift)
	}

	receipt := TradeReceipt{
		ID:        uuid.New(),
		Agent:     agent,
		StationID: stationID,
		Tick:      r.Tick(),
		Quote:     q,
		Total:     total,
	}
	slog.Info("trade executed",
		"receipt", receipt.ID,
		"agent", agent,
		"station", stationID,
		"commodity", commodityID,
		"side", side(isBuy),
		"qty", quantity,
		"unit", fmt.Sprintf("%.2f", q.UnitPrice),
		"total", total.StringFixed(2),
	)
	return receipt, nil
}

func side(isBuy bool) string {
	if isBuy {
		return "buy"
	}
	return "sell"
}
