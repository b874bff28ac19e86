package account

import (
	"log"
	"sort"

	"github.com/yourusername/ctp-bridge/pkg/gateway"
	"github.com/yourusername/ctp-bridge/pkg/types"
)

// RebuildInput carries the startup query results. Account may be nil and
// the slices may be empty — optional queries degrade to empty results at
// the gateway layer and reconstruction proceeds with what it has.
type RebuildInput struct {
	Account   *gateway.AccountRecord
	Positions []gateway.PositionRecord
	Orders    []gateway.OrderUpdate
	Trades    []gateway.TradeUpdate
}

// sideAgg accumulates what the position query reports per direction before
// lots are reconstructed. CTP splits one logical position across several
// partial records (yesterday/today, hedge flags), so quantities add up
// record by record.
type sideAgg struct {
	total int64
	old   int64
}

// Rebuild reconstructs the ledger from the counter's own books. It runs
// exactly once, before any live callback is applied.
//
// Position records accumulate per instrument and direction, with the
// average open price recomputed after every record. Today's quantity is
// total minus old; its per-lot breakdown is not queryable, so today's
// trades are replayed newest-first, collecting opening fills until the
// quantity is covered and truncating the straddling lot to the residual.
func Rebuild(in RebuildInput, ins InstrumentProvider) *Account {
	var prevBalance float64
	if in.Account != nil {
		prevBalance = in.Account.PrevBalance
	}
	a := NewAccount(prevBalance, ins)

	aggs := make(map[string]map[types.Side]*sideAgg)

	for i := range in.Positions {
		r := &in.Positions[i]
		orderBookID := types.MakeOrderBookID(r.Symbol)
		if orderBookID == "" {
			log.Printf("[Account] position record for %s is not a future, skipped", r.Symbol)
			continue
		}
		p := a.Position(orderBookID)
		side := p.side(r.Direction)

		if _, ok := aggs[orderBookID]; !ok {
			aggs[orderBookID] = map[types.Side]*sideAgg{
				types.SideBuy:  {},
				types.SideSell: {},
			}
		}
		agg := aggs[orderBookID][r.Direction]

		if r.YdPosition != 0 {
			agg.old = r.YdPosition
		}
		agg.total += r.Position

		side.OpenCost += r.OpenCost
		side.TransactionCost += r.Commission
		side.RealizedPnl += r.CloseProfit
		if agg.total > 0 && p.Multiplier > 0 {
			side.AvgOpenPrice = side.OpenCost / (float64(agg.total) * p.Multiplier)
		}
		if r.PreSettlementPrice != 0 {
			p.PrevSettlePrice = r.PreSettlementPrice
		}
	}

	trades := tradesByBook(in.Trades)

	for orderBookID, byside := range aggs {
		p := a.Position(orderBookID)
		for _, dir := range []types.Side{types.SideBuy, types.SideSell} {
			agg := byside[dir]
			side := p.side(dir)
			side.OldQuantity = agg.old
			today := agg.total - agg.old
			if today < 0 {
				log.Printf("[Account] %s %s: today quantity %d < 0, clamped", orderBookID, dir, today)
				today = 0
				side.OldQuantity = agg.total
			}
			side.TodayLots = replayTodayLots(trades[orderBookID], dir, today)
		}
	}

	for i := range in.Orders {
		o := &in.Orders[i]
		if !o.Status.Working() {
			continue
		}
		orderBookID := types.MakeOrderBookID(o.Symbol)
		if orderBookID == "" {
			log.Printf("[Account] working order %s for %s is not a future, skipped", o.GatewayOrderID, o.Symbol)
			continue
		}
		p := a.Position(orderBookID)
		unfilled := o.TotalVolume - o.TradedVolume
		if unfilled <= 0 {
			continue
		}
		a.freezeRaw(o.GatewayOrderID, float64(unfilled)*o.Price*p.Multiplier*p.MarginRatio(o.Side))
	}

	return a
}

func tradesByBook(trades []gateway.TradeUpdate) map[string][]gateway.TradeUpdate {
	out := make(map[string][]gateway.TradeUpdate)
	for _, t := range trades {
		orderBookID := types.MakeOrderBookID(t.Symbol)
		if orderBookID == "" {
			continue
		}
		out[orderBookID] = append(out[orderBookID], t)
	}
	return out
}

// replayTodayLots walks today's fills newest-first and collects opening
// trades on the given side until todayQty is covered. The last (oldest)
// collected lot is truncated to the residual: earlier opens were already
// consumed by intraday closes. The result is returned oldest-first.
func replayTodayLots(trades []gateway.TradeUpdate, dir types.Side, todayQty int64) []Lot {
	if todayQty <= 0 {
		return nil
	}
	sorted := append([]gateway.TradeUpdate(nil), trades...)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].TradeTime.Equal(sorted[j].TradeTime) {
			return sorted[i].TradeTime.After(sorted[j].TradeTime)
		}
		return sorted[i].TradeID > sorted[j].TradeID
	})

	var lots []Lot
	remaining := todayQty
	for _, t := range sorted {
		if remaining <= 0 {
			break
		}
		if t.Side != dir || t.Offset != types.EffectOpen {
			continue
		}
		take := min64(t.Volume, remaining)
		lots = append(lots, Lot{Price: t.Price, Quantity: take})
		remaining -= take
	}
	if remaining > 0 {
		log.Printf("[Account] today volume %d not fully covered by trade history, short by %d", todayQty, remaining)
	}

	// back to open-time order
	for i, j := 0, len(lots)-1; i < j; i, j = i+1, j-1 {
		lots[i], lots[j] = lots[j], lots[i]
	}
	return lots
}
