package lmsr

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ricardoV94/prediction-market/internal/event"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var cent = d(0.01)

// --- Price function tests ---

func TestYesPrice_InitiallyFifty(t *testing.T) {
	price := YesPrice(d(10), 0, 0)
	if !price.Equal(d(50)) {
		t.Errorf("expected initial price 50.00, got %s", price)
	}
}

func TestYesPrice_ConcreteScenario(t *testing.T) {
	// b=10, one Yes share bought from an empty market.
	price := YesPrice(d(10), 0, 1)
	if !price.Equal(d(52.50)) {
		t.Errorf("expected price 52.50 after one Yes share at b=10, got %s", price)
	}
}

func TestYesPrice_BuyingYesIncreasesPrice(t *testing.T) {
	before := YesPrice(d(100), 0, 0)
	after := YesPrice(d(100), 0, 10)
	if after.LessThanOrEqual(before) {
		t.Errorf("buying Yes should increase price: before=%s after=%s", before, after)
	}
}

func TestYesPrice_MonotonicUnderRepeatedBuys(t *testing.T) {
	b := d(10)
	prev := YesPrice(b, 0, 0)
	for yes := int64(1); yes <= 50; yes++ {
		cur := YesPrice(b, 0, yes)
		if cur.LessThan(prev) {
			t.Fatalf("price regressed at yes=%d: %s < %s", yes, cur, prev)
		}
		prev = cur
	}
}

func TestPrices_SumToHundred(t *testing.T) {
	tests := []struct {
		no, yes int64
	}{
		{0, 0},
		{10, 0},
		{0, 10},
		{30, 10},
		{100, 200},
		{500, 100},
	}
	for _, tt := range tests {
		pYes := YesPrice(d(100), tt.no, tt.yes)
		pNo := NoPrice(d(100), tt.no, tt.yes)
		if !pYes.Add(pNo).Equal(d(100)) {
			t.Errorf("prices should sum to 100: yes=%s no=%s (q=%d,%d)",
				pYes, pNo, tt.no, tt.yes)
		}
	}
}

func TestYesPrice_Symmetry(t *testing.T) {
	// P_yes(no, yes) should equal P_no(yes, no): the two sides are
	// interchangeable labels.
	pYes := YesPrice(d(10), 3, 8)
	pNoSwapped := NoPrice(d(10), 8, 3)
	if pYes.Sub(pNoSwapped).Abs().GreaterThan(cent) {
		t.Errorf("side symmetry broken: %s vs %s", pYes, pNoSwapped)
	}
}

func TestYesPrice_ExtremeInventoryNoPanic(t *testing.T) {
	tests := []struct {
		name    string
		no, yes int64
	}{
		{"very large yes", 0, 10_000_000},
		{"very large no", 10_000_000, 0},
		{"both large equal", 10_000_000, 10_000_000},
		{"overflow-scale", 0, math.MaxInt32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price := YesPrice(d(10), tt.no, tt.yes)
			if price.LessThan(decimal.Zero) || price.GreaterThan(d(100)) {
				t.Errorf("price out of [0,100]: %s", price)
			}
		})
	}
}

func TestYesPrice_SaturatesAtBounds(t *testing.T) {
	if p := YesPrice(d(10), 0, 1_000_000); !p.Equal(d(100)) {
		t.Errorf("expected saturation at 100, got %s", p)
	}
	if p := YesPrice(d(10), 1_000_000, 0); !p.Equal(d(0)) {
		t.Errorf("expected saturation at 0, got %s", p)
	}
}

// --- Cost function tests ---

func TestCost_ConcreteScenario(t *testing.T) {
	// b=10, buy 1 Yes from (0,0): cost = 1000*(ln(e^0.1+1) - ln 2).
	cost := Cost(d(10), 0, 0, 0, 1)
	if !cost.Equal(d(51.25)) {
		t.Errorf("expected cost 51.25, got %s", cost)
	}
}

func TestCost_BuyPositiveSellNegative(t *testing.T) {
	buy := Cost(d(100), 0, 0, 0, 10)
	if buy.LessThanOrEqual(decimal.Zero) {
		t.Errorf("buying should cost a positive amount, got %s", buy)
	}
	sell := Cost(d(100), 0, 10, 0, -10)
	if sell.GreaterThanOrEqual(decimal.Zero) {
		t.Errorf("selling should pay out (negative cost), got %s", sell)
	}
}

func TestCost_PathIndependence(t *testing.T) {
	// Moving (0,0)→(0,15) directly must equal (0,0)→(0,10)→(0,15),
	// up to one rounding unit per leg.
	direct := Cost(d(100), 0, 0, 0, 15)
	leg1 := Cost(d(100), 0, 0, 0, 10)
	leg2 := Cost(d(100), 0, 10, 0, 5)
	if direct.Sub(leg1.Add(leg2)).Abs().GreaterThan(d(0.02)) {
		t.Errorf("path dependence: direct=%s sequential=%s", direct, leg1.Add(leg2))
	}
}

func TestCost_PathIndependenceMixedSides(t *testing.T) {
	direct := Cost(d(10), 0, 0, 7, 3)
	leg1 := Cost(d(10), 0, 0, 7, 0)
	leg2 := Cost(d(10), 7, 0, 0, 3)
	if direct.Sub(leg1.Add(leg2)).Abs().GreaterThan(d(0.02)) {
		t.Errorf("path dependence: direct=%s sequential=%s", direct, leg1.Add(leg2))
	}
}

func TestCost_BuyThenSellRoundTrips(t *testing.T) {
	// Buying q and immediately selling q must return the trader to
	// within one cent of flat.
	for _, q := range []int64{1, 5, 40} {
		buy := Cost(d(10), 0, 0, 0, q)
		sell := Cost(d(10), 0, q, 0, -q)
		net := buy.Add(sell)
		if net.Abs().GreaterThan(cent) {
			t.Errorf("q=%d: round trip leaked %s", q, net)
		}
	}
}

func TestCost_Convexity(t *testing.T) {
	first := Cost(d(100), 0, 0, 0, 10)
	second := Cost(d(100), 0, 10, 0, 10)
	if second.LessThanOrEqual(first) {
		t.Errorf("second batch should cost more: first=%s second=%s", first, second)
	}
}

func TestCost_SideSymmetryAtOrigin(t *testing.T) {
	costYes := Cost(d(100), 0, 0, 0, 10)
	costNo := Cost(d(100), 0, 0, 10, 0)
	if !costYes.Equal(costNo) {
		t.Errorf("expected symmetric cost at origin: yes=%s no=%s", costYes, costNo)
	}
}

func TestCost_ExtremeDeltasFinite(t *testing.T) {
	cost := Cost(d(10), 0, 0, 0, 1_000_000)
	if !cost.IsPositive() {
		t.Errorf("huge buy should have a finite positive cost, got %s", cost)
	}
}

// --- Ratio-form quote cost ---

func TestBuyCost_MatchesInventoryCostAtSamePrice(t *testing.T) {
	// At inventory (0,0) the price is exactly 50, so the ratio form
	// must agree with the inventory form to the cent.
	fromInventory := Cost(d(10), 0, 0, 0, 1)
	fromPrice := BuyCost(d(50), d(10), 1, event.SideYes)
	if fromInventory.Sub(fromPrice).Abs().GreaterThan(cent) {
		t.Errorf("ratio form disagrees: inventory=%s price=%s", fromInventory, fromPrice)
	}
}

func TestBuyCost_NoSide(t *testing.T) {
	yes := BuyCost(d(50), d(10), 5, event.SideYes)
	no := BuyCost(d(50), d(10), 5, event.SideNo)
	if !yes.Equal(no) {
		t.Errorf("at 50%% both sides cost the same: yes=%s no=%s", yes, no)
	}
}

func TestBuyCost_HugeQuantityStaysFinite(t *testing.T) {
	// qty/b = 710 puts e^{qty/b} past float64 range; the log-space
	// form must keep the cost finite. At 50% the ratio is 1, so the
	// exact cost is b*(qty/b - ln 2)*100.
	want := d(709306.85)
	for _, side := range []event.Side{event.SideYes, event.SideNo} {
		cost := BuyCost(d(50), d(10), 7100, side)
		if !cost.Equal(want) {
			t.Errorf("side %s: cost = %s, want %s", side, cost, want)
		}
	}
}

func TestBuyCost_DegenerateInputs(t *testing.T) {
	tests := []struct {
		name string
		p, b decimal.Decimal
		qty  int64
	}{
		{"zero liquidity", d(50), d(0), 5},
		{"negative liquidity", d(50), d(-10), 5},
		{"zero quantity", d(50), d(10), 0},
		{"negative quantity", d(50), d(10), -5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if cost := BuyCost(tt.p, tt.b, tt.qty, event.SideYes); !cost.IsZero() {
				t.Errorf("expected zero cost, got %s", cost)
			}
		})
	}
}

// --- Liquidation ---

func TestLiquidationProceeds_InverseOfSingleBuy(t *testing.T) {
	// Buy 1 Yes at b=10 for 51.25, moving the price to 52.50. Selling
	// it back at the new price recovers the cost within one cent.
	cost := Cost(d(10), 0, 0, 0, 1)
	proceeds := LiquidationProceeds(d(52.50), d(10), 0, 1)
	if proceeds.Sub(cost).Abs().GreaterThan(cent) {
		t.Errorf("liquidation should invert the buy: cost=%s proceeds=%s", cost, proceeds)
	}
}

func TestLiquidationProceeds_YesThenNoOrderPinned(t *testing.T) {
	// Unwinding sells Yes first, then No against the updated ratio.
	// The reverse order produces a different total; this pins the one
	// the recorded balances were computed with.
	b, p := 10.0, 0.60
	r0 := p / (1 - p)

	yesProceeds, r1 := sellYes(r0, b, 5)
	noProceeds, _ := sellNo(r1, b, 3)
	wantF := yesProceeds + noProceeds
	want := decimal.NewFromFloat(wantF).Round(2)

	got := LiquidationProceeds(d(60), d(10), 3, 5)
	if !got.Equal(want) {
		t.Errorf("expected Yes-then-No total %s, got %s", want, got)
	}

	// Sanity: the orders genuinely differ for this position.
	noFirst, r1b := sellNo(r0, b, 3)
	yesSecond, _ := sellYes(r1b, b, 5)
	reversed := decimal.NewFromFloat(noFirst + yesSecond).Round(2)
	if reversed.Equal(got) {
		t.Fatalf("test position does not distinguish unwind orders (both %s)", got)
	}
}

func TestLiquidationProceeds_TwoStageRounding(t *testing.T) {
	// Each leg is rounded to the cent before summing. With both legs
	// rounded the total is an exact sum of two cent values, so it must
	// equal roundCents(leg1) + roundCents(leg2), not the rounding of
	// the unrounded sum.
	b, p := 10.0, 0.60
	r0 := p / (1 - p)
	leg1, r1 := sellYes(r0, b, 5)
	leg2, _ := sellNo(r1, b, 3)

	got := LiquidationProceeds(d(60), d(10), 3, 5)
	want := decimal.NewFromFloat(leg1).Add(decimal.NewFromFloat(leg2)).Round(2)
	if !got.Equal(want) {
		t.Errorf("two-stage rounding broken: want %s got %s", want, got)
	}
}

func TestLiquidationProceeds_EmptyPosition(t *testing.T) {
	if p := LiquidationProceeds(d(50), d(10), 0, 0); !p.IsZero() {
		t.Errorf("empty position should liquidate for zero, got %s", p)
	}
}

func TestLiquidationProceeds_DegenerateInputs(t *testing.T) {
	if p := LiquidationProceeds(d(50), d(0), 3, 5); !p.IsZero() {
		t.Errorf("zero liquidity should yield zero, got %s", p)
	}
	// Negative share counts are clamped to zero, never paid for.
	if p := LiquidationProceeds(d(50), d(10), -3, -5); !p.IsZero() {
		t.Errorf("negative positions should yield zero, got %s", p)
	}
}

func TestLiquidationProceeds_HugePositionStaysFinite(t *testing.T) {
	// Dumping 8000 Yes at b=10 drives the price ratio below float64's
	// subnormal range before the No leg runs; neither leg may blow up.
	// Yes leg: b*ln(2)*100 = 693.15. No leg at ratio ~0: 8000*100.
	got := LiquidationProceeds(d(50), d(10), 8000, 8000)
	want := d(800693.15)
	if !got.Equal(want) {
		t.Errorf("proceeds = %s, want %s", got, want)
	}
}

func TestLiquidationProceeds_ExtremePriceClamped(t *testing.T) {
	// A price of exactly 0 or 100 is clamped away from the pole
	// instead of dividing by zero.
	for _, price := range []float64{0, 100} {
		p := LiquidationProceeds(d(price), d(10), 2, 2)
		if p.LessThan(decimal.Zero) {
			t.Errorf("price %.0f: proceeds should never be negative, got %s", price, p)
		}
	}
}

// --- Misc ---

func TestMaxLoss_Bounded(t *testing.T) {
	// A trader buys 10000 Yes at b=100 and wins: the maker's loss is
	// the payout minus what the trader paid, bounded by b*ln(2)*100.
	paid := Cost(d(100), 0, 0, 0, 10000)
	payout := decimal.NewFromInt(10000 * PayoutScale)
	loss := payout.Sub(paid)
	if loss.GreaterThan(MaxLoss(d(100))) {
		t.Errorf("maker loss %s exceeds bound %s", loss, MaxLoss(d(100)))
	}
}

func TestLogSumExp_NoOverflow(t *testing.T) {
	result := logSumExp(1000, 1001)
	if math.IsNaN(result) || math.IsInf(result, 1) {
		t.Errorf("logSumExp should not overflow: got %f", result)
	}
	if result < 1000 || result > 1002 {
		t.Errorf("logSumExp(1000,1001) should be in [1000,1002], got %f", result)
	}
}

func TestRoundCents_HalfAwayFromZero(t *testing.T) {
	tests := []struct {
		in   float64
		want decimal.Decimal
	}{
		{0.125, d(0.13)},
		{-0.125, d(-0.13)},
		{2.004, d(2)},
		{2.006, d(2.01)},
	}
	for _, tt := range tests {
		if got := roundCents(tt.in); !got.Equal(tt.want) {
			t.Errorf("roundCents(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
