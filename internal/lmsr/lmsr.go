// Package lmsr implements the Logarithmic Market Scoring Rule (LMSR)
// automated market maker for binary prediction markets.
//
// The LMSR was proposed by Robin Hanson and provides:
//   - Bounded loss for the market maker (capped at b * ln(2) * 100 here)
//   - Continuous pricing with infinite liquidity
//   - Path-independent cost function
//
// Prices live on a 0–100 dollar scale (a share pays $100 when its side
// wins). All monetary values use shopspring/decimal — never float64 for
// money. Internal transcendental math uses float64 with the log-sum-exp
// trick for numerical stability, with results immediately converted to
// decimal and rounded to cents.
//
// None of these functions raise for numeric edge cases: non-positive
// liquidity, non-positive quantity, or a degenerate market probability
// all degrade to a defined zero result.
//
// Reference: Hanson, R. (2003) "Combinatorial Information Market Design"
package lmsr

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/ricardoV94/prediction-market/internal/event"
)

// PayoutScale is the dollar payout of one winning share.
const PayoutScale = 100

// CentScale is the number of decimal places for all money rounding.
const CentScale int32 = 2

// probEpsilon keeps market-implied probabilities away from 0 and 1 in
// the ratio-form cost functions, where r = p/(1-p) would blow up.
const probEpsilon = 1e-9

var (
	hundred = decimal.NewFromInt(PayoutScale)
	zero    = decimal.Zero
)

// roundCents converts a float result to decimal money, rounded to two
// places half away from zero. This is the only float→money crossing.
func roundCents(x float64) decimal.Decimal {
	return decimal.NewFromFloat(x).Round(CentScale)
}

// logSumExp computes ln(exp(a) + exp(b)) using max-subtraction so that
// share counts far in excess of b saturate instead of overflowing:
// exp of a huge argument goes to +Inf and the price pins at the
// corresponding bound rather than producing NaN.
func logSumExp(a, b float64) float64 {
	maxVal := math.Max(a, b)
	if math.IsInf(maxVal, -1) {
		return math.Inf(-1)
	}
	return maxVal + math.Log(math.Exp(a-maxVal)+math.Exp(b-maxVal))
}

// YesPrice returns the instantaneous price of a Yes share given the
// liquidity parameter b and the market's outstanding inventory:
//
//	p_yes = 100 * exp(yes/b) / (exp(yes/b) + exp(no/b))
//
// The softmax is computed with max-subtraction and the result clamped
// to [0, 100] to absorb floating round-off. Degenerate b yields 0.
func YesPrice(b decimal.Decimal, no, yes int64) decimal.Decimal {
	bf := b.InexactFloat64()
	if bf <= 0 {
		return zero
	}

	yOverB := float64(yes) / bf
	nOverB := float64(no) / bf
	maxVal := math.Max(yOverB, nOverB)

	expYes := math.Exp(yOverB - maxVal)
	expNo := math.Exp(nOverB - maxVal)

	price := PayoutScale * expYes / (expYes + expNo)
	if price < 0 {
		price = 0
	} else if price > PayoutScale {
		price = PayoutScale
	}
	return roundCents(price)
}

// NoPrice returns 100 minus the Yes price.
func NoPrice(b decimal.Decimal, no, yes int64) decimal.Decimal {
	return hundred.Sub(YesPrice(b, no, yes))
}

// Cost computes the LMSR cost of moving the market inventory from
// (no, yes) to (no+deltaNo, yes+deltaYes):
//
//	cost = b * 100 * (lse(yes'/b, no'/b) − lse(yes/b, no/b))
//
// Positive cost means the trader pays; negative means the trader is
// paid. Deltas may be negative (sells). Rounded to cents. Degenerate b
// yields zero.
func Cost(b decimal.Decimal, no, yes, deltaNo, deltaYes int64) decimal.Decimal {
	bf := b.InexactFloat64()
	if bf <= 0 {
		return zero
	}

	before := logSumExp(float64(yes)/bf, float64(no)/bf)
	after := logSumExp(float64(yes+deltaYes)/bf, float64(no+deltaNo)/bf)

	return roundCents(bf * PayoutScale * (after - before))
}

// clampProb converts a 0–100 Yes price to a probability held strictly
// inside (0, 1).
func clampProb(pYesPct float64) float64 {
	p := pYesPct / PayoutScale
	if p < probEpsilon {
		p = probEpsilon
	} else if p > 1-probEpsilon {
		p = 1 - probEpsilon
	}
	return p
}

// BuyCost computes the cost of buying qty shares of the given side in a
// market whose current Yes price is pYesPct (0–100), using the ratio
// form r = p/(1-p). This mirrors the quote path of the original books,
// which priced from the displayed probability rather than raw inventory.
//
// Degenerate inputs (b ≤ 0, qty ≤ 0) cost zero.
func BuyCost(pYesPct, b decimal.Decimal, qty int64, side event.Side) decimal.Decimal {
	bf := b.InexactFloat64()
	if bf <= 0 || qty <= 0 {
		return zero
	}

	p := clampProb(pYesPct.InexactFloat64())
	r := p / (1 - p)
	s := float64(qty)

	// The cost terms are ln(r·e^{s/b}+1) and ln(r+e^{s/b}); e^{s/b}
	// overflows float64 once s/b passes ~709, so both are taken through
	// logSumExp instead.
	var lse float64
	if side == event.SideYes {
		lse = logSumExp(math.Log(r)+s/bf, 0)
	} else {
		lse = logSumExp(math.Log(r), s/bf)
	}
	cost := bf * (lse - math.Log(r+1)) * PayoutScale
	return roundCents(cost)
}

// sellYes returns the cent-rounded proceeds of selling s Yes shares at
// price ratio r, and the ratio after the sale.
func sellYes(r, b, s float64) (float64, float64) {
	if s <= 0 || b <= 0 {
		return 0, r
	}
	cost := b * (logSumExp(math.Log(r)-s/b, 0) - math.Log(r+1)) * PayoutScale
	proceeds, _ := roundCents(-cost).Float64()
	return proceeds, r * math.Exp(-s/b)
}

// sellNo returns the cent-rounded proceeds of selling s No shares at
// price ratio r, and the ratio after the sale.
func sellNo(r, b, s float64) (float64, float64) {
	if s <= 0 || b <= 0 {
		return 0, r
	}
	cost := b * (logSumExp(math.Log(r), -s/b) - math.Log(r+1)) * PayoutScale
	proceeds, _ := roundCents(-cost).Float64()
	return proceeds, r * math.Exp(s/b)
}

// LiquidationProceeds computes the total cash from unwinding a position
// of (userNo, userYes) shares in a market whose Yes price is pYesPct
// (0–100) with liquidity b.
//
// The position is unwound sequentially: all Yes shares first, then all
// No shares against the updated price ratio. The order matters (the two
// orders do not commute) and is pinned by tests; Yes-then-No is what
// every historical balance was produced with.
//
// Each partial proceeds value is rounded to the nearest cent before
// summing, and the total is rounded again. The double rounding is
// load-bearing: collapsing it to one final rounding drifts cent-level
// results away from the recorded balances.
func LiquidationProceeds(pYesPct, b decimal.Decimal, userNo, userYes int64) decimal.Decimal {
	bf := b.InexactFloat64()
	if bf <= 0 {
		return zero
	}

	p := clampProb(pYesPct.InexactFloat64())
	r := p / (1 - p)

	sYes := math.Max(0, float64(userYes))
	sNo := math.Max(0, float64(userNo))

	yesProceeds, r := sellYes(r, bf, sYes)
	noProceeds, _ := sellNo(r, bf, sNo)

	return roundCents(yesProceeds + noProceeds)
}

// MaxLoss returns the market maker's maximum possible subsidy for a
// binary market: b * ln(2) * 100.
func MaxLoss(b decimal.Decimal) decimal.Decimal {
	bf := b.InexactFloat64()
	if bf <= 0 {
		return zero
	}
	return roundCents(bf * math.Log(2) * PayoutScale)
}
