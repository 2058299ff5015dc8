// Package amm implements constant-product bonding-curve pricing for binary
// outcome shares. All arithmetic is exact fixed-point decimal; the pool
// invariant ReserveYes * ReserveNo is preserved (net of fees) across trades,
// so larger trades always get a worse average price.
package amm

import (
	"fmt"

	"github.com/cockroachdb/apd/v3"

	"github.com/outcomelab/predmarket/internal/domain"
)

// Quote is the priced outcome of a prospective trade.
type Quote struct {
	// Shares bought (buy quotes) or sold (sell quotes).
	Shares *apd.Decimal
	// Payout is the net USDC returned to the seller; nil on buy quotes.
	Payout *apd.Decimal
	// PricePerUnit is the average execution price, display-rounded.
	PricePerUnit *apd.Decimal
	// FeeAmount is the proportional fee extracted by the pool.
	FeeAmount *apd.Decimal
}

var (
	one  = apd.New(1, 0)
	two  = apd.New(2, 0)
	four = apd.New(4, 0)
)

var (
	add  = domain.DecAdd
	sub  = domain.DecSub
	mul  = domain.DecMul
	quo  = domain.DecQuo
	sqrt = domain.DecSqrt
)

// SeedReserves derives initial pool reserves from a liquidity subsidy and an
// initial YES probability p in (0, 1): reserveYes = 2·subsidy·(1−p),
// reserveNo = 2·subsidy·p, which prices YES at exactly p.
func SeedReserves(subsidy, initialYesProb *apd.Decimal) (reserveYes, reserveNo *apd.Decimal, err error) {
	if subsidy.Sign() <= 0 {
		return nil, nil, fmt.Errorf("amm: subsidy must be positive: %w", domain.ErrInvalidAmount)
	}
	if initialYesProb.Sign() <= 0 || initialYesProb.Cmp(one) >= 0 {
		return nil, nil, fmt.Errorf("amm: initial probability must be in (0, 1): %w", domain.ErrInvalidAmount)
	}

	twoL, err := mul(two, subsidy)
	if err != nil {
		return nil, nil, err
	}
	complement, err := sub(one, initialYesProb)
	if err != nil {
		return nil, nil, err
	}
	if reserveYes, err = mul(twoL, complement); err != nil {
		return nil, nil, err
	}
	if reserveNo, err = mul(twoL, initialYesProb); err != nil {
		return nil, nil, err
	}
	return reserveYes, reserveNo, nil
}

// YesPrice returns the instantaneous YES price implied by the reserves:
// reserveNo / (reserveYes + reserveNo).
func YesPrice(pool *domain.LiquidityPool) (*apd.Decimal, error) {
	total, err := add(pool.ReserveYes, pool.ReserveNo)
	if err != nil {
		return nil, err
	}
	if total.Sign() <= 0 {
		return nil, fmt.Errorf("amm: pool %s has no reserves", pool.MarketID)
	}
	p, err := quo(pool.ReserveNo, total)
	if err != nil {
		return nil, err
	}
	return domain.RoundDisplay(p), nil
}

// reserves returns the (outcome side, other side) reserves for the pool.
func reserves(pool *domain.LiquidityPool, outcome domain.Outcome) (rOut, rOther *apd.Decimal) {
	if outcome == domain.OutcomeYes {
		return pool.ReserveYes, pool.ReserveNo
	}
	return pool.ReserveNo, pool.ReserveYes
}

type buyResult struct {
	shares   *apd.Decimal
	fee      *apd.Decimal
	newOut   *apd.Decimal
	newOther *apd.Decimal
	gross    *apd.Decimal // usdc spent
}

// buyMath prices spending usdcAmount on the outcome side. After the fee is
// extracted the net amount enters both reserves and the invariant releases
// shares from the outcome reserve: shares = rOut + net − k/(rOther + net).
func buyMath(pool *domain.LiquidityPool, outcome domain.Outcome, usdcAmount *apd.Decimal) (buyResult, error) {
	rOut, rOther := reserves(pool, outcome)

	fee, err := mul(usdcAmount, pool.FeeRate)
	if err != nil {
		return buyResult{}, err
	}
	net, err := sub(usdcAmount, fee)
	if err != nil {
		return buyResult{}, err
	}
	k, err := mul(rOut, rOther)
	if err != nil {
		return buyResult{}, err
	}
	newOther, err := add(rOther, net)
	if err != nil {
		return buyResult{}, err
	}
	newOut, err := quo(k, newOther)
	if err != nil {
		return buyResult{}, err
	}
	grown, err := add(rOut, net)
	if err != nil {
		return buyResult{}, err
	}
	shares, err := sub(grown, newOut)
	if err != nil {
		return buyResult{}, err
	}

	return buyResult{
		shares:   shares,
		fee:      fee,
		newOut:   newOut,
		newOther: newOther,
		gross:    domain.CloneDec(usdcAmount),
	}, nil
}

type sellResult struct {
	gross    *apd.Decimal // USDC released by the pool before fee
	payout   *apd.Decimal // net of fee
	fee      *apd.Decimal
	newOut   *apd.Decimal
	newOther *apd.Decimal
}

// sellMath prices returning shares of the outcome side to the pool. The
// released USDC p solves (rOut + s − p)(rOther − p) = k, the smaller root of
// p² − (rOut + s + rOther)p + s·rOther = 0.
func sellMath(pool *domain.LiquidityPool, outcome domain.Outcome, shares *apd.Decimal) (sellResult, error) {
	rOut, rOther := reserves(pool, outcome)

	b, err := add(rOut, shares)
	if err != nil {
		return sellResult{}, err
	}
	if b, err = add(b, rOther); err != nil {
		return sellResult{}, err
	}

	b2, err := mul(b, b)
	if err != nil {
		return sellResult{}, err
	}
	sr, err := mul(shares, rOther)
	if err != nil {
		return sellResult{}, err
	}
	foursr, err := mul(four, sr)
	if err != nil {
		return sellResult{}, err
	}
	disc, err := sub(b2, foursr)
	if err != nil {
		return sellResult{}, err
	}
	root, err := sqrt(disc)
	if err != nil {
		return sellResult{}, err
	}
	num, err := sub(b, root)
	if err != nil {
		return sellResult{}, err
	}
	gross, err := quo(num, two)
	if err != nil {
		return sellResult{}, err
	}

	if gross.Sign() <= 0 || gross.Cmp(rOther) >= 0 {
		return sellResult{}, fmt.Errorf("amm: pool %s cannot absorb sell of %s shares", pool.MarketID, shares.Text('f'))
	}

	fee, err := mul(gross, pool.FeeRate)
	if err != nil {
		return sellResult{}, err
	}
	payout, err := sub(gross, fee)
	if err != nil {
		return sellResult{}, err
	}

	grown, err := add(rOut, shares)
	if err != nil {
		return sellResult{}, err
	}
	newOut, err := sub(grown, gross)
	if err != nil {
		return sellResult{}, err
	}
	newOther, err := sub(rOther, gross)
	if err != nil {
		return sellResult{}, err
	}

	return sellResult{
		gross:    gross,
		payout:   payout,
		fee:      fee,
		newOut:   newOut,
		newOther: newOther,
	}, nil
}

func validateTradeInputs(pool *domain.LiquidityPool, outcome domain.Outcome, size *apd.Decimal, sizeErr error) error {
	if !outcome.Valid() {
		return domain.ErrInvalidOutcome
	}
	if size == nil || size.Sign() <= 0 {
		return sizeErr
	}
	if pool.ReserveYes.Sign() <= 0 || pool.ReserveNo.Sign() <= 0 {
		return fmt.Errorf("amm: pool %s has empty reserves", pool.MarketID)
	}
	return nil
}

// QuoteBuy prices spending usdcAmount on outcome shares without touching
// pool state.
func QuoteBuy(pool *domain.LiquidityPool, outcome domain.Outcome, usdcAmount *apd.Decimal) (Quote, error) {
	if err := validateTradeInputs(pool, outcome, usdcAmount, domain.ErrInvalidAmount); err != nil {
		return Quote{}, err
	}
	res, err := buyMath(pool, outcome, usdcAmount)
	if err != nil {
		return Quote{}, err
	}
	ppu, err := quo(usdcAmount, res.shares)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Shares:       res.shares,
		PricePerUnit: domain.RoundDisplay(ppu),
		FeeAmount:    res.fee,
	}, nil
}

// QuoteSell prices selling shares of outcome without touching pool state.
func QuoteSell(pool *domain.LiquidityPool, outcome domain.Outcome, shares *apd.Decimal) (Quote, error) {
	if err := validateTradeInputs(pool, outcome, shares, domain.ErrInvalidShareCount); err != nil {
		return Quote{}, err
	}
	res, err := sellMath(pool, outcome, shares)
	if err != nil {
		return Quote{}, err
	}
	ppu, err := quo(res.payout, shares)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Shares:       domain.CloneDec(shares),
		Payout:       res.payout,
		PricePerUnit: domain.RoundDisplay(ppu),
		FeeAmount:    res.fee,
	}, nil
}

// ApplyBuy executes a buy against the pool, mutating reserves and volume.
func ApplyBuy(pool *domain.LiquidityPool, outcome domain.Outcome, usdcAmount *apd.Decimal) (Quote, error) {
	if err := validateTradeInputs(pool, outcome, usdcAmount, domain.ErrInvalidAmount); err != nil {
		return Quote{}, err
	}
	res, err := buyMath(pool, outcome, usdcAmount)
	if err != nil {
		return Quote{}, err
	}
	ppu, err := quo(usdcAmount, res.shares)
	if err != nil {
		return Quote{}, err
	}

	setReserves(pool, outcome, res.newOut, res.newOther)
	if err := addVolume(pool, outcome, res.gross); err != nil {
		return Quote{}, err
	}

	return Quote{
		Shares:       res.shares,
		PricePerUnit: domain.RoundDisplay(ppu),
		FeeAmount:    res.fee,
	}, nil
}

// ApplySell executes a sell against the pool, mutating reserves and volume.
func ApplySell(pool *domain.LiquidityPool, outcome domain.Outcome, shares *apd.Decimal) (Quote, error) {
	if err := validateTradeInputs(pool, outcome, shares, domain.ErrInvalidShareCount); err != nil {
		return Quote{}, err
	}
	res, err := sellMath(pool, outcome, shares)
	if err != nil {
		return Quote{}, err
	}
	ppu, err := quo(res.payout, shares)
	if err != nil {
		return Quote{}, err
	}

	setReserves(pool, outcome, res.newOut, res.newOther)
	if err := addVolume(pool, outcome, res.gross); err != nil {
		return Quote{}, err
	}

	return Quote{
		Shares:       domain.CloneDec(shares),
		Payout:       res.payout,
		PricePerUnit: domain.RoundDisplay(ppu),
		FeeAmount:    res.fee,
	}, nil
}

func setReserves(pool *domain.LiquidityPool, outcome domain.Outcome, rOut, rOther *apd.Decimal) {
	if outcome == domain.OutcomeYes {
		pool.ReserveYes = rOut
		pool.ReserveNo = rOther
	} else {
		pool.ReserveNo = rOut
		pool.ReserveYes = rOther
	}
}

func addVolume(pool *domain.LiquidityPool, outcome domain.Outcome, usdc *apd.Decimal) error {
	if outcome == domain.OutcomeYes {
		v, err := add(pool.TradeVolumeYes, usdc)
		if err != nil {
			return err
		}
		pool.TradeVolumeYes = v
		return nil
	}
	v, err := add(pool.TradeVolumeNo, usdc)
	if err != nil {
		return err
	}
	pool.TradeVolumeNo = v
	return nil
}
