// Package gasoracle implements the fee/gas oracle (C6): six independent
// per-resource price scalars, mutable via admin RPC with deferred-apply
// semantics tied to block sealing.
package gasoracle

import (
	"sync"

	"starkdevnet/core/felt"
)

// Prices is one full snapshot of the six scalars.
type Prices struct {
	L1GasWei     felt.Felt
	L1GasFri     felt.Felt
	L1DataGasWei felt.Felt
	L1DataGasFri felt.Felt
	L2GasWei     felt.Felt
	L2GasFri     felt.Felt
}

// Update carries a partial set of new prices: a nil field leaves the
// corresponding scalar unchanged (§4.6: "partial fields are preserved at
// their prior value").
type Update struct {
	L1GasWei     *felt.Felt
	L1GasFri     *felt.Felt
	L1DataGasWei *felt.Felt
	L1DataGasFri *felt.Felt
	L2GasWei     *felt.Felt
	L2GasFri     *felt.Felt
}

// Oracle holds the live prices and the one pending update awaiting the
// next-but-one block, per the deferred-apply rule.
type Oracle struct {
	mu      sync.Mutex
	current Prices
	pending *Prices // set iff an update is waiting to apply after the next seal
}

// New returns an Oracle seeded with the given startup prices.
func New(start Prices) *Oracle {
	return &Oracle{current: start}
}

// Current returns the prices in force right now (what the next block to
// seal, absent any further update, would use).
func (o *Oracle) Current() Prices {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// SetPrices applies u on top of the current prices. If generateBlock is
// true the new prices become current immediately, so the next block to
// seal uses them; SetPrices does not seal a block itself. Otherwise the new prices
// are deferred: the immediately-next sealed block still uses the
// prior prices, and the update takes effect only at the seal after that.
func (o *Oracle) SetPrices(u Update, generateBlock bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	merged := o.current
	apply := func(dst *felt.Felt, src *felt.Felt) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&merged.L1GasWei, u.L1GasWei)
	apply(&merged.L1GasFri, u.L1GasFri)
	apply(&merged.L1DataGasWei, u.L1DataGasWei)
	apply(&merged.L1DataGasFri, u.L1DataGasFri)
	apply(&merged.L2GasWei, u.L2GasWei)
	apply(&merged.L2GasFri, u.L2GasFri)

	if generateBlock {
		o.current = merged
		o.pending = nil
		return
	}
	o.pending = &merged
}

// OnBlockSealed is called by the block-production controller immediately
// after a block seals (using o.Current() as that block's prices). It
// promotes any pending update so the block after next uses it.
func (o *Oracle) OnBlockSealed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending != nil {
		o.current = *o.pending
		o.pending = nil
	}
}
