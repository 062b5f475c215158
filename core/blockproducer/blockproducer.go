// Package blockproducer implements the block-production controller (C5):
// the three sealing disciplines (on-transaction, on-demand, on-interval)
// and the admin operations that always seal regardless of mode.
package blockproducer

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"starkdevnet/core/class"
	"starkdevnet/core/felt"
	"starkdevnet/core/gasoracle"
	"starkdevnet/core/ledger"
	"starkdevnet/core/state"
	"starkdevnet/core/timecontrol"
)

// Mode selects the sealing discipline, fixed at startup.
type Mode int

const (
	ModeOnTransaction Mode = iota
	ModeOnDemand
	ModeOnInterval
)

// Notifier is called once per sealed block, after every bookkeeping step
// has completed, so core/subscription can fan out NewHeads/NewReceipts.
type Notifier func(*ledger.Block)

// Controller ties the state store, class registry, ledger, gas oracle and
// logical clock together behind the sealing rules of §4.5.
type Controller struct {
	mode     Mode
	interval time.Duration
	sequencer felt.Felt

	state   *state.Store
	classes *class.Registry
	ledger  *ledger.Ledger
	gas     *gasoracle.Oracle
	clock   *timecontrol.Clock

	mu       sync.Mutex
	notifier Notifier
}

// New returns a Controller in the given mode. interval is only consulted
// when mode is ModeOnInterval.
func New(mode Mode, interval time.Duration, sequencer felt.Felt, s *state.Store, c *class.Registry, l *ledger.Ledger, g *gasoracle.Oracle, clk *timecontrol.Clock) *Controller {
	return &Controller{
		mode:      mode,
		interval:  interval,
		sequencer: sequencer,
		state:     s,
		classes:   c,
		ledger:    l,
		gas:       g,
		clock:     clk,
	}
}

// SetNotifier installs the sealed-block callback.
func (c *Controller) SetNotifier(n Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifier = n
}

// OnTransactionAccepted is called by the pipeline immediately after a
// succeeded or reverted transaction is appended to the pre-confirmed
// block. In on-transaction mode this seals immediately; other modes are
// no-ops here (sealing happens via CreateBlock or the interval ticker).
func (c *Controller) OnTransactionAccepted() *ledger.Block {
	if c.mode == ModeOnTransaction {
		return c.CreateBlock(0)
	}
	return nil
}

// CreateBlock seals the current pre-confirmed block. It is honored in
// every mode (§4.5: "An explicit create_block admin call is honored in all
// modes"). requestedTimestamp, if non-zero, overrides the logical clock
// for this seal only (used by set_time(generate_block=true) and
// increase_time, which must seal at an exact admin-supplied timestamp
// rather than whatever the clock free-runs to).
func (c *Controller) CreateBlock(requestedTimestamp uint64) *ledger.Block {
	ts := c.clock.Now()
	if requestedTimestamp != 0 {
		ts = requestedTimestamp
	}

	prices := c.gas.Current()
	blk := c.ledger.Seal(ledger.SealParams{
		Timestamp:         ts,
		Sequencer:         c.sequencer,
		L1GasPriceWei:     prices.L1GasWei,
		L1GasPriceFri:     prices.L1GasFri,
		L1DataGasPriceWei: prices.L1DataGasWei,
		L1DataGasPriceFri: prices.L1DataGasFri,
		L2GasPriceWei:     prices.L2GasWei,
		L2GasPriceFri:     prices.L2GasFri,
	})

	diff := c.state.CommitDiff(blk.Header.Number)
	for _, hash := range c.classes.Commit(blk.Header.Number) {
		artifact, ok := c.classes.Lookup(hash, class.AtBlock(blk.Header.Number))
		if !ok {
			continue
		}
		switch artifact.Flavor {
		case class.Modern:
			diff.DeclaredClasses[hash] = artifact.CompiledHash
		case class.Legacy:
			diff.DeprecatedClasses = append(diff.DeprecatedClasses, hash)
		}
	}
	c.ledger.SetDiff(blk.Header.Number, diff)
	c.gas.OnBlockSealed()

	logrus.WithFields(logrus.Fields{
		"number":    blk.Header.Number,
		"hash":      blk.Header.Hash,
		"timestamp": blk.Header.Timestamp,
		"txs":       len(blk.TransactionHashes),
	}).Info("blockproducer: block sealed")

	c.mu.Lock()
	n := c.notifier
	c.mu.Unlock()
	if n != nil {
		n(blk)
	}
	return blk
}

// SetTime forces the logical clock to t. If generateBlock, it seals
// immediately at exactly t (not wall-clock-influenced).
func (c *Controller) SetTime(t uint64, generateBlock bool) {
	c.clock.SetTime(t)
	if generateBlock {
		c.CreateBlock(t)
	}
}

// IncreaseTime advances the logical clock by delta and always seals a new
// block at the resulting time.
func (c *Controller) IncreaseTime(delta uint64) *ledger.Block {
	t := c.clock.IncreaseTime(delta)
	return c.CreateBlock(t)
}

// AcceptOnL1 promotes finality of sealed blocks up to upTo.
func (c *Controller) AcceptOnL1(upTo uint64) {
	c.ledger.AcceptOnL1(upTo)
}

// StartIntervalTicker launches the on-interval background sealer. It is a
// no-op unless mode is ModeOnInterval. Call the returned stop function to
// end it.
func (c *Controller) StartIntervalTicker() (stop func()) {
	if c.mode != ModeOnInterval || c.interval <= 0 {
		return func() {}
	}
	stopCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.CreateBlock(0)
			case <-stopCh:
				return
			}
		}
	}()
	return func() { close(stopCh) }
}
