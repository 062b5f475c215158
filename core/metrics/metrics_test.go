package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"starkdevnet/core/felt"
	"starkdevnet/core/gasoracle"
)

func TestRecordBlockSealedUpdatesHeightAndResetsCount(t *testing.T) {
	m := New()
	m.RecordAccepted(false)
	m.RecordAccepted(false)
	if got := testutil.ToFloat64(m.preConfirmedTxCount); got != 2 {
		t.Fatalf("expected pre-confirmed count 2, got %v", got)
	}

	m.RecordBlockSealed(5)
	if got := testutil.ToFloat64(m.height); got != 5 {
		t.Fatalf("expected height 5, got %v", got)
	}
	if got := testutil.ToFloat64(m.preConfirmedTxCount); got != 0 {
		t.Fatalf("expected pre-confirmed count reset to 0, got %v", got)
	}
}

func TestRecordAcceptedSplitsSucceededAndReverted(t *testing.T) {
	m := New()
	m.RecordAccepted(false)
	m.RecordAccepted(true)
	if got := testutil.ToFloat64(m.succeededCounter); got != 1 {
		t.Fatalf("expected 1 succeeded, got %v", got)
	}
	if got := testutil.ToFloat64(m.revertedCounter); got != 1 {
		t.Fatalf("expected 1 reverted, got %v", got)
	}
}

func TestRecordRejectedIncrementsCounter(t *testing.T) {
	m := New()
	m.RecordRejected()
	m.RecordRejected()
	if got := testutil.ToFloat64(m.rejectedCounter); got != 2 {
		t.Fatalf("expected 2 rejected, got %v", got)
	}
}

func TestRecordGasPricesSetsAllSixGauges(t *testing.T) {
	m := New()
	m.RecordGasPrices(gasoracle.Prices{
		L1GasWei: felt.FromUint64(10), L1GasFri: felt.FromUint64(20),
		L1DataGasWei: felt.FromUint64(30), L1DataGasFri: felt.FromUint64(40),
		L2GasWei: felt.FromUint64(50), L2GasFri: felt.FromUint64(60),
	})
	if got := testutil.ToFloat64(m.l1GasWei); got != 10 {
		t.Fatalf("expected l1GasWei 10, got %v", got)
	}
	if got := testutil.ToFloat64(m.l2GasFri); got != 60 {
		t.Fatalf("expected l2GasFri 60, got %v", got)
	}
}
