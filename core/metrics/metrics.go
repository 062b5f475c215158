// Package metrics exposes the devnet's Prometheus surface: block height,
// pre-confirmed transaction count, rejected/reverted counters and the gas
// oracle's six price scalars.
package metrics

import (
	"context"
	"errors"
	"math/big"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"starkdevnet/core/felt"
	"starkdevnet/core/gasoracle"
)

// Metrics holds every gauge/counter the devnet reports, each registered
// against its own registry so a test can inspect them in isolation.
type Metrics struct {
	registry *prometheus.Registry

	height              prometheus.Gauge
	preConfirmedTxCount prometheus.Gauge
	rejectedCounter     prometheus.Counter
	revertedCounter     prometheus.Counter
	succeededCounter    prometheus.Counter

	l1GasWei     prometheus.Gauge
	l1GasFri     prometheus.Gauge
	l1DataGasWei prometheus.Gauge
	l1DataGasFri prometheus.Gauge
	l2GasWei     prometheus.Gauge
	l2GasFri     prometheus.Gauge
}

// New builds a Metrics with a fresh registry and registers every collector.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "starkdevnet_block_height",
			Help: "Number of the latest sealed block",
		}),
		preConfirmedTxCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "starkdevnet_preconfirmed_tx_count",
			Help: "Transactions accumulated in the current pre-confirmed block",
		}),
		rejectedCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "starkdevnet_transactions_rejected_total",
			Help: "Total transactions rejected before entering a block",
		}),
		revertedCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "starkdevnet_transactions_reverted_total",
			Help: "Total transactions that reverted on execution",
		}),
		succeededCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "starkdevnet_transactions_succeeded_total",
			Help: "Total transactions that succeeded on execution",
		}),
		l1GasWei: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "starkdevnet_gas_price_l1_gas_wei",
			Help: "Current L1 gas price in wei",
		}),
		l1GasFri: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "starkdevnet_gas_price_l1_gas_fri",
			Help: "Current L1 gas price in fri",
		}),
		l1DataGasWei: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "starkdevnet_gas_price_l1_data_gas_wei",
			Help: "Current L1 data-gas price in wei",
		}),
		l1DataGasFri: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "starkdevnet_gas_price_l1_data_gas_fri",
			Help: "Current L1 data-gas price in fri",
		}),
		l2GasWei: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "starkdevnet_gas_price_l2_gas_wei",
			Help: "Current L2 gas price in wei",
		}),
		l2GasFri: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "starkdevnet_gas_price_l2_gas_fri",
			Help: "Current L2 gas price in fri",
		}),
	}

	reg.MustRegister(
		m.height, m.preConfirmedTxCount, m.rejectedCounter, m.revertedCounter, m.succeededCounter,
		m.l1GasWei, m.l1GasFri, m.l1DataGasWei, m.l1DataGasFri, m.l2GasWei, m.l2GasFri,
	)
	return m
}

// RecordBlockSealed updates the height gauge and resets the pre-confirmed
// counter, called by the blockproducer.Notifier after every seal.
func (m *Metrics) RecordBlockSealed(height uint64) {
	m.height.Set(float64(height))
	m.preConfirmedTxCount.Set(0)
}

// RecordAccepted increments the pre-confirmed counter and the appropriate
// succeeded/reverted counter, called by the pipeline after each admitted
// (non-rejected) transaction.
func (m *Metrics) RecordAccepted(reverted bool) {
	m.preConfirmedTxCount.Inc()
	if reverted {
		m.revertedCounter.Inc()
		return
	}
	m.succeededCounter.Inc()
}

// RecordRejected increments the rejected counter, called by the pipeline
// whenever Submit returns an *rpcerr.Error.
func (m *Metrics) RecordRejected() {
	m.rejectedCounter.Inc()
}

// RecordGasPrices mirrors the gas oracle's current scalars onto the gauges.
func (m *Metrics) RecordGasPrices(p gasoracle.Prices) {
	m.l1GasWei.Set(feltToFloat64(p.L1GasWei))
	m.l1GasFri.Set(feltToFloat64(p.L1GasFri))
	m.l1DataGasWei.Set(feltToFloat64(p.L1DataGasWei))
	m.l1DataGasFri.Set(feltToFloat64(p.L1DataGasFri))
	m.l2GasWei.Set(feltToFloat64(p.L2GasWei))
	m.l2GasFri.Set(feltToFloat64(p.L2GasFri))
}

func feltToFloat64(f felt.Felt) float64 {
	v, _ := new(big.Float).SetInt(f.Big()).Float64()
	return v
}

// StartServer exposes /metrics on addr and returns the underlying
// http.Server for lifecycle management.
func (m *Metrics) StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("metrics: server stopped")
		}
	}()
	return srv
}

// ShutdownServer gracefully stops a server started by StartServer.
func (m *Metrics) ShutdownServer(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
