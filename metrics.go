package acksp

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics holds the collectors recorded by InstrumentedLedger.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewLedgerMetrics creates and registers ledger collectors in reg.
func NewLedgerMetrics(reg prometheus.Registerer) (*LedgerMetrics, error) {
	m := &LedgerMetrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "acksp_ledger_operations_total",
				Help: "Total number of registry ledger operations",
			},
			[]string{"op", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "acksp_ledger_operation_duration_seconds",
				Help:    "Registry ledger operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}
	for _, c := range []prometheus.Collector{m.operations, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *LedgerMetrics) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.operations.WithLabelValues(op, status).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// InstrumentedLedger records metrics around another Ledger.
type InstrumentedLedger struct {
	next    Ledger
	metrics *LedgerMetrics
}

var _ Ledger = (*InstrumentedLedger)(nil)

// NewInstrumentedLedger wraps next.
func NewInstrumentedLedger(next Ledger, metrics *LedgerMetrics) *InstrumentedLedger {
	return &InstrumentedLedger{next: next, metrics: metrics}
}

// View records the call under "view_<method>".
func (l *InstrumentedLedger) View(ctx context.Context, method string, args ...any) ([]byte, error) {
	start := time.Now()
	out, err := l.next.View(ctx, method, args...)
	l.metrics.observe("view_"+method, start, err)
	return out, err
}

// BuildTransaction records the call under "build".
func (l *InstrumentedLedger) BuildTransaction(ctx context.Context, from common.Address, method string, args ...any) (*types.Transaction, error) {
	start := time.Now()
	tx, err := l.next.BuildTransaction(ctx, from, method, args...)
	l.metrics.observe("build", start, err)
	return tx, err
}

// Submit records the call under "submit".
func (l *InstrumentedLedger) Submit(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	start := time.Now()
	hash, err := l.next.Submit(ctx, tx)
	l.metrics.observe("submit", start, err)
	return hash, err
}

// WaitForConfirmation records the call under "confirm".
func (l *InstrumentedLedger) WaitForConfirmation(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	start := time.Now()
	receipt, err := l.next.WaitForConfirmation(ctx, hash)
	l.metrics.observe("confirm", start, err)
	return receipt, err
}
