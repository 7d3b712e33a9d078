package pricing

import (
	"context"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Mismatch records a remote total that disagreed with the local recomputation.
type Mismatch struct {
	Source      string
	OwnerKey    string
	RemoteTotal decimal.Decimal
	LocalTotal  decimal.Decimal
	DetectedAt  time.Time
}

func (m Mismatch) Difference() decimal.Decimal {
	return m.RemoteTotal.Sub(m.LocalTotal).Abs()
}

type Recorder interface {
	RecordMismatch(ctx context.Context, m Mismatch) error
}

type Reconciler struct {
	taxRate   decimal.Decimal
	tolerance decimal.Decimal
	recorder  Recorder
	log       *zap.Logger
	nowFunc   func() time.Time
}

// NewReconciler builds a Reconciler. recorder may be nil, in which case mismatches are only logged.
func NewReconciler(taxRate decimal.Decimal, recorder Recorder, log *zap.Logger) *Reconciler {
	return &Reconciler{
		taxRate:   taxRate,
		tolerance: MismatchTolerance,
		recorder:  recorder,
		log:       log,
		nowFunc:   time.Now,
	}
}

func (r *Reconciler) TaxRate() decimal.Decimal {
	return r.taxRate
}

// Reconcile recomputes the total of items and compares it with the total reported by
// the remote. The local figure is always returned as the value of record.
func (r *Reconciler) Reconcile(ctx context.Context, source, ownerKey string, remoteTotal decimal.Decimal, items []domain.CartItem) decimal.Decimal {
	local := CartSubtotal(items, r.taxRate)
	m := Mismatch{
		Source:      source,
		OwnerKey:    ownerKey,
		RemoteTotal: remoteTotal,
		LocalTotal:  local,
		DetectedAt:  r.nowFunc(),
	}
	if m.Difference().LessThanOrEqual(r.tolerance) {
		return local
	}

	r.log.Warn("total mismatch, using local figure",
		zap.String("source", source),
		zap.String("owner_key", ownerKey),
		zap.String("remote_total", remoteTotal.String()),
		zap.String("local_total", local.String()),
		zap.String("difference", m.Difference().String()))

	if r.recorder != nil {
		if err := r.recorder.RecordMismatch(ctx, m); err != nil {
			r.log.Error("failed to record total mismatch", zap.Error(err))
		}
	}
	return local
}
