package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/corsarvpn/keyserver/internal/clock"
	"github.com/corsarvpn/keyserver/internal/store"
	"github.com/corsarvpn/keyserver/internal/telemetry"
	"github.com/corsarvpn/keyserver/pkg/keyservice"
	"github.com/corsarvpn/keyserver/pkg/messaging"
)

// ErrPromoRejected is returned when a promo code fails validation: expiry,
// per-user cap, or tariff whitelist.
var ErrPromoRejected = errors.New("payment: promo rejected")

const pendingTimeout = 30 * time.Minute

// Pipeline drives the payment state machine: creation, the two
// polling tickers, and the idempotent Issue provisioning step.
type Pipeline struct {
	store    *store.Store
	clock    *clock.Clock
	provider Provider
	keys     *keyservice.Service
	msg      messaging.Provider
	log      *slog.Logger

	issueGroup singleflight.Group
}

// New creates a payment Pipeline.
func New(st *store.Store, clk *clock.Clock, provider Provider, keys *keyservice.Service, msg messaging.Provider, log *slog.Logger) *Pipeline {
	return &Pipeline{store: st, clock: clk, provider: provider, keys: keys, msg: msg, log: log}
}

// CreateParams are the inputs to CreatePayment.
type CreateParams struct {
	UserID   int64
	TariffID int64
	Device   string
	KeyID    *int64
	Promo    *string
}

// CreatePayment resolves the tariff/promo, opens a provider checkout intent,
// and persists a new pending payment.
func (p *Pipeline) CreatePayment(ctx context.Context, params CreateParams) (*store.Payment, error) {
	tariff, err := p.store.Tariffs.Get(ctx, params.TariffID)
	if err != nil {
		return nil, fmt.Errorf("loading tariff %d: %w", params.TariffID, err)
	}

	price := tariff.Price
	if params.Promo != nil {
		discounted, err := p.resolvePromo(ctx, *params.Promo, params.UserID, tariff)
		if err != nil {
			return nil, err
		}
		price = discounted
	}

	label := uuid.NewString()
	redirectURL, err := p.provider.CreateIntent(ctx, Intent{
		Receiver: "", // filled in by the concrete provider from its own account config.
		Targets:  fmt.Sprintf("Tariff %s", tariff.Name),
		Sum:      price,
		Label:    label,
	})
	if err != nil {
		return nil, fmt.Errorf("creating provider intent: %w", err)
	}

	created, err := p.store.Payments.Create(ctx, &store.Payment{
		Label:    label,
		UserID:   params.UserID,
		TariffID: params.TariffID,
		Amount:   price,
		URL:      redirectURL,
		Device:   nonEmptyPtr(params.Device),
		Promo:    params.Promo,
		KeyID:    params.KeyID,
	})
	if err != nil {
		return nil, fmt.Errorf("persisting payment: %w", err)
	}
	return created, nil
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// resolvePromo enforces expiry, per-user cap, and tariff whitelist, and
// returns the discounted price.
func (p *Pipeline) resolvePromo(ctx context.Context, code string, userID int64, tariff *store.Tariff) (int64, error) {
	promo, err := p.store.Promos.Get(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("%w: code %q not found", ErrPromoRejected, code)
	}

	now := p.clock.NowCivil()
	if promo.FinishTime != nil && promo.FinishTime.Before(now) {
		return 0, fmt.Errorf("%w: code %q expired", ErrPromoRejected, code)
	}
	if promo.UsersLimit > 0 && len(promo.Users) >= promo.UsersLimit {
		return 0, fmt.Errorf("%w: code %q reached its user cap", ErrPromoRejected, code)
	}
	if len(promo.Tariffs) > 0 && !int64In(promo.Tariffs, tariff.ID) {
		return 0, fmt.Errorf("%w: code %q not valid for tariff %d", ErrPromoRejected, code, tariff.ID)
	}

	return tariff.Price * (100 - promo.Price) / 100, nil
}

func int64In(haystack []int64, needle int64) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

// CancelPayment marks a pending payment as an operator/user-initiated
// cancellation, the terminal error branch.
func (p *Pipeline) CancelPayment(ctx context.Context, paymentID int64) error {
	return p.store.Payments.MarkError(ctx, paymentID)
}

// PollPendingTick implements the payments_pending job.
func (p *Pipeline) PollPendingTick(ctx context.Context) error {
	pending, err := p.store.Payments.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("listing pending payments: %w", err)
	}

	now := p.clock.NowUTC()
	for _, payment := range pending {
		confirmed, err := p.provider.CheckStatus(ctx, payment.Label)
		if err != nil {
			p.log.Warn("checking payment status failed, leaving pending", "payment_id", payment.ID, "error", err)
			continue
		}

		switch {
		case confirmed:
			if err := p.store.Payments.MarkSuccess(ctx, payment.ID); err != nil {
				p.log.Error("marking payment success failed", "payment_id", payment.ID, "error", err)
				continue
			}
			telemetry.PaymentsProcessedTotal.WithLabelValues("success").Inc()
			p.issue(ctx, payment.ID)

		case now.Sub(payment.CreatedAt) >= pendingTimeout:
			if _, err := p.store.Payments.DeleteExpired(ctx, now.Add(-pendingTimeout)); err != nil {
				p.log.Error("deleting expired payment failed", "payment_id", payment.ID, "error", err)
			} else {
				telemetry.PaymentsProcessedTotal.WithLabelValues("expired").Inc()
			}

		default:
			// still pending, still within the timeout window.
		}
	}
	return nil
}

// RecoverTick implements the payments_recover job: retries
// Issue for every payment stuck in success without a key, covering a crash
// between mark_success and mark_key_issued.
func (p *Pipeline) RecoverTick(ctx context.Context) error {
	stuck, err := p.store.Payments.ListSuccessWithoutKey(ctx)
	if err != nil {
		return fmt.Errorf("listing success-without-key payments: %w", err)
	}
	for _, payment := range stuck {
		p.issue(ctx, payment.ID)
	}
	return nil
}

// issue runs Issue guarded by a singleflight group so concurrent ticks never
// double-provision the same payment.
func (p *Pipeline) issue(ctx context.Context, paymentID int64) {
	key := fmt.Sprintf("%d", paymentID)
	_, err, _ := p.issueGroup.Do(key, func() (any, error) {
		return nil, p.Issue(ctx, paymentID)
	})
	if err != nil {
		p.log.Error("issuing payment failed", "payment_id", paymentID, "error", err)
	}
}
