package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/corsarvpn/keyserver/internal/store"
	"github.com/corsarvpn/keyserver/internal/telemetry"
	"github.com/corsarvpn/keyserver/pkg/keyservice"
)

// Issue is the idempotent provisioning step, safe under concurrent
// invocation for the same payment.
func (p *Pipeline) Issue(ctx context.Context, paymentID int64) error {
	issued, err := p.store.Payments.IsKeyIssued(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("checking key issued: %w", err)
	}
	if issued {
		return nil
	}

	payment, err := p.store.Payments.Get(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("loading payment %d: %w", paymentID, err)
	}

	if payment.KeyID != nil {
		handled, err := p.issueAgainstExistingKeyID(ctx, payment)
		if handled || err != nil {
			return err
		}
	}

	if existing, err := p.findKeyByPaymentID(ctx, payment.ID); err == nil && existing != nil {
		return p.resendAndMarkIssued(ctx, payment, existing)
	}

	tariff, err := p.store.Tariffs.Get(ctx, payment.TariffID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = p.store.Payments.MarkError(ctx, payment.ID)
			_ = p.msg.SendAdmins(ctx, adminTariffMissingMessage(payment.ID, payment.TariffID))
			telemetry.PaymentsProcessedTotal.WithLabelValues("error_tariff_missing").Inc()
			return nil // stop recovery for this payment; terminal state.
		}
		return fmt.Errorf("loading tariff %d: %w", payment.TariffID, err)
	}

	device := ""
	if payment.Device != nil {
		device = *payment.Device
	}

	if payment.KeyID == nil {
		finish := p.clock.NowCivil().AddDate(0, 0, tariff.Days)
		newKey, err := p.keys.Create(ctx, keyservice.CreateParams{
			UserID:    payment.UserID,
			Device:    device,
			Finish:    finish,
			IsTest:    false,
			PaymentID: &payment.ID,
			Promo:     payment.Promo,
		})
		if err != nil {
			return fmt.Errorf("creating key for payment %d: %w", payment.ID, err)
		}
		if err := p.store.Payments.MarkKeyIssued(ctx, payment.ID, newKey.ID); err != nil {
			return fmt.Errorf("marking key issued: %w", err)
		}
		telemetry.PaymentsProcessedTotal.WithLabelValues("key_issued").Inc()
		return nil
	}

	if err := p.keys.Prolong(ctx, *payment.KeyID, tariff.Days); err != nil {
		return fmt.Errorf("prolonging key %d for payment %d: %w", *payment.KeyID, payment.ID, err)
	}
	if err := p.store.Payments.MarkKeyIssued(ctx, payment.ID, *payment.KeyID); err != nil {
		return fmt.Errorf("marking key issued: %w", err)
	}
	telemetry.PaymentsProcessedTotal.WithLabelValues("key_issued").Inc()
	return nil
}

// issueAgainstExistingKeyID handles the payment.key_id-set branch of Issue:
// either the key is already linked back to this payment (resend), or it
// belongs to a different payment and this is really a prolongation. It
// reports false when the referenced key no longer exists, after clearing
// payment.KeyID, so Issue goes on to create a new key.
func (p *Pipeline) issueAgainstExistingKeyID(ctx context.Context, payment *store.Payment) (bool, error) {
	key, err := p.store.Keys.Get(ctx, *payment.KeyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.log.Warn("payment references a missing key, falling through to create", "payment_id", payment.ID, "key_id", *payment.KeyID)
			payment.KeyID = nil
			return false, nil
		}
		return true, fmt.Errorf("loading key %d: %w", *payment.KeyID, err)
	}

	if key.PaymentID != nil && *key.PaymentID == payment.ID {
		return true, p.resendAndMarkIssued(ctx, payment, key)
	}

	tariff, err := p.store.Tariffs.Get(ctx, payment.TariffID)
	if err != nil {
		return true, fmt.Errorf("loading tariff for prolongation: %w", err)
	}
	if err := p.keys.Prolong(ctx, key.ID, tariff.Days); err != nil {
		return true, fmt.Errorf("prolonging key %d: %w", key.ID, err)
	}
	return true, p.store.Payments.MarkKeyIssued(ctx, payment.ID, key.ID)
}

func (p *Pipeline) findKeyByPaymentID(ctx context.Context, paymentID int64) (*store.Key, error) {
	keys, err := p.store.Keys.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if k.PaymentID != nil && *k.PaymentID == paymentID {
			return k, nil
		}
	}
	return nil, nil
}

func (p *Pipeline) resendAndMarkIssued(ctx context.Context, payment *store.Payment, key *store.Key) error {
	if _, err := p.msg.Send(ctx, payment.UserID, resendMessage(key.Key)); err != nil {
		p.log.Warn("resending key uri failed, marking issued anyway", "payment_id", payment.ID, "error", err)
	}
	return p.store.Payments.MarkKeyIssued(ctx, payment.ID, key.ID)
}
