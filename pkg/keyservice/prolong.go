package keyservice

import (
	"context"
	"fmt"
	"time"

	"github.com/corsarvpn/keyserver/internal/telemetry"
)

// Prolong extends an existing key's finish time by days and re-enables it on
// the panel.
func (s *Service) Prolong(ctx context.Context, keyID int64, days int) error {
	key, err := s.store.Keys.Get(ctx, keyID)
	if err != nil {
		return fmt.Errorf("loading key %d: %w", keyID, err)
	}
	server, err := s.store.Servers.Get(ctx, key.ServerID)
	if err != nil {
		return fmt.Errorf("loading server %d: %w", key.ServerID, err)
	}

	now := s.clock.NowCivil()
	base := key.Finish
	if base.Before(now) {
		base = now
	}
	newFinish := base.Add(time.Duration(days) * 24 * time.Hour)

	if err := s.store.Keys.UpdateFields(ctx, keyID, s.clock.ToStore(newFinish), true); err != nil {
		return fmt.Errorf("persisting prolongation: %w", err)
	}

	client, err := s.panels.Get(ctx, server.ID, server.Host, panelCreds(server))
	if err != nil {
		return fmt.Errorf("connecting to panel for server %d: %w", server.ID, err)
	}
	newDays := int(newFinish.Sub(now) / (24 * time.Hour))
	if err := client.EnableClient(ctx, key.Name, newDays); err != nil {
		return fmt.Errorf("enabling client on panel: %w", err)
	}

	s.notifyUser(ctx, key.UserID, "Your key has been prolonged.")

	if key.IsTest {
		if err := s.notify.OnTrialKeyProlonged(ctx, key.UserID); err != nil {
			s.log.Warn("on_trial_key_prolonged hook failed", "user_id", key.UserID, "error", err)
		}
	} else {
		if err := s.notify.OnPaidKeyProlonged(ctx, key.UserID); err != nil {
			s.log.Warn("on_paid_key_prolonged hook failed", "user_id", key.UserID, "error", err)
		}
	}
	if err := s.notify.SyncUserKeyRules(ctx, key.UserID, []int64{key.ID}); err != nil {
		s.log.Warn("syncing key-based notification rules failed", "key_id", key.ID, "error", err)
	}

	telemetry.KeysIssuedTotal.WithLabelValues(key.Device, boolStr(key.IsTest)).Inc()
	return nil
}
