package keyservice

import (
	"context"
	"time"

	"github.com/corsarvpn/keyserver/internal/store"
	"github.com/corsarvpn/keyserver/internal/telemetry"
)

const (
	alertWindowLow  = 1 * time.Hour
	alertWindowHigh = 24 * time.Hour
	reapAfter       = 24 * time.Hour
)

// Sweep runs the expiry sweeper pass:
// marks keys entering their alert window, disables keys that just expired,
// and reaps keys abandoned for ≥24h.
func (s *Service) Sweep(ctx context.Context) error {
	keys, err := s.store.Keys.ListAll(ctx)
	if err != nil {
		return err
	}
	now := s.clock.NowCivil()

	for _, key := range keys {
		remaining := key.Finish.Sub(now)

		switch {
		case key.Finish.Before(now) && now.Sub(key.Finish) >= reapAfter:
			s.reap(ctx, key)

		case !key.Finish.Before(now):
			if remaining <= alertWindowHigh && remaining >= alertWindowLow && !key.Alerted {
				if err := s.store.Keys.MarkAlerted(ctx, key.ID); err != nil {
					s.log.Warn("marking key alerted failed", "key_id", key.ID, "error", err)
					continue
				}
				telemetry.KeysSweptTotal.WithLabelValues("alerted").Inc()
			}

		case key.Finish.Before(now) && key.Active:
			s.disable(ctx, key)
		}
	}
	return nil
}

func (s *Service) disable(ctx context.Context, key *store.Key) {
	server, err := s.store.Servers.Get(ctx, key.ServerID)
	if err != nil {
		s.log.Error("sweeper: loading server failed", "key_id", key.ID, "error", err)
		return
	}
	client, err := s.panels.Get(ctx, server.ID, server.Host, panelCreds(server))
	if err != nil {
		s.log.Error("sweeper: connecting to panel failed", "key_id", key.ID, "error", err)
		return
	}
	if err := client.DisableClient(ctx, key.Name); err != nil {
		s.log.Error("sweeper: disabling client failed", "key_id", key.ID, "error", err)
		return
	}
	if err := s.store.Keys.Deactivate(ctx, key.ID); err != nil {
		s.log.Error("sweeper: deactivating key failed", "key_id", key.ID, "error", err)
		return
	}
	telemetry.KeysSweptTotal.WithLabelValues("disabled").Inc()
}

func (s *Service) reap(ctx context.Context, key *store.Key) {
	server, err := s.store.Servers.Get(ctx, key.ServerID)
	if err == nil {
		if client, err := s.panels.Get(ctx, server.ID, server.Host, panelCreds(server)); err == nil {
			if err := client.DisableClient(ctx, key.Name); err != nil {
				s.log.Warn("sweeper: disabling abandoned client failed, reaping anyway", "key_id", key.ID, "error", err)
			}
			if err := client.DeleteClient(ctx, key.Name); err != nil {
				s.log.Warn("sweeper: deleting abandoned client failed, reaping anyway", "key_id", key.ID, "error", err)
			}
		} else {
			s.log.Warn("sweeper: connecting to panel for reap failed, reaping anyway", "key_id", key.ID, "error", err)
		}
	} else {
		s.log.Warn("sweeper: loading server for reap failed, reaping anyway", "key_id", key.ID, "error", err)
	}

	if err := s.store.Keys.Delete(ctx, key.ID); err != nil {
		s.log.Error("sweeper: deleting key row failed", "key_id", key.ID, "error", err)
		return
	}
	telemetry.KeysSweptTotal.WithLabelValues("reaped").Inc()
}
