package keyservice

import (
	"context"
	"fmt"
	"time"

	"github.com/corsarvpn/keyserver/internal/store"
	"github.com/corsarvpn/keyserver/internal/telemetry"
	"github.com/corsarvpn/keyserver/pkg/panel"
)

// CreateParams are the inputs to Create.
type CreateParams struct {
	UserID    int64
	Device    string
	Finish    time.Time
	IsTest    bool
	PaymentID *int64
	Promo     *string
}

// Create provisions a new key: selects a server, calls the panel, persists
// the Key row, and fires the appropriate lifecycle notifications.
func (s *Service) Create(ctx context.Context, p CreateParams) (*store.Key, error) {
	device := p.Device
	if device == "" {
		device = "unknown"
	}

	server, err := s.selectServer(ctx, p.IsTest)
	if err != nil {
		return nil, err
	}

	n, err := s.store.Keys.NextDeviceIndex(ctx, p.UserID, device)
	if err != nil {
		return nil, fmt.Errorf("computing next device index: %w", err)
	}
	name := fmt.Sprintf("%s_%d_%s_%d", s.prefix, p.UserID, device, n)

	now := s.clock.NowCivil()
	days := int(p.Finish.Sub(now).Hours() / 24)

	client, err := s.panels.Get(ctx, server.ID, server.Host, panelCreds(server))
	if err != nil {
		return nil, fmt.Errorf("connecting to panel for server %d: %w", server.ID, err)
	}

	if _, err := client.AddClient(ctx, name, days); err != nil {
		return nil, fmt.Errorf("adding client on panel: %w", err)
	}

	uri, err := client.RenderKeyURI(ctx, name, s.prefix)
	if err != nil {
		return nil, fmt.Errorf("rendering key uri: %w", err)
	}

	key, err := s.store.Keys.Create(ctx, &store.Key{
		UserID:    p.UserID,
		ServerID:  server.ID,
		Key:       uri,
		Device:    device,
		Name:      name,
		PaymentID: p.PaymentID,
		Start:     s.clock.ToStore(now),
		Finish:    s.clock.ToStore(p.Finish),
		Active:    true,
		IsTest:    p.IsTest,
	})
	if err != nil {
		return nil, fmt.Errorf("persisting key: %w", err)
	}

	if p.IsTest {
		if err := s.store.Users.SetTrialUsed(ctx, p.UserID, s.clock.ToStore(p.Finish)); err != nil {
			s.log.Warn("marking trial used failed", "user_id", p.UserID, "error", err)
		}
	}

	s.notifyUser(ctx, p.UserID, "Your key is ready.")
	s.notifyUser(ctx, p.UserID, uri)

	if p.Promo != nil {
		if err := s.store.Promos.RecordRedemption(ctx, *p.Promo, p.UserID); err != nil {
			s.log.Warn("recording promo redemption failed", "promo", *p.Promo, "error", err)
		}
	}

	if err := s.notify.SyncUserKeyRules(ctx, p.UserID, []int64{key.ID}); err != nil {
		s.log.Warn("syncing key-based notification rules failed", "key_id", key.ID, "error", err)
	}

	if p.IsTest {
		if err := s.notify.OnTrialKeyCreated(ctx, p.UserID); err != nil {
			s.log.Warn("on_trial_key_created hook failed", "user_id", p.UserID, "error", err)
		}
	} else {
		if err := s.notify.OnPaidKeyCreated(ctx, p.UserID); err != nil {
			s.log.Warn("on_paid_key_created hook failed", "user_id", p.UserID, "error", err)
		}
	}

	telemetry.KeysIssuedTotal.WithLabelValues(device, boolStr(p.IsTest)).Inc()
	return key, nil
}

func panelCreds(server *store.Server) panel.Credentials {
	return panel.Credentials{Login: server.Login, Password: server.Password}
}
