package keyservice

import (
	"context"
	"fmt"

	"github.com/corsarvpn/keyserver/pkg/messaging"
)

func adminSagaFailureMessage(keyID int64, step string, err error) messaging.Message {
	return messaging.Message{
		MediaType: messaging.MediaText,
		Text:      fmt.Sprintf("Key transfer saga failed for key %d at step %q: %v", keyID, step, err),
	}
}

// Transfer moves a key to a different server: deletes the old panel client,
// adds a new one, and updates the key row. The two panel operations form a
// best-effort saga; failure of the second surfaces to operators.
func (s *Service) Transfer(ctx context.Context, keyID, newServerID int64) error {
	key, err := s.store.Keys.Get(ctx, keyID)
	if err != nil {
		return fmt.Errorf("loading key %d: %w", keyID, err)
	}
	oldServer, err := s.store.Servers.Get(ctx, key.ServerID)
	if err != nil {
		return fmt.Errorf("loading current server %d: %w", key.ServerID, err)
	}
	newServer, err := s.store.Servers.Get(ctx, newServerID)
	if err != nil {
		return fmt.Errorf("loading target server %d: %w", newServerID, err)
	}

	oldClient, err := s.panels.Get(ctx, oldServer.ID, oldServer.Host, panelCreds(oldServer))
	if err != nil {
		s.log.Warn("connecting to old panel for transfer failed", "server_id", oldServer.ID, "error", err)
	} else if err := oldClient.DeleteClient(ctx, key.Name); err != nil {
		s.log.Warn("deleting client from old panel failed, continuing transfer", "key_id", keyID, "error", err)
	}

	now := s.clock.NowCivil()
	days := int(key.Finish.Sub(now).Hours() / 24)

	n, err := s.store.Keys.NextDeviceIndex(ctx, key.UserID, key.Device)
	if err != nil {
		return fmt.Errorf("computing next device index on target server: %w", err)
	}
	newName := fmt.Sprintf("%s_%d_%s_%d", s.prefix, key.UserID, key.Device, n)

	newClient, err := s.panels.Get(ctx, newServer.ID, newServer.Host, panelCreds(newServer))
	if err != nil {
		_ = s.provider.SendAdmins(ctx, adminSagaFailureMessage(keyID, "connecting to target panel", err))
		return fmt.Errorf("connecting to target panel: %w", err)
	}
	if _, err := newClient.AddClient(ctx, newName, days); err != nil {
		_ = s.provider.SendAdmins(ctx, adminSagaFailureMessage(keyID, "adding client on target panel", err))
		return fmt.Errorf("adding client on target panel: %w", err)
	}

	uri, err := newClient.RenderKeyURI(ctx, newName, s.prefix)
	if err != nil {
		_ = s.provider.SendAdmins(ctx, adminSagaFailureMessage(keyID, "rendering uri on target panel", err))
		return fmt.Errorf("rendering uri on target panel: %w", err)
	}

	if err := s.store.Keys.UpdateOnTransfer(ctx, keyID, newServer.ID, uri, key.Device, newName); err != nil {
		return fmt.Errorf("persisting transfer: %w", err)
	}

	s.notifyUser(ctx, key.UserID, "Your key has moved to a new server.")
	s.notifyUser(ctx, key.UserID, uri)
	return nil
}
