// Package keyservice implements the key lifecycle: server selection,
// create/prolong/transfer, and the expiry sweeper. It bridges the panel
// client (C3) and the persistence store (C2), and triggers notification
// lifecycle hooks (C6).
package keyservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/corsarvpn/keyserver/internal/clock"
	"github.com/corsarvpn/keyserver/internal/store"
	"github.com/corsarvpn/keyserver/internal/telemetry"
	"github.com/corsarvpn/keyserver/pkg/messaging"
	"github.com/corsarvpn/keyserver/pkg/notify"
	"github.com/corsarvpn/keyserver/pkg/panel"
)

// ErrNoServerAvailable is raised when no server exists for the requested
// kind (test/paid).
var ErrNoServerAvailable = errors.New("keyservice: no server available")

// Service provisions and maintains keys.
type Service struct {
	store        *store.Store
	clock        *clock.Clock
	panels       *panel.Factory
	notify       *notify.Engine
	provider     messaging.Provider
	log          *slog.Logger
	prefix       string
	disableNotif bool
}

// New creates a key Service.
func New(st *store.Store, clk *clock.Clock, panels *panel.Factory, eng *notify.Engine, provider messaging.Provider, prefix string, disableNotifications bool, log *slog.Logger) *Service {
	return &Service{
		store:        st,
		clock:        clk,
		panels:       panels,
		notify:       eng,
		provider:     provider,
		log:          log,
		prefix:       prefix,
		disableNotif: disableNotifications,
	}
}

// selectServer picks the least-loaded server for the requested kind.
func (s *Service) selectServer(ctx context.Context, isTest bool) (*store.Server, error) {
	servers, err := s.store.Servers.ListSortedByFreeSlots(ctx, isTest)
	if err != nil {
		return nil, fmt.Errorf("selecting server: %w", err)
	}
	if len(servers) == 0 {
		_ = s.provider.SendAdmins(ctx, messaging.Message{
			MediaType: messaging.MediaText,
			Text:      "No server available for key provisioning (is_test=" + boolStr(isTest) + ").",
		})
		return nil, ErrNoServerAvailable
	}
	return servers[0], nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (s *Service) notifyUser(ctx context.Context, userID int64, text string) {
	if s.disableNotif {
		return
	}
	if _, err := s.provider.Send(ctx, userID, messaging.Message{MediaType: messaging.MediaText, Text: text}); err != nil {
		s.log.Warn("notifying user failed", "user_id", userID, "error", err)
	}
}
