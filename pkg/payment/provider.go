// Package payment implements the payment pipeline's provider boundary and
// state machine.
package payment

import "context"

// Intent is the input to Provider.CreateIntent.
type Intent struct {
	Receiver string
	Targets  string
	Sum      int64
	Label    string
}

// Provider is the payment checkout integration boundary. Create-intent
// returns a redirect URL; check-status returns false on any provider error
// — ambiguous responses must never be read as success.
type Provider interface {
	CreateIntent(ctx context.Context, intent Intent) (redirectURL string, err error)
	CheckStatus(ctx context.Context, label string) (confirmed bool, err error)
}
