package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TextSettings holds the singleton row of device setup copy and links shown
// to users. There is exactly one row (id = 1, enforced by CHECK).
type TextSettings struct {
	IPhoneVideo  *string
	IPhoneURL    *string
	AndroidVideo *string
	AndroidURL   *string
	MacOSVideo   *string
	MacOSURL     *string
	WindowsVideo *string
	WindowsURL   *string
	FAQList      []string
	TestHours    int
}

// TextSettingsStore provides access to the singleton text_settings row.
type TextSettingsStore struct {
	dbtx DBTX
}

const textSettingsColumns = `iphone_video, iphone_url, android_video, android_url, macos_video, macos_url, windows_video, windows_url, faq_list, test_hours`

// Get fetches the singleton settings row, seeding defaults on first access.
func (s *TextSettingsStore) Get(ctx context.Context) (*TextSettings, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+textSettingsColumns+` FROM text_settings WHERE id = 1`)
	var t TextSettings
	err := row.Scan(
		&t.IPhoneVideo, &t.IPhoneURL, &t.AndroidVideo, &t.AndroidURL,
		&t.MacOSVideo, &t.MacOSURL, &t.WindowsVideo, &t.WindowsURL,
		&t.FAQList, &t.TestHours,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.seedDefault(ctx)
		}
		return nil, fmt.Errorf("scanning text settings: %w", err)
	}
	return &t, nil
}

func (s *TextSettingsStore) seedDefault(ctx context.Context) (*TextSettings, error) {
	_, err := s.dbtx.Exec(ctx, `INSERT INTO text_settings (id) VALUES (1) ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return nil, fmt.Errorf("seeding text settings: %w", err)
	}
	return s.Get(ctx)
}

// Update replaces the singleton settings row in place.
func (s *TextSettingsStore) Update(ctx context.Context, t *TextSettings) error {
	_, err := s.dbtx.Exec(ctx, `
		UPDATE text_settings SET
			iphone_video = $1, iphone_url = $2, android_video = $3, android_url = $4,
			macos_video = $5, macos_url = $6, windows_video = $7, windows_url = $8,
			faq_list = $9, test_hours = $10
		WHERE id = 1`,
		t.IPhoneVideo, t.IPhoneURL, t.AndroidVideo, t.AndroidURL,
		t.MacOSVideo, t.MacOSURL, t.WindowsVideo, t.WindowsURL,
		t.FAQList, t.TestHours,
	)
	if err != nil {
		return fmt.Errorf("updating text settings: %w", err)
	}
	return nil
}
