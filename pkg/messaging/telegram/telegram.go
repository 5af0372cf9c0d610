// Package telegram implements messaging.Provider against the Telegram Bot
// API, the concrete sink for the keyserver core.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/corsarvpn/keyserver/pkg/messaging"
)

const apiBase = "https://api.telegram.org"

// DeliveryError is raised when Telegram rejects a send (blocked/deleted
// user, chat not found). The core treats this as non-fatal.
type DeliveryError struct {
	Description string
}

func (e *DeliveryError) Error() string { return "telegram: " + e.Description }

// Provider sends messages through a single bot token.
type Provider struct {
	token       string
	adminChatID int64
	http        *http.Client
	log         *slog.Logger
}

// New creates a Telegram Provider. adminChatID receives SendAdmins broadcasts.
func New(token string, adminChatID int64, log *slog.Logger) *Provider {
	return &Provider{
		token:       token,
		adminChatID: adminChatID,
		http:        &http.Client{Timeout: 10 * time.Second},
		log:         log,
	}
}

// Name identifies this provider.
func (p *Provider) Name() string { return "telegram" }

// Send renders msg for the appropriate Telegram method (sendMessage,
// sendPhoto, sendVideo, sendDocument) and delivers it to userID.
func (p *Provider) Send(ctx context.Context, userID int64, msg messaging.Message) (string, error) {
	method, params := p.buildCall(userID, msg)
	return p.call(ctx, method, params)
}

// SendAdmins broadcasts msg to the configured operator chat.
func (p *Provider) SendAdmins(ctx context.Context, msg messaging.Message) error {
	_, err := p.Send(ctx, p.adminChatID, msg)
	return err
}

func (p *Provider) buildCall(userID int64, msg messaging.Message) (string, url.Values) {
	params := url.Values{"chat_id": {strconv.FormatInt(userID, 10)}}
	if msg.ParseMode != "" {
		params.Set("parse_mode", msg.ParseMode)
	}
	if markup := encodeKeyboard(msg.Buttons); markup != "" {
		params.Set("reply_markup", markup)
	}

	switch msg.MediaType {
	case messaging.MediaPhoto:
		params.Set("photo", msg.MediaID)
		params.Set("caption", msg.Text)
		return "sendPhoto", params
	case messaging.MediaVideo:
		params.Set("video", msg.MediaID)
		params.Set("caption", msg.Text)
		return "sendVideo", params
	case messaging.MediaDocument:
		params.Set("document", msg.MediaID)
		params.Set("caption", msg.Text)
		return "sendDocument", params
	default:
		params.Set("text", msg.Text)
		return "sendMessage", params
	}
}

func encodeKeyboard(rows [][]messaging.Button) string {
	if len(rows) == 0 {
		return ""
	}

	type tgButton struct {
		Text         string `json:"text"`
		URL          string `json:"url,omitempty"`
		CallbackData string `json:"callback_data,omitempty"`
	}
	keyboard := make([][]tgButton, 0, len(rows))
	for _, row := range rows {
		tgRow := make([]tgButton, 0, len(row))
		for _, b := range row {
			tgRow = append(tgRow, tgButton{Text: b.Text, URL: b.URL, CallbackData: b.CallbackData})
		}
		keyboard = append(keyboard, tgRow)
	}

	b, err := json.Marshal(map[string]any{"inline_keyboard": keyboard})
	if err != nil {
		return ""
	}
	return string(b)
}

// call performs a bounded Telegram Bot API request and returns the resulting
// message id on success.
func (p *Provider) call(ctx context.Context, method string, params url.Values) (string, error) {
	endpoint := fmt.Sprintf("%s/bot%s/%s", apiBase, p.token, method)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("building telegram request: %w", err)
	}
	req.URL.RawQuery = params.Encode()

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	var parsed struct {
		OK     bool `json:"ok"`
		Result struct {
			MessageID int `json:"message_id"`
		} `json:"result"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding telegram response: %w", err)
	}

	if !parsed.OK {
		p.log.Warn("telegram delivery failed", "method", method, "description", parsed.Description)
		return "", &DeliveryError{Description: parsed.Description}
	}
	return strconv.Itoa(parsed.Result.MessageID), nil
}
