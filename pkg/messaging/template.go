package messaging

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// Template is the JSON shape stored on a NotificationRule.
type Template struct {
	MediaType MediaType          `json:"media_type"`
	MediaID   string             `json:"media_id,omitempty"`
	Text      string             `json:"text"`
	ParseMode string             `json:"parse_mode"`
	Buttons   [][]TemplateButton `json:"buttons,omitempty"`
}

// TemplateButton is one raw button entry before validation.
type TemplateButton struct {
	Text         string `json:"text"`
	URL          string `json:"url,omitempty"`
	CallbackData string `json:"callback_data,omitempty"`
}

// ParseTemplate decodes a rule's stored message_template JSON.
func ParseTemplate(raw []byte) (*Template, error) {
	var t Template
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parsing message template: %w", err)
	}
	return &t, nil
}

// Render turns a Template into an outbound Message, dropping any button row
// entry that fails validation: text required, exactly one of url or
// callback_data, url must be http(s) with a non-empty host, callback_data
// at most 64 bytes.
func (t *Template) Render() Message {
	msg := Message{
		MediaType: t.MediaType,
		MediaID:   t.MediaID,
		Text:      t.Text,
		ParseMode: t.ParseMode,
	}
	if msg.MediaType == "" {
		msg.MediaType = MediaText
	}
	if msg.ParseMode == "" {
		msg.ParseMode = "HTML"
	}

	for _, row := range t.Buttons {
		var rendered []Button
		for _, b := range row {
			if btn, ok := validateButton(b); ok {
				rendered = append(rendered, btn)
			}
		}
		if len(rendered) > 0 {
			msg.Buttons = append(msg.Buttons, rendered)
		}
	}
	return msg
}

func validateButton(b TemplateButton) (Button, bool) {
	if b.Text == "" {
		return Button{}, false
	}

	hasURL := b.URL != ""
	hasCallback := b.CallbackData != ""
	if hasURL == hasCallback {
		return Button{}, false
	}

	if hasURL {
		u, err := url.Parse(b.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Button{}, false
		}
	}

	if hasCallback && len(b.CallbackData) > 64 {
		return Button{}, false
	}

	return Button{Text: b.Text, URL: b.URL, CallbackData: b.CallbackData}, true
}
