package messaging

import (
	"strings"
	"testing"
)

func TestRender_DefaultsMediaTypeAndParseMode(t *testing.T) {
	tpl := &Template{Text: "hello"}
	msg := tpl.Render()
	if msg.MediaType != MediaText {
		t.Errorf("MediaType = %q, want %q", msg.MediaType, MediaText)
	}
	if msg.ParseMode != "HTML" {
		t.Errorf("ParseMode = %q, want HTML", msg.ParseMode)
	}
}

func TestRender_DropsInvalidButtons(t *testing.T) {
	tpl := &Template{
		Text: "hello",
		Buttons: [][]TemplateButton{
			{
				{Text: "", URL: "https://example.com"},                     // no text
				{Text: "both set", URL: "https://example.com", CallbackData: "x"}, // both url and callback
				{Text: "neither set"},                                       // neither
				{Text: "bad scheme", URL: "ftp://example.com"},
				{Text: "no host", URL: "https:///path"},
				{Text: "too long callback", CallbackData: strings.Repeat("a", 65)},
				{Text: "ok url", URL: "https://example.com"},
				{Text: "ok callback", CallbackData: "choice:1"},
			},
		},
	}

	msg := tpl.Render()
	if len(msg.Buttons) != 1 {
		t.Fatalf("expected one surviving row, got %d", len(msg.Buttons))
	}
	row := msg.Buttons[0]
	if len(row) != 2 {
		t.Fatalf("expected 2 surviving buttons, got %d: %+v", len(row), row)
	}
	if row[0].Text != "ok url" || row[1].Text != "ok callback" {
		t.Errorf("unexpected surviving buttons: %+v", row)
	}
}

func TestRender_DropsEmptyRowsEntirely(t *testing.T) {
	tpl := &Template{
		Text: "hello",
		Buttons: [][]TemplateButton{
			{{Text: "bad", URL: "not-a-url"}},
		},
	}
	msg := tpl.Render()
	if msg.Buttons != nil {
		t.Errorf("expected no button rows to survive, got %+v", msg.Buttons)
	}
}

func TestParseTemplate(t *testing.T) {
	raw := []byte(`{"text":"hi","media_type":"photo","media_id":"file1"}`)
	tpl, err := ParseTemplate(raw)
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}
	if tpl.MediaType != MediaPhoto || tpl.MediaID != "file1" {
		t.Errorf("unexpected template: %+v", tpl)
	}
}

func TestParseTemplate_InvalidJSON(t *testing.T) {
	if _, err := ParseTemplate([]byte("not json")); err == nil {
		t.Errorf("expected an error for invalid JSON")
	}
}
