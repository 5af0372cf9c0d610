package telegram

import (
	"strings"
	"testing"

	"github.com/corsarvpn/keyserver/pkg/messaging"
)

func TestBuildCall_MediaTypeSelectsMethod(t *testing.T) {
	p := New("token", 1, nil)

	tests := []struct {
		name       string
		msg        messaging.Message
		wantMethod string
		wantParam  string
	}{
		{name: "text", msg: messaging.Message{MediaType: messaging.MediaText, Text: "hi"}, wantMethod: "sendMessage", wantParam: "text"},
		{name: "photo", msg: messaging.Message{MediaType: messaging.MediaPhoto, MediaID: "file1", Text: "caption"}, wantMethod: "sendPhoto", wantParam: "photo"},
		{name: "video", msg: messaging.Message{MediaType: messaging.MediaVideo, MediaID: "file2"}, wantMethod: "sendVideo", wantParam: "video"},
		{name: "document", msg: messaging.Message{MediaType: messaging.MediaDocument, MediaID: "file3"}, wantMethod: "sendDocument", wantParam: "document"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method, params := p.buildCall(42, tt.msg)
			if method != tt.wantMethod {
				t.Errorf("method = %q, want %q", method, tt.wantMethod)
			}
			if !params.Has(tt.wantParam) {
				t.Errorf("params missing %q: %v", tt.wantParam, params)
			}
			if params.Get("chat_id") != "42" {
				t.Errorf("chat_id = %q, want 42", params.Get("chat_id"))
			}
		})
	}
}

func TestEncodeKeyboard_EmptyYieldsNoMarkup(t *testing.T) {
	if got := encodeKeyboard(nil); got != "" {
		t.Errorf("encodeKeyboard(nil) = %q, want empty", got)
	}
}

func TestEncodeKeyboard_EncodesURLAndCallbackButtons(t *testing.T) {
	rows := [][]messaging.Button{
		{{Text: "Open", URL: "https://example.com"}, {Text: "Pick", CallbackData: "choice:1"}},
	}
	got := encodeKeyboard(rows)
	for _, want := range []string{`"text":"Open"`, `"url":"https://example.com"`, `"text":"Pick"`, `"callback_data":"choice:1"`} {
		if !strings.Contains(got, want) {
			t.Errorf("encoded keyboard %s missing %q", got, want)
		}
	}
}

func TestBuildCall_SetsParseModeAndKeyboard(t *testing.T) {
	p := New("token", 1, nil)
	msg := messaging.Message{
		MediaType: messaging.MediaText,
		Text:      "hi",
		ParseMode: "HTML",
		Buttons:   [][]messaging.Button{{{Text: "Go", URL: "https://example.com"}}},
	}
	_, params := p.buildCall(1, msg)
	if params.Get("parse_mode") != "HTML" {
		t.Errorf("parse_mode = %q, want HTML", params.Get("parse_mode"))
	}
	if !strings.Contains(params.Get("reply_markup"), "inline_keyboard") {
		t.Errorf("reply_markup missing inline_keyboard: %s", params.Get("reply_markup"))
	}
}
