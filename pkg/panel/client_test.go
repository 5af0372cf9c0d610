package panel

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fakeInboundsResponse(clients []Client) string {
	settings, _ := json.Marshal(map[string]any{"clients": clients})
	stream, _ := json.Marshal(map[string]any{
		"network":  "tcp",
		"security": "reality",
		"realitySettings": map[string]any{
			"publicKey":   "pbk-value",
			"shortIds":    []string{"abcd"},
			"serverNames": []string{"example.com"},
		},
	})
	obj := map[string]any{
		"id":             1,
		"port":           443,
		"protocol":       "vless",
		"settings":       string(settings),
		"streamSettings": string(stream),
	}
	body, _ := json.Marshal(map[string]any{"obj": []any{obj}})
	return string(body)
}

func TestAuthenticate_JSONSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/login" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	ep, err := NewEndpoint(srv.URL)
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	c := New(ep, Credentials{Login: "admin", Password: "secret"}, discardLogger())
	if err := c.Authenticate(t.Context()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
}

func TestAuthenticate_FailsOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	ep, _ := NewEndpoint(srv.URL)
	c := New(ep, Credentials{}, discardLogger())
	if err := c.Authenticate(t.Context()); err == nil {
		t.Fatalf("expected Authenticate to fail on 401 with no cookie")
	}
}

func TestAddClient_BuildsExpiryAndFlow(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/panel/api/inbounds/addClient" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ep, _ := NewEndpoint(srv.URL)
	c := New(ep, Credentials{}, discardLogger())

	client, err := c.AddClient(t.Context(), "user-1", 30)
	if err != nil {
		t.Fatalf("AddClient: %v", err)
	}
	if client.Email != "user-1" {
		t.Errorf("Email = %q, want user-1", client.Email)
	}
	if client.Flow != "xtls-rprx-vision" {
		t.Errorf("Flow = %q, want xtls-rprx-vision", client.Flow)
	}
	if client.AlterID != 90 || client.LimitIP != 1 || client.TotalGB != 0 {
		t.Errorf("unexpected client defaults: %+v", client)
	}
	settingsRaw, ok := captured["settings"].(string)
	if !ok || !strings.Contains(settingsRaw, "user-1") {
		t.Errorf("request payload did not carry the new client: %v", captured)
	}
}

func TestRenderKeyURI_BuildsVlessURIWithRealityParams(t *testing.T) {
	clients := []Client{{ID: "client-uuid", Email: "user-1", Flow: "xtls-rprx-vision"}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fakeInboundsResponse(clients)))
	}))
	defer srv.Close()

	ep, _ := NewEndpoint(srv.URL)
	c := New(ep, Credentials{}, discardLogger())

	uri, err := c.RenderKeyURI(t.Context(), "user-1", "corsarvpn")
	if err != nil {
		t.Fatalf("RenderKeyURI: %v", err)
	}

	if !strings.HasPrefix(uri, "vless://client-uuid@") {
		t.Errorf("uri missing client id prefix: %s", uri)
	}
	for _, want := range []string{"flow=xtls-rprx-vision", "security=reality", "pbk=pbk-value", "sni=example.com", "sid=abcd", "spx=%2F"} {
		if !strings.Contains(uri, want) {
			t.Errorf("uri %s missing %q", uri, want)
		}
	}
	if !strings.HasSuffix(uri, "#corsarvpn-user-1") {
		t.Errorf("uri fragment = %s, want suffix #corsarvpn-user-1", uri)
	}
}

func TestRenderKeyURI_OmitsFlowWhenClientHasNone(t *testing.T) {
	clients := []Client{{ID: "client-uuid", Email: "user-1"}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fakeInboundsResponse(clients)))
	}))
	defer srv.Close()

	ep, _ := NewEndpoint(srv.URL)
	c := New(ep, Credentials{}, discardLogger())

	uri, err := c.RenderKeyURI(t.Context(), "user-1", "corsarvpn")
	if err != nil {
		t.Fatalf("RenderKeyURI: %v", err)
	}
	if strings.Contains(uri, "flow=") {
		t.Errorf("uri should not carry a flow param when the client has none: %s", uri)
	}
}

func TestRenderKeyURI_ClientNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fakeInboundsResponse(nil)))
	}))
	defer srv.Close()

	ep, _ := NewEndpoint(srv.URL)
	c := New(ep, Credentials{}, discardLogger())

	if _, err := c.RenderKeyURI(t.Context(), "missing-user", "corsarvpn"); err == nil {
		t.Errorf("expected an error for a client absent from the panel")
	}
}

func TestDoWithRetry_RetriesOnceOnTransportError(t *testing.T) {
	// A server that is never reachable should fail after exactly one retry,
	// wrapped with the original path for diagnostics.
	ep, _ := NewEndpoint("http://127.0.0.1:1")
	c := New(ep, Credentials{}, discardLogger())

	err := c.Authenticate(t.Context())
	if err == nil {
		t.Fatalf("expected an error against an unreachable panel")
	}
	if !strings.Contains(fmt.Sprint(err), "panel") {
		t.Errorf("error should mention the panel request: %v", err)
	}
}
