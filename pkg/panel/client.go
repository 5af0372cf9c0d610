package panel

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/corsarvpn/keyserver/internal/telemetry"
)

const requestTimeout = 10 * time.Second

// Credentials are the login fields a Server carries for its panel.
type Credentials struct {
	Login    string
	Password string
}

// Client is a session-aware HTTP client for one remote panel. Self-
// signed certificates are accepted; trust is established out of band by
// operators, not by this client.
type Client struct {
	endpoint Endpoint
	creds    Credentials
	http     *http.Client
	log      *slog.Logger

	sessionCookie string
}

// New constructs a panel Client bound to a normalized Endpoint.
func New(endpoint Endpoint, creds Credentials, log *slog.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		creds:    creds,
		http: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
		},
		log: log,
	}
}

// Authenticate logs into the panel, storing the session cookie for
// subsequent calls. Succeeds iff the panel returns a JSON success body or an
// HTTP 200 with a session cookie set.
func (c *Client) Authenticate(ctx context.Context) error {
	form := url.Values{
		"username": {c.creds.Login},
		"password": {c.creds.Password},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.URL("/login"), bytes.NewBufferString(form.Encode()))
	if err != nil {
		return fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.doWithRetry(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var parsed struct {
		Success bool `json:"success"`
	}
	jsonOK := json.Unmarshal(body, &parsed) == nil && parsed.Success

	var cookie string
	for _, ck := range resp.Cookies() {
		if ck.Value != "" {
			cookie = ck.Value
			break
		}
	}

	if !jsonOK && (resp.StatusCode != http.StatusOK || cookie == "") {
		return fmt.Errorf("panel authentication failed: status=%d", resp.StatusCode)
	}

	if cookie != "" {
		c.sessionCookie = cookie
	}
	return nil
}

// ListInbounds fetches and parses inbound id=1's configuration.
func (c *Client) ListInbounds(ctx context.Context) (*Inbound, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint.URL("/panel/api/inbounds/list"), nil)
	if err != nil {
		return nil, fmt.Errorf("building inbounds request: %w", err)
	}
	c.attachSession(req)

	resp, err := c.doWithRetry(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed struct {
		Obj []struct {
			Inbound
			Settings string `json:"settings"`
		} `json:"obj"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding inbounds response: %w", err)
	}

	for _, ib := range parsed.Obj {
		if ib.ID == 1 {
			inbound := ib.Inbound
			var settings struct {
				Clients []Client `json:"clients"`
			}
			if err := json.Unmarshal([]byte(ib.Settings), &settings); err == nil {
				inbound.Clients = settings.Clients
			}
			_ = json.Unmarshal([]byte(inbound.RawStreamString), &inbound.StreamSettings)
			return &inbound, nil
		}
	}
	return nil, fmt.Errorf("inbound id=1 not found in panel response")
}

// AddClient constructs a client payload and adds it to inbound id=1.
// expiryTime = now_ms + 86_400_000*(days+1) - 10_800_000, a fresh UUID,
// email=tgId=name.
func (c *Client) AddClient(ctx context.Context, name string, days int) (Client, error) {
	client := Client{
		ID:         uuid.NewString(),
		Email:      name,
		Flow:       "xtls-rprx-vision",
		AlterID:    90,
		LimitIP:    1,
		TotalGB:    0,
		Enable:     true,
		ExpiryTime: time.Now().UnixMilli() + 86_400_000*int64(days+1) - 10_800_000,
	}

	payload, err := json.Marshal(map[string]any{
		"id":       1,
		"settings": mustMarshalClients([]Client{client}),
	})
	if err != nil {
		return Client{}, fmt.Errorf("marshaling add-client payload: %w", err)
	}

	if err := c.postJSON(ctx, "/panel/api/inbounds/addClient", payload); err != nil {
		return Client{}, err
	}
	telemetry.PanelRequestsTotal.WithLabelValues("add_client", "ok").Inc()
	return client, nil
}

// EnableClient is a read-modify-write: it re-fetches inbound id=1, updates
// the matching client's enable flag and expiry, and pushes the full client
// object back — panel updates converge because they always replace the
// whole object.
func (c *Client) EnableClient(ctx context.Context, name string, newDays int) error {
	inbound, err := c.ListInbounds(ctx)
	if err != nil {
		return err
	}

	for _, cl := range inbound.Clients {
		if cl.Email != name {
			continue
		}
		cl.Enable = true
		cl.ExpiryTime = time.Now().UnixMilli() + 86_400_000*int64(newDays+1) - 10_800_000
		return c.updateClient(ctx, cl)
	}
	return fmt.Errorf("client %q not found on panel", name)
}

// DisableClient flips a client's enable flag off in place.
func (c *Client) DisableClient(ctx context.Context, name string) error {
	inbound, err := c.ListInbounds(ctx)
	if err != nil {
		return err
	}

	for _, cl := range inbound.Clients {
		if cl.Email != name {
			continue
		}
		cl.Enable = false
		return c.updateClient(ctx, cl)
	}
	return fmt.Errorf("client %q not found on panel", name)
}

func (c *Client) updateClient(ctx context.Context, cl Client) error {
	payload, err := json.Marshal(map[string]any{
		"id":       1,
		"settings": mustMarshalClients([]Client{cl}),
	})
	if err != nil {
		return fmt.Errorf("marshaling update-client payload: %w", err)
	}
	path := fmt.Sprintf("/panel/api/inbounds/updateClient/%s", cl.ID)
	if err := c.postJSON(ctx, path, payload); err != nil {
		return err
	}
	telemetry.PanelRequestsTotal.WithLabelValues("update_client", "ok").Inc()
	return nil
}

// DeleteClient removes a client from inbound id=1 by its panel-assigned id.
func (c *Client) DeleteClient(ctx context.Context, name string) error {
	inbound, err := c.ListInbounds(ctx)
	if err != nil {
		return err
	}

	var clientID string
	for _, cl := range inbound.Clients {
		if cl.Email == name {
			clientID = cl.ID
			break
		}
	}
	if clientID == "" {
		return nil
	}

	path := fmt.Sprintf("/panel/api/inbounds/1/delClient/%s", clientID)
	if err := c.postJSON(ctx, path, nil); err != nil {
		return err
	}
	telemetry.PanelRequestsTotal.WithLabelValues("delete_client", "ok").Inc()
	return nil
}

// RenderKeyURI builds the vless:// connection string for a named client on
// inbound id=1, including flow only when the client record carries one.
func (c *Client) RenderKeyURI(ctx context.Context, name, prefix string) (string, error) {
	inbound, err := c.ListInbounds(ctx)
	if err != nil {
		return "", err
	}

	var client *Client
	for i := range inbound.Clients {
		if inbound.Clients[i].Email == name {
			client = &inbound.Clients[i]
			break
		}
	}
	if client == nil {
		return "", fmt.Errorf("client %q not found on panel", name)
	}

	host := c.endpoint.String()
	u, _ := url.Parse(host)
	hostname := u.Hostname()

	q := url.Values{}
	q.Set("type", inbound.StreamSettings.Network)
	q.Set("security", inbound.StreamSettings.Security)
	q.Set("fp", "chrome")
	if client.Flow != "" {
		q.Set("flow", client.Flow)
	}
	q.Set("pbk", inbound.StreamSettings.RealitySettings.PublicKey)
	if len(inbound.StreamSettings.RealitySettings.ServerNames) > 0 {
		q.Set("sni", inbound.StreamSettings.RealitySettings.ServerNames[0])
	}
	if len(inbound.StreamSettings.RealitySettings.ShortIDs) > 0 {
		q.Set("sid", inbound.StreamSettings.RealitySettings.ShortIDs[0])
	}
	q.Set("spx", "/")

	uri := fmt.Sprintf("vless://%s@%s:%s?%s#%s-%s",
		client.ID, hostname, strconv.Itoa(inbound.Port), q.Encode(), prefix, name)
	return uri, nil
}

func (c *Client) attachSession(req *http.Request) {
	if c.sessionCookie != "" {
		req.AddCookie(&http.Cookie{Name: "session", Value: c.sessionCookie})
	}
}

func (c *Client) postJSON(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.URL(path), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.attachSession(req)

	resp, err := c.doWithRetry(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("panel request %s failed: status=%d body=%s", path, resp.StatusCode, string(b))
	}
	return nil
}

// doWithRetry performs the request, retrying once on a transient network
// error (timeout ≥ 10s, one retry acceptable).
func (c *Client) doWithRetry(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err == nil {
		return resp, nil
	}

	c.log.Warn("panel request failed, retrying once", "path", req.URL.Path, "error", err)
	telemetry.PanelRequestsTotal.WithLabelValues(req.URL.Path, "retry").Inc()

	retryReq := req.Clone(req.Context())
	resp, err = c.http.Do(retryReq)
	if err != nil {
		telemetry.PanelRequestsTotal.WithLabelValues(req.URL.Path, "error").Inc()
		return nil, fmt.Errorf("panel request %s: %w", req.URL.Path, err)
	}
	return resp, nil
}

func mustMarshalClients(clients []Client) string {
	b, err := json.Marshal(map[string]any{"clients": clients})
	if err != nil {
		panic(fmt.Sprintf("marshaling clients: %v", err))
	}
	return string(b)
}
