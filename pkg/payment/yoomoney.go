package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const quickpayBase = "https://yoomoney.ru/quickpay/confirm.xml"

// apiBase is a var, not a const, so tests can point CheckStatus at an
// httptest.Server instead of the real YooMoney API.
var apiBase = "https://yoomoney.ru/api"

// YooMoneyProvider implements Provider against the YooMoney wallet HTTP API.
// CreateIntent builds a Quickpay redirect URL directly (no request needed);
// CheckStatus calls operation-history and looks for a matching confirmed
// operation.
type YooMoneyProvider struct {
	token   string
	account string
	http    *http.Client
}

// NewYooMoneyProvider creates a YooMoneyProvider bound to an OAuth token and
// the receiving wallet account number.
func NewYooMoneyProvider(token, account string) *YooMoneyProvider {
	return &YooMoneyProvider{
		token:   token,
		account: account,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// CreateIntent builds a Quickpay redirect URL for a bank-card/SberPay
// checkout.
func (p *YooMoneyProvider) CreateIntent(ctx context.Context, intent Intent) (string, error) {
	q := url.Values{
		"receiver":      {p.account},
		"quickpay-form": {"shop"},
		"targets":       {intent.Targets},
		"paymentType":   {"SB"},
		"sum":           {fmt.Sprintf("%d", intent.Sum)},
		"label":         {intent.Label},
	}
	return quickpayBase + "?" + q.Encode(), nil
}

// CheckStatus calls operation-history filtered by label and reports whether
// any returned operation has status "success". Any transport or decode
// error is treated as unconfirmed, never as success.
func (p *YooMoneyProvider) CheckStatus(ctx context.Context, label string) (bool, error) {
	endpoint := apiBase + "/operation-history"
	form := url.Values{"label": {label}, "records": {"5"}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("building operation-history request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("calling operation-history: %w", err)
	}
	defer resp.Body.Close()

	var parsed struct {
		Operations []struct {
			Status string `json:"status"`
			Label  string `json:"label"`
		} `json:"operations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, fmt.Errorf("decoding operation-history response: %w", err)
	}

	for _, op := range parsed.Operations {
		if op.Label == label && op.Status == "success" {
			return true, nil
		}
	}
	return false, nil
}
