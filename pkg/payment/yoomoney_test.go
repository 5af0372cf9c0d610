package payment

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestYooMoneyCreateIntent_BuildsQuickpayURL(t *testing.T) {
	p := NewYooMoneyProvider("token", "410011234567890")
	url, err := p.CreateIntent(t.Context(), Intent{Targets: "Tariff 1 month", Sum: 199, Label: "label-1"})
	if err != nil {
		t.Fatalf("CreateIntent: %v", err)
	}
	if !strings.HasPrefix(url, quickpayBase+"?") {
		t.Fatalf("url = %q, want prefix %q", url, quickpayBase)
	}
	for _, want := range []string{"receiver=410011234567890", "sum=199", "label=label-1", "paymentType=SB"} {
		if !strings.Contains(url, want) {
			t.Errorf("url %s missing %q", url, want)
		}
	}
}

func TestYooMoneyCheckStatus_MatchesLabelAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"operations":[{"label":"other","status":"success"},{"label":"mine","status":"success"}]}`))
	}))
	defer srv.Close()

	p := &YooMoneyProvider{token: "token", account: "acct", http: srv.Client()}
	orig := apiBase
	apiBase = srv.URL
	defer func() { apiBase = orig }()

	confirmed, err := p.CheckStatus(t.Context(), "mine")
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if !confirmed {
		t.Errorf("expected confirmed=true for a matching successful operation")
	}
}

func TestYooMoneyCheckStatus_UnmatchedLabelIsUnconfirmed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"operations":[{"label":"other","status":"success"}]}`))
	}))
	defer srv.Close()

	p := &YooMoneyProvider{token: "token", account: "acct", http: srv.Client()}
	orig := apiBase
	apiBase = srv.URL
	defer func() { apiBase = orig }()

	confirmed, err := p.CheckStatus(t.Context(), "mine")
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if confirmed {
		t.Errorf("expected confirmed=false when no operation matches the label")
	}
}

func TestInt64In(t *testing.T) {
	haystack := []int64{1, 2, 3}
	if !int64In(haystack, 2) {
		t.Errorf("expected 2 to be found")
	}
	if int64In(haystack, 9) {
		t.Errorf("expected 9 to not be found")
	}
	if int64In(nil, 1) {
		t.Errorf("expected empty haystack to never match")
	}
}

func TestNonEmptyPtr(t *testing.T) {
	if nonEmptyPtr("") != nil {
		t.Errorf("expected nil for empty string")
	}
	got := nonEmptyPtr("device")
	if got == nil || *got != "device" {
		t.Errorf("expected pointer to \"device\", got %v", got)
	}
}
