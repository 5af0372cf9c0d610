package panel

import "testing"

func TestNewEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		want    string
		wantErr bool
	}{
		{name: "bare host defaults to https", host: "panel.example.com", want: "https://panel.example.com"},
		{name: "bare host with port", host: "panel.example.com:54321", want: "https://panel.example.com:54321"},
		{name: "explicit scheme preserved", host: "http://10.0.0.1:8080", want: "http://10.0.0.1:8080"},
		{name: "trailing slash trimmed", host: "https://panel.example.com/", want: "https://panel.example.com"},
		{name: "path preserved without trailing slash", host: "https://panel.example.com/base/", want: "https://panel.example.com/base"},
		{name: "empty host rejected", host: "", wantErr: true},
		{name: "whitespace-only host rejected", host: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := NewEndpoint(tt.host)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected an error for host %q", tt.host)
				}
				if _, ok := err.(*ValidationError); !ok {
					t.Errorf("error should be a *ValidationError, got %T (%v)", err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEndpoint(%q): %v", tt.host, err)
			}
			if ep.String() != tt.want {
				t.Errorf("NewEndpoint(%q) = %q, want %q", tt.host, ep.String(), tt.want)
			}
		})
	}
}

func TestEndpoint_URL(t *testing.T) {
	ep, err := NewEndpoint("panel.example.com")
	if err != nil {
		t.Fatalf("NewEndpoint: %v", err)
	}
	got := ep.URL("/login")
	want := "https://panel.example.com/login"
	if got != want {
		t.Errorf("URL(/login) = %q, want %q", got, want)
	}
}
