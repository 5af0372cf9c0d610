package panel

// Client is a single inbound client record as the panel represents it inside
// the stringified settings.clients[] JSON.
type Client struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Flow       string `json:"flow,omitempty"`
	AlterID    int    `json:"alterId"`
	LimitIP    int    `json:"limitIp"`
	TotalGB    int64  `json:"totalGB"`
	Enable     bool   `json:"enable"`
	ExpiryTime int64  `json:"expiryTime"`
}

// StreamSettings carries the inbound's transport/security config, read off
// inbound id=1 and used verbatim when rendering a connection URI.
type StreamSettings struct {
	Network  string `json:"network"`
	Security string `json:"security"`
	RealitySettings struct {
		PublicKey   string   `json:"publicKey"`
		ShortIDs    []string `json:"shortIds"`
		ServerNames []string `json:"serverNames"`
	} `json:"realitySettings"`
}

// Inbound is the parsed configuration of inbound id=1, the only inbound this
// client operates on.
type Inbound struct {
	ID              int64           `json:"id"`
	Port            int             `json:"port"`
	Protocol        string          `json:"protocol"`
	Clients         []Client        `json:"clients"`
	StreamSettings  StreamSettings  `json:"-"`
	RawStreamString string          `json:"streamSettings"`
}
