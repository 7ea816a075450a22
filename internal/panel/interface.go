package panel

import (
	"context"
	"time"
)

// Client is one account entry inside a 3x-ui inbound.
type Client struct {
	ID         string `json:"id"`
	Flow       string `json:"flow"`
	Email      string `json:"email"`
	LimitIP    int    `json:"limitIp"`
	TotalGB    int64  `json:"totalGB"`
	ExpiryTime int64  `json:"expiryTime"` // unix ms
	Enable     bool   `json:"enable"`
	TgID       int64  `json:"tgId"`
	SubID      string `json:"subId"`
	Reset      int    `json:"reset"`
}

// Reality holds the REALITY key material an inbound currently advertises.
type Reality struct {
	PublicKey   string
	ServerNames []string
	ShortIDs    []string
}

// Inbound is the subset of a 3x-ui inbound this service reads.
type Inbound struct {
	ID      int
	Port    int
	Remark  string
	Clients []Client
	Reality Reality
}

// PanelClient defines the wire API of a single VPN panel.
// Implementations return ErrSessionExpired when the panel rejects the session
// cookie, so the caller can log in again and retry once.
type PanelClient interface {
	// Authenticate logs in and stores the session.
	Authenticate(ctx context.Context) error

	// GetInbound fetches an inbound with its clients and stream settings.
	GetInbound(ctx context.Context, inboundID int) (*Inbound, error)

	// AddClient appends a client to the inbound.
	AddClient(ctx context.Context, inboundID int, c Client) error

	// UpdateClient replaces the client with the same id.
	UpdateClient(ctx context.Context, inboundID int, c Client) error

	// PanelType returns the panel type identifier.
	PanelType() string
}

// ClientAccess is a provisioned account as seen live on a server.
type ClientAccess struct {
	ID       string
	Email    string
	OwnerID  int64
	Expiry   time.Time
	ServerID string
	Enable   bool
}

// Active reports whether the access is unexpired at t.
func (a ClientAccess) Active(t time.Time) bool {
	return a.Expiry.After(t)
}
