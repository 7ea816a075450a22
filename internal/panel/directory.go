package panel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"realityshop/internal/config"
)

const vlessFlow = "xtls-rprx-vision"

// Directory is the set of configured servers. The set is fixed at construction.
type Directory struct {
	handles map[string]*ServerHandle
	order   []string
	logger  *zap.Logger
	now     func() time.Time
}

// Build resolves descriptors into handles with real panel clients.
func Build(descs []config.ServerDescriptor, timeout time.Duration, logger *zap.Logger) (*Directory, error) {
	handles := make([]*ServerHandle, 0, len(descs))
	for _, d := range descs {
		api, err := PanelFactory(d, timeout)
		if err != nil {
			return nil, err
		}
		handles = append(handles, NewServerHandle(d, api, timeout, logger))
	}
	return NewDirectory(handles, logger), nil
}

func NewDirectory(handles []*ServerHandle, logger *zap.Logger) *Directory {
	d := &Directory{
		handles: make(map[string]*ServerHandle, len(handles)),
		logger:  logger,
		now:     time.Now,
	}
	for _, h := range handles {
		d.handles[h.desc.ID] = h
		d.order = append(d.order, h.desc.ID)
	}
	return d
}

// SetClock replaces the time source; for tests.
func (d *Directory) SetClock(now func() time.Time) {
	d.now = now
}

func (d *Directory) handle(serverID string) (*ServerHandle, error) {
	h, ok := d.handles[serverID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedServer, serverID)
	}
	return h, nil
}

// Servers lists the configured servers in stable order.
func (d *Directory) Servers() []config.ServerDescriptor {
	out := make([]config.ServerDescriptor, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.handles[id].desc)
	}
	return out
}

// Server returns one descriptor.
func (d *Directory) Server(serverID string) (config.ServerDescriptor, error) {
	h, err := d.handle(serverID)
	if err != nil {
		return config.ServerDescriptor{}, err
	}
	return h.desc, nil
}

// Unavailable lists servers without a working session.
func (d *Directory) Unavailable() []string {
	var out []string
	for _, id := range d.order {
		if !d.handles[id].Available() {
			out = append(out, id)
		}
	}
	return out
}

// LoginAll logs in to every server concurrently. One server failing only marks
// that server unavailable; the failures are returned joined.
func (d *Directory) LoginAll(ctx context.Context) error {
	return d.login(ctx, d.order)
}

// LoginUnavailable retries servers whose last login failed.
func (d *Directory) LoginUnavailable(ctx context.Context) error {
	return d.login(ctx, d.Unavailable())
}

func (d *Directory) login(ctx context.Context, ids []string) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, id := range ids {
		h := d.handles[id]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.Login(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// ListClients returns every client on the server's inbound.
func (d *Directory) ListClients(ctx context.Context, serverID string) ([]ClientAccess, error) {
	h, err := d.handle(serverID)
	if err != nil {
		return nil, err
	}
	in, err := h.inbound(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ClientAccess, 0, len(in.Clients))
	for _, c := range in.Clients {
		out = append(out, toAccess(serverID, c))
	}
	return out, nil
}

// Capacity reports the current client count and the server limit.
func (d *Directory) Capacity(ctx context.Context, serverID string) (int, int, error) {
	h, err := d.handle(serverID)
	if err != nil {
		return 0, 0, err
	}
	in, err := h.inbound(ctx)
	if err != nil {
		return 0, 0, err
	}
	return len(in.Clients), h.desc.Capacity, nil
}

// CreateClient provisions a new client for userID expiring after duration and
// returns it with its connection string.
func (d *Directory) CreateClient(ctx context.Context, serverID string, userID int64, duration time.Duration) (ClientAccess, string, error) {
	h, err := d.handle(serverID)
	if err != nil {
		return ClientAccess{}, "", err
	}

	c := Client{
		ID:         uuid.NewString(),
		Flow:       vlessFlow,
		Email:      EmailLabel(userID),
		ExpiryTime: d.now().Add(duration).UnixMilli(),
		Enable:     true,
		TgID:       userID,
		SubID:      subID(),
	}
	err = h.do(ctx, "add_client", func(ctx context.Context) error {
		return h.api.AddClient(ctx, h.desc.InboundID, c)
	})
	if err != nil {
		return ClientAccess{}, "", err
	}

	access := toAccess(serverID, c)
	d.logger.Info("Client created",
		zap.String("server", serverID),
		zap.Int64("user_id", userID),
		zap.String("client_id", c.ID),
		zap.Time("expiry", access.Expiry),
	)

	conn, err := d.ConnectionString(ctx, serverID, access)
	if err != nil {
		return access, "", fmt.Errorf("client created, connection string unavailable: %w", err)
	}
	return access, conn, nil
}

// Renew pushes the expiry of an existing client by duration, counting from the
// current expiry if still in the future and from now otherwise.
func (d *Directory) Renew(ctx context.Context, serverID, clientID string, duration time.Duration) (ClientAccess, error) {
	h, err := d.handle(serverID)
	if err != nil {
		return ClientAccess{}, err
	}
	in, err := h.inbound(ctx)
	if err != nil {
		return ClientAccess{}, err
	}

	var current *Client
	for i := range in.Clients {
		if in.Clients[i].ID == clientID {
			current = &in.Clients[i]
			break
		}
	}
	if current == nil {
		return ClientAccess{}, fmt.Errorf("%s: %w: %s", serverID, ErrClientNotFound, clientID)
	}

	updated := *current
	updated.ExpiryTime = RenewedExpiry(time.UnixMilli(current.ExpiryTime), d.now(), duration).UnixMilli()
	updated.Enable = true
	err = h.do(ctx, "update_client", func(ctx context.Context) error {
		return h.api.UpdateClient(ctx, h.desc.InboundID, updated)
	})
	if err != nil {
		return ClientAccess{}, err
	}

	access := toAccess(serverID, updated)
	d.logger.Info("Client renewed",
		zap.String("server", serverID),
		zap.String("client_id", clientID),
		zap.Time("expiry", access.Expiry),
	)
	return access, nil
}

// RenewedExpiry is max(current, now) + duration.
func RenewedExpiry(current, now time.Time, duration time.Duration) time.Time {
	base := now
	if current.After(now) {
		base = current
	}
	return base.Add(duration)
}

// ConnectionString builds the VLESS REALITY URI for access from the inbound's
// current key material.
func (d *Directory) ConnectionString(ctx context.Context, serverID string, access ClientAccess) (string, error) {
	h, err := d.handle(serverID)
	if err != nil {
		return "", err
	}
	in, err := h.inbound(ctx)
	if err != nil {
		return "", err
	}
	return buildVLESS(h.desc, in.Reality, access)
}

func buildVLESS(desc config.ServerDescriptor, r Reality, access ClientAccess) (string, error) {
	if r.PublicKey == "" || len(r.ServerNames) == 0 || len(r.ShortIDs) == 0 {
		return "", fmt.Errorf("%w: %s inbound %d has no reality settings", ErrRejected, desc.ID, desc.InboundID)
	}
	return fmt.Sprintf(
		"vless://%s@%s:%d?type=tcp&security=reality&pbk=%s&fp=chrome&sni=%s&sid=%s&spx=%%2F&flow=%s#%s-%s",
		access.ID, desc.ExternalIP, desc.Port,
		r.PublicKey, r.ServerNames[0], r.ShortIDs[0], vlessFlow,
		desc.Remark, access.Email,
	), nil
}

// EmailLabel is the panel email used for a user's client.
func EmailLabel(userID int64) string {
	return "user_" + strconv.FormatInt(userID, 10)
}

func ownedBy(c ClientAccess, userID int64) bool {
	return (c.OwnerID != 0 && c.OwnerID == userID) || c.Email == EmailLabel(userID)
}

func toAccess(serverID string, c Client) ClientAccess {
	a := ClientAccess{
		ID:       c.ID,
		Email:    c.Email,
		OwnerID:  c.TgID,
		ServerID: serverID,
		Enable:   c.Enable,
	}
	if c.ExpiryTime > 0 {
		a.Expiry = time.UnixMilli(c.ExpiryTime)
	}
	return a
}

func subID() string {
	return uuid.NewString()[:16]
}
