package panel

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Subscription is a user's access on one server.
type Subscription struct {
	ServerID string
	AccessID string
	Label    string
	Expiry   time.Time
	Active   bool
}

func toSubscription(a ClientAccess, now time.Time) Subscription {
	return Subscription{
		ServerID: a.ServerID,
		AccessID: a.ID,
		Label:    a.Email,
		Expiry:   a.Expiry,
		Active:   a.Active(now),
	}
}

// Find returns the user's access on one server, or nil when there is none.
// An error means the server could not be read and nothing can be concluded.
func (d *Directory) Find(ctx context.Context, serverID string, userID int64) (*Subscription, error) {
	clients, err := d.ListClients(ctx, serverID)
	if err != nil {
		return nil, err
	}
	now := d.now()
	for _, c := range clients {
		if ownedBy(c, userID) {
			s := toSubscription(c, now)
			return &s, nil
		}
	}
	return nil, nil
}

// Status scans every server for the user's access. The map is empty, not nil,
// when the user has nothing. Servers that could not be read are reported in the
// joined error next to whatever the others returned.
func (d *Directory) Status(ctx context.Context, userID int64) (map[string]Subscription, error) {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
		out  = make(map[string]Subscription)
	)

	for _, id := range d.order {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := d.Find(ctx, id, userID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if sub != nil {
				out[id] = *sub
			}
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		d.logger.Warn("Subscription status incomplete", zap.Int64("user_id", userID), zap.Error(err))
		return out, err
	}
	return out, nil
}
