package registry

import (
	"context"
	"sync"

	"chatrelay/internal/models"
	"chatrelay/internal/privacy"

	"github.com/sirupsen/logrus"
)

// Channel is one connected client's outbound path. Send may fail if the
// underlying connection is closed or backpressured past the caller's
// context deadline.
type Channel interface {
	Send(ctx context.Context, frame *models.ServerFrame) error
	Close() error
}

// Registry owns all identity-to-channel bindings. At most one live
// channel per identity; a new bind replaces and closes the previous one.
// Identities without a live channel have no map entry, so the map stays
// proportional to connected clients, not to every identity ever seen.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
	logger   *logrus.Logger
}

func New(logger *logrus.Logger) *Registry {
	return &Registry{
		channels: make(map[string]Channel),
		logger:   logger,
	}
}

// Bind registers ch as the live destination for identity. A prior
// channel is closed and replaced (last-connect-wins); closing it happens
// off the bind path so a stalled old connection cannot block the new one.
// Re-binding the same channel is a no-op.
func (r *Registry) Bind(identity string, ch Channel) {
	r.mu.Lock()
	old := r.channels[identity]
	r.channels[identity] = ch
	r.mu.Unlock()

	if old != nil && old != ch {
		r.logger.WithField("identity", privacy.MaskIdentity(identity)).
			Debug("Replacing existing connection binding")
		go func() {
			if err := old.Close(); err != nil {
				r.logger.WithError(err).Debug("Failed to close replaced channel")
			}
		}()
	}
}

// Unbind removes the binding for identity if present. Absent bindings
// are a no-op, not an error.
func (r *Registry) Unbind(identity string) {
	r.mu.Lock()
	delete(r.channels, identity)
	r.mu.Unlock()
}

// UnbindChannel removes the binding only if it still points at ch.
// Disconnect callbacks use this so a stale channel's teardown cannot
// evict a newer connection that already replaced it. Reports whether the
// binding was removed.
func (r *Registry) UnbindChannel(identity string, ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channels[identity] != ch {
		return false
	}
	delete(r.channels, identity)
	return true
}

// Resolve returns the current live channel for identity. Absence means
// the recipient is offline, not an error.
func (r *Registry) Resolve(identity string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[identity]
	return ch, ok
}

// ActiveConnections counts identities with a live channel.
func (r *Registry) ActiveConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
