// Package registry tracks live client connections and fans events out to them.
package registry

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/cross-messenger/internal/model"
)

// Channel is one live outbound connection of a user. Implementations must
// tolerate Close being called more than once.
type Channel interface {
	// Send delivers one encoded event frame.
	Send(ctx context.Context, payload []byte) error
	// Close tears the connection down.
	Close() error
}

// Registry maps a user to zero or more live channels (multi-device).
// Mutation takes the write lock; Fanout sends outside any lock so a slow
// client cannot serialize unrelated users.
type Registry struct {
	log *zap.Logger

	mu     sync.RWMutex
	active map[uuid.UUID][]Channel
}

// New constructs an empty registry.
func New(log *zap.Logger) *Registry {
	return &Registry{
		log:    log,
		active: make(map[uuid.UUID][]Channel),
	}
}

// Register adds a channel under userID.
func (r *Registry) Register(userID uuid.UUID, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[userID] = append(r.active[userID], ch)
	r.log.Info("connection registered", zap.String("user_id", userID.String()), zap.Int("connections", len(r.active[userID])))
}

// Unregister removes a channel; no-op if absent.
func (r *Registry) Unregister(userID uuid.UUID, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(userID, ch)
}

func (r *Registry) removeLocked(userID uuid.UUID, ch Channel) {
	chans := r.active[userID]
	for i, c := range chans {
		if c == ch {
			chans = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(chans) == 0 {
		delete(r.active, userID)
		return
	}
	r.active[userID] = chans
}

// Fanout delivers the event to every channel currently registered for the
// user. A failed channel is closed and unregistered; it never blocks or fails
// delivery to the rest. Events of a single user are delivered in call order
// (the engine is the only producer per user).
func (r *Registry) Fanout(ctx context.Context, userID uuid.UUID, ev model.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.log.Error("marshal event", zap.Error(err))
		return
	}

	r.mu.RLock()
	chans := append([]Channel(nil), r.active[userID]...)
	r.mu.RUnlock()

	var dead []Channel
	for _, ch := range chans {
		if err := ch.Send(ctx, payload); err != nil {
			r.log.Warn("channel send failed, evicting",
				zap.String("user_id", userID.String()), zap.Error(err))
			dead = append(dead, ch)
		}
	}
	if len(dead) == 0 {
		return
	}

	r.mu.Lock()
	for _, ch := range dead {
		r.removeLocked(userID, ch)
	}
	r.mu.Unlock()
	for _, ch := range dead {
		_ = ch.Close()
	}
}

// CloseAll closes and drops every channel. Called at process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	active := r.active
	r.active = make(map[uuid.UUID][]Channel)
	r.mu.Unlock()

	for _, chans := range active {
		for _, ch := range chans {
			_ = ch.Close()
		}
	}
}
