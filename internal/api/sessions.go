package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/ryanbastic/go-fieldmap/internal/draft"
	"github.com/ryanbastic/go-fieldmap/internal/identity"
	"github.com/ryanbastic/go-fieldmap/internal/mapconfig"
	"github.com/ryanbastic/go-fieldmap/internal/metrics"
	"github.com/ryanbastic/go-fieldmap/internal/persist"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is one user's editing session.
type Session struct {
	ID        uuid.UUID
	Owner     identity.User
	Manager   *draft.Manager
	CreatedAt time.Time
}

// Sessions holds editing sessions in memory. A session untouched for the
// idle timeout is dropped together with its draft.
type Sessions struct {
	cache  *gocache.Cache
	coord  *persist.Coordinator
	logger *slog.Logger
}

// NewSessions creates a session registry with the given idle timeout.
func NewSessions(coord *persist.Coordinator, idle time.Duration, logger *slog.Logger) *Sessions {
	cleanup := idle / 2
	if cleanup < time.Second {
		cleanup = time.Second
	}
	s := &Sessions{
		cache:  gocache.New(idle, cleanup),
		coord:  coord,
		logger: logger,
	}
	s.cache.OnEvicted(func(key string, _ any) {
		metrics.SessionClosed()
		logger.Debug("editing session closed", "session_id", key)
	})
	return s
}

// Open starts a session for user, gated by the current map configuration.
func (s *Sessions) Open(ctx context.Context, user identity.User) (*Session, error) {
	cfg, err := s.coord.MapConfiguration(ctx)
	if err != nil {
		return nil, err
	}
	id := uuid.New()
	sess := &Session{
		ID:        id,
		Owner:     user,
		CreatedAt: time.Now().UTC(),
		Manager: draft.NewManager(
			draft.WithUser(user.ID),
			draft.WithGate(cfg.Gate(user.Role)),
			draft.WithControls(cfg.Enabled),
			draft.WithCategories(s.coord.Collection()),
			draft.WithLogger(s.logger.With("session_id", id)),
		),
	}
	s.cache.SetDefault(id.String(), sess)
	metrics.SessionOpened()
	s.logger.Info("editing session opened", "session_id", id, "user_id", user.ID, "role", user.Role)
	return sess, nil
}

// Get returns the caller's session and extends its idle deadline. A session
// owned by someone else is reported as missing.
func (s *Sessions) Get(id uuid.UUID, user identity.User) (*Session, error) {
	v, ok := s.cache.Get(id.String())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess := v.(*Session)
	if sess.Owner.ID != user.ID {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.cache.SetDefault(id.String(), sess)
	return sess, nil
}

// Close ends the caller's session and discards any draft.
func (s *Sessions) Close(id uuid.UUID, user identity.User) error {
	if _, err := s.Get(id, user); err != nil {
		return err
	}
	s.cache.Delete(id.String())
	return nil
}

// Regate applies a new map configuration to every open session.
func (s *Sessions) Regate(cfg *mapconfig.Config) {
	for _, item := range s.cache.Items() {
		sess := item.Object.(*Session)
		sess.Manager.SetGate(cfg.Gate(sess.Owner.Role))
		sess.Manager.SetControls(cfg.Enabled)
	}
}

// Len reports the number of open sessions.
func (s *Sessions) Len() int {
	return s.cache.ItemCount()
}
