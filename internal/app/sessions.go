package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Tandem/internal/core"
	"github.com/dkeye/Tandem/internal/domain"
	"github.com/dkeye/Tandem/internal/telemetry"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
)

const (
	DefaultInactivityThreshold = 30 * time.Minute
	idBytes                    = 5
	maxIDAttempts              = 16
)

// CreateRequest carries the caller-supplied fields of a new session.
type CreateRequest struct {
	Name         string
	Tier         domain.Tier
	Visibility   domain.Visibility
	AccessSecret string
}

// SessionRegistry owns every live session. Each public operation sweeps
// expired sessions first, so callers never see stale entries.
type SessionRegistry struct {
	mu        sync.RWMutex
	sessions  map[domain.SessionID]*core.Session
	catalog   core.Catalog
	opts      core.Options
	threshold time.Duration
	now       func() time.Time
	newID     func() (domain.SessionID, error)
}

type RegistryOption func(*SessionRegistry)

func WithInactivityThreshold(d time.Duration) RegistryOption {
	return func(r *SessionRegistry) {
		if d > 0 {
			r.threshold = d
		}
	}
}

func WithClock(now func() time.Time) RegistryOption {
	return func(r *SessionRegistry) { r.now = now }
}

func WithIDGenerator(gen func() (domain.SessionID, error)) RegistryOption {
	return func(r *SessionRegistry) { r.newID = gen }
}

func NewSessionRegistry(catalog core.Catalog, opts core.Options, ropts ...RegistryOption) *SessionRegistry {
	r := &SessionRegistry{
		sessions:  make(map[domain.SessionID]*core.Session),
		catalog:   catalog,
		opts:      opts,
		threshold: DefaultInactivityThreshold,
		now:       time.Now,
		newID:     NewSessionID,
	}
	for _, o := range ropts {
		o(r)
	}
	if r.opts.Now == nil {
		r.opts.Now = r.now
	}
	return r
}

// NewSessionID returns a short base58 invite code.
func NewSessionID() (domain.SessionID, error) {
	var b [idBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return domain.SessionID(base58.Encode(b[:])), nil
}

func (r *SessionRegistry) Create(req CreateRequest) (domain.SessionID, error) {
	r.Sweep()

	r.mu.Lock()
	defer r.mu.Unlock()
	var id domain.SessionID
	for attempt := 0; ; attempt++ {
		if attempt == maxIDAttempts {
			return "", fmt.Errorf("generate session id: %d collisions", maxIDAttempts)
		}
		candidate, err := r.newID()
		if err != nil {
			return "", err
		}
		if _, taken := r.sessions[candidate]; !taken {
			id = candidate
			break
		}
	}

	entity, err := domain.NewSession(id, req.Name, req.Tier, req.Visibility, req.AccessSecret, r.now())
	if err != nil {
		return "", err
	}
	r.sessions[id] = core.NewSession(entity, r.catalog, r.opts)

	m := telemetry.GetMetrics()
	m.SessionsCreatedTotal.Add(context.Background(), 1)
	m.ActiveSessions.Add(context.Background(), 1)
	log.Info().Str("module", "app.sessions").Str("session", string(id)).Str("tier", req.Tier.String()).Str("visibility", string(entity.Visibility)).Bool("secret", entity.HasSecret()).Msg("session created")
	return id, nil
}

func (r *SessionRegistry) Get(id domain.SessionID) (*core.Session, error) {
	r.Sweep()

	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.Errorf(domain.ErrNotFound, "session %s", id)
	}
	return s, nil
}

// Lookup is Get without the sweep, for per-message paths.
func (r *SessionRegistry) Lookup(id domain.SessionID) (*core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// ListPublic returns summaries of public sessions, oldest first.
func (r *SessionRegistry) ListPublic() []domain.SessionSummary {
	r.Sweep()

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SessionSummary, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.Public() {
			out = append(out, s.Summary())
		}
	}
	slices.SortFunc(out, func(a, b domain.SessionSummary) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return compareIDs(a.ID, b.ID)
	})
	return out
}

func compareIDs(a, b domain.SessionID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Delete removes the session and stops its timers. Idempotent.
func (r *SessionRegistry) Delete(id domain.SessionID) {
	r.Sweep()
	r.remove(id, true)
}

// DeleteIfEmpty removes the session only when nobody is in it.
func (r *SessionRegistry) DeleteIfEmpty(id domain.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || !s.CloseIfEmpty() {
		return false
	}
	delete(r.sessions, id)
	r.deleted(id, "empty")
	return true
}

func (r *SessionRegistry) remove(id domain.SessionID, notify bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	s.Close(notify)
	r.deleted(id, "explicit")
}

func (r *SessionRegistry) deleted(id domain.SessionID, reason string) {
	m := telemetry.GetMetrics()
	m.SessionsDeletedTotal.Add(context.Background(), 1)
	m.ActiveSessions.Add(context.Background(), -1)
	log.Info().Str("module", "app.sessions").Str("session", string(id)).Str("reason", reason).Msg("session deleted")
}

// Sweep deletes every empty session older than the inactivity threshold.
// It returns how many were removed.
func (r *SessionRegistry) Sweep() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.CloseIfReapable(now, r.threshold) {
			delete(r.sessions, id)
			r.deleted(id, "expired")
			n++
		}
	}
	return n
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
