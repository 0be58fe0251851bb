package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yasuo72/TransitShare/internal/user"
)

// UserLookup is the narrow slice of the external identity store the
// registry needs at join time.
type UserLookup interface {
	Lookup(ctx context.Context, id string) (user.User, error)
}

// Registry tracks active connections and their owning users. All mutations
// to the two maps (conn->session, user->conn set) are serialized under one
// lock so the last-connection decision on leave reads the set size
// atomically. External lookups never run under the lock.
type Registry struct {
	users     UserLookup
	locations *LocationStore

	mu        sync.RWMutex
	sessions  map[string]*Session
	userConns map[string]map[string]struct{}
	prefs     map[string]user.Preferences
}

func NewRegistry(users UserLookup, locations *LocationStore) *Registry {
	return &Registry{
		users:     users,
		locations: locations,
		sessions:  map[string]*Session{},
		userConns: map[string]map[string]struct{}{},
		prefs:     map[string]user.Preferences{},
	}
}

func (r *Registry) Locations() *LocationStore {
	return r.locations
}

// Join binds a connection to a user, denormalizing name and points into the
// session snapshot. The external lookup runs before the lock is taken.
func (r *Registry) Join(ctx context.Context, connID, userID string) (Session, error) {
	u, err := r.users.Lookup(ctx, userID)
	if err != nil {
		return Session{}, err
	}

	now := time.Now()
	sess := &Session{
		ConnID:       connID,
		UserID:       userID,
		UserName:     u.Name,
		Points:       u.Points,
		JoinedAt:     now,
		LastActiveAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[connID] = sess
	if r.userConns[userID] == nil {
		r.userConns[userID] = map[string]struct{}{}
	}
	r.userConns[userID][connID] = struct{}{}
	if _, ok := r.prefs[userID]; !ok {
		r.prefs[userID] = u.Preferences
	}
	return *sess, nil
}

func (r *Registry) Get(connID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[connID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// SessionsFor returns the user's sessions ordered by join time.
func (r *Registry) SessionsFor(userID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessionsForLocked(userID)
}

func (r *Registry) sessionsForLocked(userID string) []Session {
	conns := r.userConns[userID]
	out := make([]Session, 0, len(conns))
	for connID := range conns {
		if sess, ok := r.sessions[connID]; ok {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ConnID < out[j].ConnID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// Leave removes the connection. When it was the user's last connection the
// user's location, preference cache, and track buffer are purged and the
// second return value is true. Leaving an unknown connection is a no-op.
func (r *Registry) Leave(connID string) (Session, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[connID]
	if !ok {
		return Session{}, false, false
	}
	delete(r.sessions, connID)

	lastConn := false
	if conns, ok := r.userConns[sess.UserID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.userConns, sess.UserID)
			delete(r.prefs, sess.UserID)
			r.locations.Remove(sess.UserID)
			lastConn = true
		}
	}
	return *sess, lastConn, true
}

// OnlineUserCount counts distinct users with at least one session, not
// connections.
func (r *Registry) OnlineUserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userConns)
}

// MarkSharing flags every session of the user as actively sharing and
// bumps their activity timestamps.
func (r *Registry) MarkSharing(userID string) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for connID := range r.userConns[userID] {
		if sess, ok := r.sessions[connID]; ok {
			sess.Sharing = true
			sess.LastActiveAt = now
		}
	}
}

// SetPoints refreshes the denormalized points value on every session of
// the user after an award.
func (r *Registry) SetPoints(userID string, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for connID := range r.userConns[userID] {
		if sess, ok := r.sessions[connID]; ok {
			sess.Points = total
		}
	}
}

func (r *Registry) SetPreferences(userID string, prefs user.Preferences) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, online := r.userConns[userID]; online {
		r.prefs[userID] = prefs
	}
}

func (r *Registry) PreferencesFor(userID string) (user.Preferences, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	prefs, ok := r.prefs[userID]
	return prefs, ok
}
