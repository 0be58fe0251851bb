package presence

import (
	"sync"
	"time"
)

// maxTrackPoints bounds the in-memory track buffer per active share;
// oldest points are evicted first.
const maxTrackPoints = 100

// LocationStore holds the latest reported location per logical user,
// independent of how many connections that user holds. Writes are
// last-write-wins per user in arrival order.
type LocationStore struct {
	mu       sync.RWMutex
	byUser   map[string]Location
	credited map[string]time.Time
	tracks   map[string][]TrackPoint
}

// UserLocation pairs a user identifier with their current location for
// snapshot iteration.
type UserLocation struct {
	UserID   string
	Location Location
}

func NewLocationStore() *LocationStore {
	return &LocationStore{
		byUser:   map[string]Location{},
		credited: map[string]time.Time{},
		tracks:   map[string][]TrackPoint{},
	}
}

// Report overwrites the user's location entirely and appends to the track
// buffer. The second return value reports whether this exact client
// timestamp was already credited for points; callers must award at most
// once per credited report.
func (s *LocationStore) Report(userID string, loc Location) (Location, bool) {
	now := time.Now()
	if loc.BusType == "" {
		loc.BusType = "regular"
	}
	if loc.Timestamp.IsZero() {
		loc.Timestamp = now
	}
	loc.LastUpdated = now

	s.mu.Lock()
	defer s.mu.Unlock()

	credited := s.credited[userID].Equal(loc.Timestamp)
	if !credited {
		s.credited[userID] = loc.Timestamp
	}

	s.byUser[userID] = loc

	track := append(s.tracks[userID], TrackPoint{
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Speed:     loc.Speed,
		Timestamp: loc.Timestamp,
	})
	if len(track) > maxTrackPoints {
		track = track[len(track)-maxTrackPoints:]
	}
	s.tracks[userID] = track

	return loc, !credited
}

func (s *LocationStore) Get(userID string) (Location, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.byUser[userID]
	return loc, ok
}

// Remove purges a user's location, credit marker, and track buffer.
// Invoked by registry cleanup when the user's last session leaves.
func (s *LocationStore) Remove(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byUser, userID)
	delete(s.credited, userID)
	delete(s.tracks, userID)
}

// All returns a consistent snapshot of every user's current location.
func (s *LocationStore) All() []UserLocation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]UserLocation, 0, len(s.byUser))
	for id, loc := range s.byUser {
		all = append(all, UserLocation{UserID: id, Location: loc})
	}
	return all
}

// Track returns a copy of the user's bounded track buffer, oldest first.
func (s *LocationStore) Track(userID string) []TrackPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	track := s.tracks[userID]
	out := make([]TrackPoint, len(track))
	copy(out, track)
	return out
}
