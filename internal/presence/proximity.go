package presence

import (
	"math"
	"sort"

	"github.com/yasuo72/TransitShare/internal/shared/geo"
)

// Engine computes nearby-user sets over the live location snapshot.
type Engine struct {
	registry *Registry
}

func NewEngine(registry *Registry) *Engine {
	return &Engine{registry: registry}
}

// Nearby returns every other user within radiusKm of the querying user,
// sorted ascending by distance with ties broken by user identifier. The
// ETA uses the querying user's own reported speed as the closing rate and
// is omitted when that speed is zero. Empty when the user has no location.
func (e *Engine) Nearby(userID string, radiusKm float64) []ProximityResult {
	own, ok := e.registry.Locations().Get(userID)
	if !ok {
		return []ProximityResult{}
	}

	results := []ProximityResult{}
	for _, other := range e.registry.Locations().All() {
		if other.UserID == userID {
			continue
		}
		dist := geo.HaversineKm(own.Latitude, own.Longitude, other.Location.Latitude, other.Location.Longitude)
		if dist > radiusKm {
			continue
		}
		sessions := e.registry.SessionsFor(other.UserID)
		if len(sessions) == 0 {
			continue
		}
		results = append(results, ProximityResult{
			UserID:     other.UserID,
			UserName:   sessions[0].UserName,
			Location:   other.Location,
			DistanceKm: math.Round(dist*100) / 100,
			ETAMinutes: etaMinutes(dist, own.Speed),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].DistanceKm == results[j].DistanceKm {
			return results[i].UserID < results[j].UserID
		}
		return results[i].DistanceKm < results[j].DistanceKm
	})
	return results
}

// AlertCandidates filters a nearby set down to the users who should
// receive an interruptive proximity push: strictly inside alertRadiusKm
// and with notifications enabled. The alert threshold is decoupled from
// the query radius so broad discovery does not flood notifications.
func (e *Engine) AlertCandidates(results []ProximityResult, alertRadiusKm float64) []ProximityResult {
	candidates := []ProximityResult{}
	for _, res := range results {
		if res.DistanceKm >= alertRadiusKm {
			continue
		}
		if prefs, ok := e.registry.PreferencesFor(res.UserID); ok && !prefs.Notifications {
			continue
		}
		candidates = append(candidates, res)
	}
	return candidates
}

func etaMinutes(distanceKm, speed float64) *int {
	if speed <= 0 {
		return nil
	}
	eta := int(math.Round(distanceKm / speed * 60))
	return &eta
}
