package predict

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/yasuo72/TransitShare/internal/route"
	"github.com/yasuo72/TransitShare/internal/shared/geo"
)

// ErrNoPrediction means the prediction preconditions are unmet. It is a
// valid "no data" outcome, not a failure.
var ErrNoPrediction = errors.New("no prediction available")

// vertexToleranceDeg is the per-axis window for matching a vehicle's last
// known coordinate to a route vertex, roughly 100 m near the equator.
const vertexToleranceDeg = 0.001

// fallbackSpeedMS is used when a vehicle's average speed is unusable at
// division time.
const fallbackSpeedMS = 10.0

// RouteGetter is the read-only slice of the route store the engine needs.
type RouteGetter interface {
	Get(ctx context.Context, routeID string) (route.Route, error)
}

// Vehicle carries the inputs the engine needs: last known coordinate (nil
// when never reported), recorded average speed in m/s (zero when never
// recorded), and the route to predict along.
type Vehicle struct {
	RouteID    string
	LastKnown  *geo.Point
	AvgSpeedMS float64
}

type Prediction struct {
	Location   geo.Point `json:"predicted_location"`
	ETASeconds int       `json:"eta_seconds"`
}

type Engine struct {
	routes  RouteGetter
	timeout time.Duration
}

func NewEngine(routes RouteGetter, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Engine{routes: routes, timeout: timeout}
}

// Predict estimates the vehicle's position and remaining travel time from
// its last known location and the stored route polyline. The route lookup
// is bounded by the engine timeout; an unreachable or missing route yields
// ErrNoPrediction rather than blocking.
func (e *Engine) Predict(ctx context.Context, v Vehicle) (Prediction, error) {
	if v.LastKnown == nil || v.AvgSpeedMS == 0 {
		return Prediction{}, ErrNoPrediction
	}

	lookupCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	r, err := e.routes.Get(lookupCtx, v.RouteID)
	if err != nil {
		return Prediction{}, ErrNoPrediction
	}

	idx := nearestVertex(r.Path, *v.LastKnown)
	remainingM := geo.RemainingDistanceM(r.Path, idx)

	speed := v.AvgSpeedMS
	if speed == 0 {
		speed = fallbackSpeedMS
	}

	return Prediction{
		Location:   *v.LastKnown,
		ETASeconds: int(math.Round(remainingM / speed)),
	}, nil
}

// nearestVertex returns the first polyline vertex within the tolerance
// window on both axes, or 0 when none matches. Defaulting to the start of
// the route deliberately favors some estimate over none.
func nearestVertex(path []geo.Point, p geo.Point) int {
	for i, v := range path {
		if math.Abs(v.Lat-p.Lat) < vertexToleranceDeg && math.Abs(v.Lng-p.Lng) < vertexToleranceDeg {
			return i
		}
	}
	return 0
}
