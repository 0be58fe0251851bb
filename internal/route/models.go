package route

import (
	"time"

	"github.com/yasuo72/TransitShare/internal/shared/geo"
)

// Route is a fixed vehicle route: an ordered polyline plus named stops.
// Immutable once created; the prediction engine only reads it.
type Route struct {
	ID        string      `json:"id"`
	RouteID   string      `json:"route_id"`
	Path      []geo.Point `json:"path_coordinates"`
	Stops     []Stop      `json:"stops"`
	CreatedAt time.Time   `json:"created_at"`
}

type Stop struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

type CreateRequest struct {
	RouteID string      `json:"route_id" validate:"required"`
	Path    []geo.Point `json:"path_coordinates" validate:"required,min=2,dive"`
	Stops   []Stop      `json:"stops" validate:"dive"`
}
