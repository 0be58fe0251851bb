package geo

import "math"

const (
	earthRadiusKm = 6371
	earthRadiusM  = 6371e3
)

// Point is a coordinate pair in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// HaversineKm returns the great-circle distance between two coordinates in
// kilometers.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	return haversine(lat1, lng1, lat2, lng2) * earthRadiusKm
}

// HaversineM returns the great-circle distance in meters. Callers must be
// explicit about which unit they consume; mixing the two is a 1000x bug.
func HaversineM(lat1, lng1, lat2, lng2 float64) float64 {
	return haversine(lat1, lng1, lat2, lng2) * earthRadiusM
}

func haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// RemainingDistanceM sums the haversine distances between consecutive
// polyline vertices from fromIndex to the last vertex, in meters.
// An out-of-range fromIndex is clamped to 0.
func RemainingDistanceM(path []Point, fromIndex int) float64 {
	if fromIndex < 0 || fromIndex > len(path)-1 {
		fromIndex = 0
	}
	dist := 0.0
	for i := fromIndex; i < len(path)-1; i++ {
		dist += HaversineM(path[i].Lat, path[i].Lng, path[i+1].Lat, path[i+1].Lng)
	}
	return dist
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
