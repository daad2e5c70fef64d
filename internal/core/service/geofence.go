package service

import "math"

const EarthRadiusKm = 6373.0

type Geofence struct {
	Latitude  float64
	Longitude float64
	RadiusKm  float64
}

// IsLocal reports whether the position lies within the radius around the
// charger. Missing coordinates arrive as (0,0) and simply evaluate as remote.
func (g Geofence) IsLocal(lat, lon float64) bool {
	return g.DistanceKm(lat, lon) < g.RadiusKm
}

// DistanceKm is the haversine great-circle distance to the charger.
func (g Geofence) DistanceKm(lat, lon float64) float64 {
	lat1 := radians(g.Latitude)
	lat2 := radians(lat)
	dlat := lat2 - lat1
	dlon := radians(lon) - radians(g.Longitude)

	a := math.Pow(math.Sin(dlat/2), 2) + math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dlon/2), 2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
