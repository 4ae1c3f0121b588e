package geo

import (
	"math"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
)

// EarthRadiusKM is the mean Earth radius used by the haversine formula.
const EarthRadiusKM = 6371.0

// DistanceKM returns the great-circle distance between two points in
// decimal degrees. NaN inputs yield NaN.
func DistanceKM(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKM * c
}

// Between is DistanceKM for two domain locations.
func Between(a, b domain.Location) float64 {
	return DistanceKM(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}
