package geo

import (
	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// DistanceM is the great-circle distance in meters between two lat/lon pairs.
func DistanceM(lat1, lng1, lat2, lng2 float64) float64 {
	return orbgeo.DistanceHaversine(orb.Point{lng1, lat1}, orb.Point{lng2, lat2})
}

func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	return DistanceM(lat1, lng1, lat2, lng2) / 1000
}
