// README: Great-circle distance and degree-span helpers for the geo prefilters.
package location

import (
	"math"

	"ridematch/internal/types"
)

const earthRadiusKm = 6371.0

// kmPerDegreeLat is the length of one degree of latitude.
const kmPerDegreeLat = 2 * math.Pi * earthRadiusKm / 360

// haversineKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// DistanceKm is haversineKm over points.
func DistanceKm(a, b types.Point) float64 {
	return haversineKm(a.Lat, a.Lng, b.Lat, b.Lng)
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// degreeSpan over-approximates how many degrees of latitude and longitude radiusKm can
// span around lat. Longitude uses the band edge closest to the pole; it saturates at 360.
func degreeSpan(lat, radiusKm float64) (dLat, dLng float64) {
	const margin = 1.1
	dLat = margin * radiusKm / kmPerDegreeLat
	edge := math.Abs(lat) + dLat
	if edge >= 90 {
		return dLat, 360
	}
	dLng = margin * radiusKm / (kmPerDegreeLat * math.Cos(degreesToRadians(edge)))
	if dLng > 360 {
		dLng = 360
	}
	return dLat, dLng
}

// sortByDistance performs an insertion sort (fine for small N) on any slice
// where each element exposes a distance via the accessor function.
func sortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
