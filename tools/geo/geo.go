package geo

import "math"

// EarthRadiusKm is the mean earth radius used by Distance.
const EarthRadiusKm = 6371.0

var cardinals = [8]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

// Distance is the haversine great-circle distance in kilometres.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// Bearing is the initial bearing from point 1 to point 2, in degrees within [0, 360).
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRad(lat1)
	phi2 := toRad(lat2)
	dLon := toRad(lon2 - lon1)
	y := math.Sin(dLon) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLon)
	b := math.Mod(toDeg(math.Atan2(y, x))+360, 360)
	if b >= 360 {
		b = 0
	}
	return b
}

// Cardinal maps a bearing to one of eight compass points.
func Cardinal(bearing float64) string {
	b := math.Mod(bearing, 360)
	if b < 0 {
		b += 360
	}
	idx := int(math.Round(b/45)) % 8
	return cardinals[idx]
}
