package utils

import (
	"fmt"
	"math"
)

const (
	EarthRadiusKM     = 6371.0
	MilesPerKilometer = 0.621371
	FeetPerMile       = 5280.0
)

// HaversineKM returns the great-circle distance between two points in kilometers.
func HaversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	la1 := lat1 * math.Pi / 180
	la2 := lat2 * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(la1)*math.Cos(la2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKM * c
}

// ValidCoordinate reports whether lat/lon are finite and within ±90/±180.
func ValidCoordinate(lat, lon float64) bool {
	return !math.IsNaN(lat) && !math.IsNaN(lon) &&
		lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// Thresholds for PresentableDistance, in miles unless noted.
const (
	milesIfNextStopBeyond = 0.5
	milesIfStopsAwayOver  = 3
	milesIfCallBeyond     = 0.5
	approachingFeet       = 500.0
	atStopFeet            = 100.0
)

// PresentableDistance renders how far a vehicle is from a call: "at stop",
// "approaching", "N stops" or a distance in miles for far-away calls.
func PresentableDistance(stopsAway int, toCallKM, toNextStopKM float64) string {
	toCall := toCallKM * MilesPerKilometer
	if toNextStopKM*MilesPerKilometer > milesIfNextStopBeyond ||
		(stopsAway > milesIfStopsAwayOver && toCall > milesIfCallBeyond) {
		miles := math.Round(toCall*10) / 10
		if miles == 1 {
			return "1 mile"
		}
		return fmt.Sprintf("%g miles", miles)
	}

	switch feet := toCall * FeetPerMile; {
	case stopsAway == 0 && feet < atStopFeet:
		return "at stop"
	case stopsAway == 0 && feet < approachingFeet:
		return "approaching"
	case stopsAway == 1:
		return "1 stop"
	}
	return fmt.Sprintf("%d stops", stopsAway)
}
