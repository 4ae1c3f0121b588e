package domain

import (
	"fmt"
	"math"
)

// Location is a point in signed decimal degrees.
type Location struct {
	Latitude  float64
	Longitude float64
}

func (l Location) Validate() error {
	if math.IsNaN(l.Latitude) || math.IsNaN(l.Longitude) ||
		math.IsInf(l.Latitude, 0) || math.IsInf(l.Longitude, 0) {
		return fmt.Errorf("%w: coordinates must be finite numbers", ErrValidation)
	}
	if l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90, 90]", ErrValidation, l.Latitude)
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180, 180]", ErrValidation, l.Longitude)
	}
	return nil
}
