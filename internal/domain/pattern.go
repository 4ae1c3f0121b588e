package domain

import "time"

// HourWindow is an inclusive range of hours of day.
type HourWindow struct {
	StartHour int
	EndHour   int
}

// Contains reports whether hour falls within the window. An inverted
// window contains nothing.
func (w HourWindow) Contains(hour int) bool {
	return w.StartHour <= hour && hour <= w.EndHour
}

// DonorPattern holds learned response behaviour for one donor.
type DonorPattern struct {
	DonorID         string
	ResponseRate    float64
	AvgResponseTime float64
	PreferredWindow HourWindow
	Observations    int
	UpdatedAt       time.Time
}
