package topology

// Marmaray has no upstream timetable endpoint, so its schedule ships as
// static data. Headways are roughly 8 minutes at peak and 15 off-peak.

// MarmarayLineCode is the cross-Bosphorus commuter rail line.
const MarmarayLineCode = "MARMARAY"

// Marmaray runs from 06:00 with a last departure at midnight, wrapping the
// civil day boundary.
const (
	MarmarayFirstTime = "06:00"
	MarmarayLastTime  = "00:00"
)

var marmarayTripsPerHour = [24]int{
	1,              // 00
	0, 0, 0, 0, 0,  // 01..05
	6,              // 06
	7, 8, 8,        // 07..09
	6, 6, 6, 6, 6,  // 10..14
	6, 7, 8, 8, 7,  // 15..19
	6, 5, 5, 4,     // 20..23
}

// IsMarmaray reports whether a line code refers to Marmaray.
func IsMarmaray(code string) bool {
	return code == MarmarayLineCode || code == "Marmaray" || code == "marmaray"
}

// MarmarayTripsPerHour returns the static hourly departure counts.
func MarmarayTripsPerHour() [24]int {
	return marmarayTripsPerHour
}

// MarmarayServiceHours returns the hard-coded service window.
func MarmarayServiceHours() (first, last string) {
	return MarmarayFirstTime, MarmarayLastTime
}
