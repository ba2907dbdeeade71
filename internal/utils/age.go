package utils

import (
	"fmt"
	"time"
)

type ageUnit struct {
	seconds  float64
	singular string
	plural   string
}

// Largest first.
var ageUnits = []ageUnit{
	{360 * 24 * 3600, "yr", "yrs"},
	{30 * 24 * 3600, "mo", "mo"},
	{7 * 24 * 3600, "wk", "wks"},
	{24 * 3600, "d", "d"},
	{3600, "h", "h"},
	{60, "m", "m"},
}

// Generates a short human age from a duration, rounded down to the
// largest unit that fits.
func RoundedAge(duration time.Duration) string {
	seconds := duration.Seconds()
	for _, unit := range ageUnits {
		if value := seconds / unit.seconds; value >= 1 {
			return text(value, unit.singular, unit.plural)
		}
	}
	return text(max(seconds, 0), "s", "s")
}

// The age of something that happened at then, as seen at now.
func AgeAt(now time.Time, then time.Time) string {
	return RoundedAge(now.Sub(then))
}

func text(value float64, singular string, plural string) string {
	suffix := singular
	if value >= 2 {
		suffix = plural
	}
	return fmt.Sprintf("%d %s", int(value), suffix)
}
