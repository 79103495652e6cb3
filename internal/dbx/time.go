package dbx

import "time"

// TimeToMillis converts a time to Unix milliseconds for storage. The zero
// time maps to 0 so "absent" survives a round trip.
func TimeToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// TimeFromMillis is the inverse of TimeToMillis. 0 maps back to the zero time.
func TimeFromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
