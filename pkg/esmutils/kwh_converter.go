package esmutils

import "math"

// KwToW rounds to whole watts. Negative values become 0.
func KwToW(kw float64) uint32 {
	if kw < 0 {
		return 0
	}
	return uint32(math.Round(kw * 1000))
}

func WToKw(w uint32) float64 {
	return float64(w) / 1000
}

// Energy registers convert the same way as power.
func KwhToWh(kwh float64) uint32 { return KwToW(kwh) }

// M3ToDM3 converts m3 to dm3 for storage. Negative values become 0.
func M3ToDM3(m3 float64) uint32 {
	if m3 < 0 {
		return 0
	}
	return uint32(math.Round(m3 * 1000))
}

func DM3ToM3(dm3 uint32) float64 {
	return float64(dm3) / 1000
}
