package util

import "strconv"

func Atoi(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// ParseFloat returns def when s is empty or malformed.
func ParseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

// ParseInt returns def when s is empty or malformed.
func ParseInt(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
