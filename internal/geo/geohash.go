// Package geo implements the canonical base-32 geohash codec (spec §3,
// §8 property 7). No third-party geohash library appears anywhere in the
// example corpus; this is the relay's own hand-rolled domain algorithm,
// the "hard part" spec §1 names, not an ambient concern a library would
// normally own (DESIGN.md).
package geo

import "strings"

const base32Alphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

// DefaultPrecision is the geohash length the relay stores on Project
// records (spec §3: "9-12 characters").
const DefaultPrecision = 10

// Encode computes the canonical base-32 geohash for (lat, lng) at the
// given precision (string length).
func Encode(lat, lng float64, precision int) string {
	if precision <= 0 {
		precision = DefaultPrecision
	}

	latRange := [2]float64{-90.0, 90.0}
	lngRange := [2]float64{-180.0, 180.0}

	var sb strings.Builder
	sb.Grow(precision)

	bit := 0
	ch := 0
	evenBit := true // longitude bits are even-indexed, starting with bit 0

	for sb.Len() < precision {
		if evenBit {
			mid := (lngRange[0] + lngRange[1]) / 2
			if lng >= mid {
				ch = (ch << 1) | 1
				lngRange[0] = mid
			} else {
				ch = ch << 1
				lngRange[1] = mid
			}
		} else {
			mid := (latRange[0] + latRange[1]) / 2
			if lat >= mid {
				ch = (ch << 1) | 1
				latRange[0] = mid
			} else {
				ch = ch << 1
				latRange[1] = mid
			}
		}
		evenBit = !evenBit

		bit++
		if bit == 5 {
			sb.WriteByte(base32Alphabet[ch])
			bit = 0
			ch = 0
		}
	}

	return sb.String()
}

// Decode returns the bounding box center (lat, lng) a geohash string
// denotes. Unknown characters are skipped (treated as absent precision).
func Decode(hash string) (lat, lng float64) {
	latRange := [2]float64{-90.0, 90.0}
	lngRange := [2]float64{-180.0, 180.0}

	evenBit := true
	for _, c := range hash {
		idx := strings.IndexRune(base32Alphabet, c)
		if idx < 0 {
			continue
		}
		for shift := 4; shift >= 0; shift-- {
			bitVal := (idx >> uint(shift)) & 1
			if evenBit {
				mid := (lngRange[0] + lngRange[1]) / 2
				if bitVal == 1 {
					lngRange[0] = mid
				} else {
					lngRange[1] = mid
				}
			} else {
				mid := (latRange[0] + latRange[1]) / 2
				if bitVal == 1 {
					latRange[0] = mid
				} else {
					latRange[1] = mid
				}
			}
			evenBit = !evenBit
		}
	}

	lat = (latRange[0] + latRange[1]) / 2
	lng = (lngRange[0] + lngRange[1]) / 2
	return lat, lng
}

// Prefixes returns every non-empty prefix of hash, longest first — the
// sequence the Room Fan-out Engine walks (spec §4.3: "for L' in L, L-1,
// ..., 1").
func Prefixes(hash string) []string {
	if hash == "" {
		return nil
	}
	out := make([]string, 0, len(hash))
	for l := len(hash); l >= 1; l-- {
		out = append(out, hash[:l])
	}
	return out
}

// IsPrefixOf reports whether p is a prefix of the (possibly longer) hash g.
func IsPrefixOf(p, g string) bool {
	return len(p) <= len(g) && g[:len(p)] == p
}
