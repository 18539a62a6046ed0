// Package geohash derives coarse spatial bucket codes from coordinate
// pairs. A code is a standard geohash truncated to 3 base32 characters
// (15 bits), packed into a uint16 with the top bit always zero. At that
// resolution a bucket covers roughly 156 x 156 km at the equator, which
// is the partition granularity the slice index is built on.
//
// Encoding is deterministic and pure: the same coordinate pair always
// yields the same code, across runs and platforms. The store and the
// slice index depend on that invariant.
package geohash

// Code is a 15-bit geohash prefix packed into a uint16.
type Code uint16

// PrecisionBits is the number of geohash bits a Code carries
// (3 base32 characters).
const PrecisionBits = 15

const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// Encode returns the bucket code for a coordinate pair. Bits alternate
// longitude/latitude starting with longitude, per the geohash algorithm.
func Encode(lat, lon float64) Code {
	latMin, latMax := -90.0, 90.0
	lonMin, lonMax := -180.0, 180.0

	var code uint16
	lonBit := true
	for i := 0; i < PrecisionBits; i++ {
		code <<= 1
		if lonBit {
			mid := (lonMin + lonMax) / 2
			if lon >= mid {
				code |= 1
				lonMin = mid
			} else {
				lonMax = mid
			}
		} else {
			mid := (latMin + latMax) / 2
			if lat >= mid {
				code |= 1
				latMin = mid
			} else {
				latMax = mid
			}
		}
		lonBit = !lonBit
	}

	return Code(code)
}

// EncodeBatch computes codes for parallel latitude/longitude arrays.
// Both slices must have the same length.
func EncodeBatch(lats, lons []float32) []Code {
	if len(lats) != len(lons) {
		panic("geohash: latitude and longitude arrays differ in length")
	}

	codes := make([]Code, len(lats))
	for i := range lats {
		codes[i] = Encode(float64(lats[i]), float64(lons[i]))
	}
	return codes
}

// String renders the 3-character base32 geohash prefix.
func (c Code) String() string {
	var b [3]byte
	v := uint16(c)
	for i := 2; i >= 0; i-- {
		b[i] = base32[v&0x1f]
		v >>= 5
	}
	return string(b[:])
}
