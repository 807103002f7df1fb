package utils

// Bit positions below count from the least significant bit of the payload
// packed big-endian (can.Data.PackBigEndian): data byte 0 occupies bits 56..63,
// data byte 7 bits 0..7.

func getBits(payload uint64, startBit, bitLen int) uint64 {
	if bitLen <= 0 || bitLen > 64 {
		return 0
	}
	mask := uint64((1 << bitLen) - 1)
	return (payload >> startBit) & mask
}

func setBits(payload uint64, startBit, bitLen int, value uint64) uint64 {
	if bitLen <= 0 || bitLen > 64 {
		return payload
	}
	mask := uint64((1 << bitLen) - 1)
	payload &^= (mask << startBit)
	payload |= (value & mask) << startBit
	return payload
}

func unsignedToRawInt64(u uint64, bitLen int, signed bool) int64 {
	if !signed {
		return int64(u)
	}
	signBit := uint64(1) << (bitLen - 1)
	if (u & signBit) == 0 {
		return int64(u)
	}
	fullMask := uint64((1 << bitLen) - 1)
	twos := (^u + 1) & fullMask
	return -int64(twos)
}

func rawToUnsigned(raw int64, bitLen int) uint64 {
	if raw >= 0 {
		return uint64(raw)
	}
	fullMask := uint64((1 << bitLen) - 1)
	u := uint64(-raw)
	twos := (^u + 1) & fullMask
	return twos
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// rawRange returns the smallest and largest raw integer a field can hold.
func rawRange(bitLen int, signed bool) (int64, int64) {
	if bitLen <= 0 || bitLen > 63 {
		return 0, 0
	}
	if !signed {
		return 0, int64((1 << bitLen) - 1)
	}
	return -int64(1 << (bitLen - 1)), int64((1 << (bitLen - 1)) - 1)
}
