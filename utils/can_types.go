package utils

// FieldDef places one scaled value inside the 8 data bytes of a frame.
type FieldDef struct {
	Name      string
	StartBit  int
	BitLength int
	Signed    bool
	// Factor converts raw integer units to physical units: phys = raw * Factor.
	Factor float64
	Unit   string
}

// Byte returns the first data byte covered by the field.
func (f FieldDef) Byte() int {
	return (63 - (f.StartBit + f.BitLength - 1)) / 8
}

// Len returns the number of data bytes the field spans.
func (f FieldDef) Len() int {
	return (f.BitLength + 7) / 8
}

// MinFrameLength is the smallest DLC able to carry the field.
func (f FieldDef) MinFrameLength() uint8 {
	return uint8(f.Byte() + f.Len())
}

// Range reports the physical interval the field can represent.
func (f FieldDef) Range() (float64, float64) {
	lo, hi := rawRange(f.BitLength, f.Signed)
	return float64(lo) * f.Factor, float64(hi) * f.Factor
}
