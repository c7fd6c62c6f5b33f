package kernel

// swizzleOffset is the width of the tile bands walked by the scheduler.
const swizzleOffset = 3

// swizzle maps a linear tile index onto (row tile, column tile).
//
// Tiles are visited in bands of swizzleOffset rows (or columns) and the
// direction inside a band alternates, so consecutive indexes stay close in
// both A and B. With M > N the bands run along M ("Zn"), otherwise along N
// ("Nz").
type swizzle struct {
	loopsM int
	loopsN int
	offset int
	alongM bool
}

func newSwizzle(m, n, tileM, tileN int) swizzle {
	return swizzle{
		loopsM: ceilDiv(m, tileM),
		loopsN: ceilDiv(n, tileN),
		offset: swizzleOffset,
		alongM: m > n,
	}
}

func (s swizzle) count() int {
	return s.loopsM * s.loopsN
}

func (s swizzle) direction() string {
	if s.alongM {
		return "Zn"
	}
	return "Nz"
}

func (s swizzle) tile(idx int) (mIdx, nIdx int) {
	if s.alongM {
		band := s.offset * s.loopsN
		block := idx / band
		in := idx % band
		rows := s.offset
		if block == ceilDiv(s.loopsM, s.offset)-1 {
			rows = s.loopsM - s.offset*block
		}
		mIdx = block*s.offset + in%rows
		nIdx = in / rows
		if block%2 == 1 {
			nIdx = s.loopsN - nIdx - 1
		}
		return mIdx, nIdx
	}

	band := s.offset * s.loopsM
	block := idx / band
	in := idx % band
	cols := s.offset
	if block == ceilDiv(s.loopsN, s.offset)-1 {
		cols = s.loopsN - s.offset*block
	}
	mIdx = in / cols
	nIdx = block*s.offset + in%cols
	if block%2 == 1 {
		mIdx = s.loopsM - mIdx - 1
	}
	return mIdx, nIdx
}
