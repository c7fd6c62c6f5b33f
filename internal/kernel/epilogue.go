package kernel

import (
	"encoding/binary"

	"github.com/samcharles93/actkernel/internal/scale"
)

// storeTile dequantizes an accumulator tile and writes it as 16-bit floats.
//
// out is the [m, n] output matrix as raw little-endian halves with row
// stride n. Each element is float32(acc) * (uniform * row[i] * col[j]),
// rounded once by enc.
func storeTile(out []byte, n int, acc []int32, m0, mLen, n0, nLen int, s scale.Resolved, enc func(float32) uint16) {
	for i := range mLen {
		rs := s.Uniform
		if s.Row != nil {
			rs *= s.Row[m0+i]
		}
		arow := acc[i*nLen : (i+1)*nLen]
		orow := out[((m0+i)*n+n0)*2 : ((m0+i)*n+n0+nLen)*2]
		if s.Col == nil {
			for j, v := range arow {
				binary.LittleEndian.PutUint16(orow[j*2:], enc(float32(v)*rs))
			}
			continue
		}
		col := s.Col[n0 : n0+nLen]
		for j, v := range arow {
			binary.LittleEndian.PutUint16(orow[j*2:], enc(float32(v)*(rs*col[j])))
		}
	}
}
