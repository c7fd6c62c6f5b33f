package kernel

// accumulateTile computes the exact int32 product of the A rows
// [m0, m0+mLen) and B columns [n0, n0+nLen) over K range [k0, k1) into acc,
// laid out row-major with stride nLen. K is walked in tk slabs so the B slab
// stays cache resident while every A row streams over it.
//
// a is row-major with row stride lda, b row-major with row stride ldb.
func accumulateTile(acc []int32, a []int8, lda int, b []int8, ldb int, m0, mLen, n0, nLen, k0, k1, tk int) {
	acc = acc[:mLen*nLen]
	clear(acc)
	for ks := k0; ks < k1; ks += tk {
		ke := min(ks+tk, k1)
		for i := range mLen {
			aBase := (m0+i)*lda
			arow := a[aBase+ks : aBase+ke]
			crow := acc[i*nLen : (i+1)*nLen]
			for kk, av := range arow {
				if av == 0 {
					continue
				}
				x := int32(av)
				bBase := (ks+kk)*ldb + n0
				brow := b[bBase : bBase+nLen]
				for j, bv := range brow {
					crow[j] += x * int32(bv)
				}
			}
		}
	}
}

// dot2x2 returns the four dot products of rows a0, a1 against columns b0, b1.
// All four slices must share a length.
func dot2x2(a0, a1, b0, b1 []int8) (c00, c01, c10, c11 int32) {
	n := len(a0)
	a1, b0, b1 = a1[:n], b0[:n], b1[:n]
	k := 0
	for ; k+4 <= n; k += 4 {
		x0, x1, x2, x3 := int32(a0[k]), int32(a0[k+1]), int32(a0[k+2]), int32(a0[k+3])
		y0, y1, y2, y3 := int32(a1[k]), int32(a1[k+1]), int32(a1[k+2]), int32(a1[k+3])
		p0, p1, p2, p3 := int32(b0[k]), int32(b0[k+1]), int32(b0[k+2]), int32(b0[k+3])
		q0, q1, q2, q3 := int32(b1[k]), int32(b1[k+1]), int32(b1[k+2]), int32(b1[k+3])
		c00 += x0*p0 + x1*p1 + x2*p2 + x3*p3
		c01 += x0*q0 + x1*q1 + x2*q2 + x3*q3
		c10 += y0*p0 + y1*p1 + y2*p2 + y3*p3
		c11 += y0*q0 + y1*q1 + y2*q2 + y3*q3
	}
	for ; k < n; k++ {
		x, y := int32(a0[k]), int32(a1[k])
		p, q := int32(b0[k]), int32(b1[k])
		c00 += x * p
		c01 += x * q
		c10 += y * p
		c11 += y * q
	}
	return c00, c01, c10, c11
}

func dot(a, b []int8) int32 {
	b = b[:len(a)]
	var s int32
	for k, av := range a {
		s += int32(av) * int32(b[k])
	}
	return s
}

// accumulatePacked is the packed-layout counterpart of accumulateTile: A rows
// and B columns are both K-contiguous with stride kp, so every output pair is
// a straight dot product over the slab. Rows and columns are taken two at a
// time; odd edges fall back to single dots.
func accumulatePacked(acc []int32, ap []int8, bt []int8, kp int, m0, mLen, n0, nLen, k0, k1, tk int) {
	acc = acc[:mLen*nLen]
	clear(acc)
	for ks := k0; ks < k1; ks += tk {
		ke := min(ks+tk, k1)
		i := 0
		for ; i+2 <= mLen; i += 2 {
			r0 := ap[(m0+i)*kp+ks : (m0+i)*kp+ke]
			r1 := ap[(m0+i+1)*kp+ks : (m0+i+1)*kp+ke]
			c0 := acc[i*nLen:]
			c1 := acc[(i+1)*nLen:]
			j := 0
			for ; j+2 <= nLen; j += 2 {
				col0 := bt[(n0+j)*kp+ks : (n0+j)*kp+ke]
				col1 := bt[(n0+j+1)*kp+ks : (n0+j+1)*kp+ke]
				v00, v01, v10, v11 := dot2x2(r0, r1, col0, col1)
				c0[j] += v00
				c0[j+1] += v01
				c1[j] += v10
				c1[j+1] += v11
			}
			if j < nLen {
				col := bt[(n0+j)*kp+ks : (n0+j)*kp+ke]
				c0[j] += dot(r0, col)
				c1[j] += dot(r1, col)
			}
		}
		if i < mLen {
			r := ap[(m0+i)*kp+ks : (m0+i)*kp+ke]
			c := acc[i*nLen:]
			for j := range nLen {
				c[j] += dot(r, bt[(n0+j)*kp+ks:(n0+j)*kp+ke])
			}
		}
	}
}
