// Package pixel converts decoded sample layouts into the texture layout.
package pixel

// PackRGBX copies packed RGB pixels from src into the first three bytes of each
// 4-byte pixel in dst. The fourth byte of every destination pixel is left as is.
//
// Source and destination strides differ (3 vs 4), so this is a per-pixel copy.
// It converts min(len(src)/3, len(dst)/4) pixels and returns that count.
func PackRGBX(dst, src []byte) int {
	n := len(src) / 3
	if m := len(dst) / 4; m < n {
		n = m
	}

	for i := 0; i < n; i++ {
		d := dst[i*4 : i*4+3 : i*4+3]
		s := src[i*3 : i*3+3 : i*3+3]
		d[0], d[1], d[2] = s[0], s[1], s[2]
	}
	return n
}
