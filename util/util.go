// Package util holds small arithmetic and byte-packing helpers shared across
// the kernel. Grounded on biscuit/src/util/util.go (Roundup/Rounddown,
// Readn/Writen little-endian packing helpers used throughout mem/vm/fs).
package util

/// Roundup rounds n up to the nearest multiple of to. to must be a power
/// of two.
func Roundup(n, to int) int {
	return Rounddown(n+to-1, to)
}

/// Rounddown rounds n down to the nearest multiple of to. to must be a
/// power of two.
func Rounddown(n, to int) int {
	return n &^ (to - 1)
}

/// NextPow2 returns the smallest power of two >= n. n must be >= 0; NextPow2
/// of 0 is 1.
func NextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

/// Log2 returns the base-2 exponent of n, which must be an exact power of
/// two (panics otherwise).
func Log2(n int) uint {
	if n <= 0 || n&(n-1) != 0 {
		panic("log2: not a power of two")
	}
	var shift uint
	for n > 1 {
		n >>= 1
		shift++
	}
	return shift
}

/// Readn reads an l-byte little-endian integer from src starting at off.
func Readn(src []uint8, l, off int) int {
	ret := 0
	for i := 0; i < l; i++ {
		ret |= int(src[off+i]) << (8 * uint(i))
	}
	return ret
}

/// Writen writes the low l bytes of val into dst starting at off, little
/// endian.
func Writen(dst []uint8, l, off, val int) {
	for i := 0; i < l; i++ {
		dst[off+i] = uint8(val >> (8 * uint(i)))
	}
}
