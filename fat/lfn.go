// Long file name directory entries: UTF-16 packing/unpacking across a
// chain of up to 20 LFN entries preceding the 8.3 entry they belong to
// (spec.md §4.11).
//
// Wires golang.org/x/text/encoding/unicode (DOMAIN STACK item) into the
// LFN codec instead of hand-rolling UTF-16 surrogate-pair packing: Go's
// standard library has no UTF-16 codec, and this is exactly the kind of
// "needs a real text-encoding library" case SPEC_FULL.md's DOMAIN STACK
// calls for.
package fat

import (
	"golang.org/x/text/encoding/unicode"

	"ringspine/errs"
)

/// LfnAttr is the attribute byte marking a directory entry as an LFN
/// fragment rather than an 8.3 entry.
const LfnAttr = 0x0F

/// MaxNameLen bounds a long name's length (13 UTF-16 code units per entry,
/// 20 entries max, per the FAT32 LFN convention).
const MaxNameLen = 255

// charsPerEntry is the number of UTF-16 code units packed per LFN entry
// (5 + 6 + 2, the three name fields of an LFN directory entry).
const charsPerEntry = 13

/// LfnEntry_t is one 32-byte long-name directory entry.
type LfnEntry_t struct {
	Order    uint8 // 1-based sequence number; bit 6 (0x40) marks the last (first-written) entry
	Name1    [5]uint16
	Attr     uint8 // always LfnAttr
	Type     uint8 // always 0
	Checksum uint8 // checksum of the associated 8.3 short name
	Name2    [6]uint16
	FirstClusterLo uint16 // always 0
	Name3    [2]uint16
}

var utf16codec = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
var utf16decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

/// EncodeLongName splits name into a sequence of LfnEntry_t, ordered as
/// they must be written to disk: entry[0] holds the *last* 13 characters
/// with the 0x40 "last entry" bit set in Order, counting down to entry
/// order 1 holding the first 13 characters — the FAT32 convention so a
/// forward directory scan encounters entries in descending order.
func EncodeLongName(name string, shortNameChecksum uint8) ([]LfnEntry_t, errs.Err_t) {
	if len(name) == 0 || len([]rune(name)) > MaxNameLen {
		return nil, errs.ENAMETOOLONG
	}
	encoded, err := utf16codec.String(name)
	if err != nil {
		return nil, errs.EINVAL
	}
	units := utf16Units([]byte(encoded))

	n := (len(units) + charsPerEntry - 1) / charsPerEntry
	entries := make([]LfnEntry_t, n)
	for i := 0; i < n; i++ {
		start := i * charsPerEntry
		end := start + charsPerEntry
		chunk := make([]uint16, charsPerEntry)
		for j := range chunk {
			chunk[j] = 0xFFFF // padding per the FAT32 spec
		}
		for j := start; j < end && j < len(units); j++ {
			chunk[j-start] = units[j]
		}
		if end >= len(units) && len(units)%charsPerEntry != 0 {
			// name ends mid-entry: null-terminate right after the last
			// real character, leave the rest 0xFFFF padding.
			chunk[len(units)-start] = 0
		}
		e := LfnEntry_t{
			Attr:     LfnAttr,
			Checksum: shortNameChecksum,
		}
		copy(e.Name1[:], chunk[0:5])
		copy(e.Name2[:], chunk[5:11])
		copy(e.Name3[:], chunk[11:13])
		entries[i] = e
	}
	// entries are currently ordered first-chunk-first; disk order is
	// reversed with the 0x40 bit on the last (highest-order) entry.
	for i := 0; i < n; i++ {
		order := uint8(i + 1)
		if i == n-1 {
			order |= 0x40
		}
		entries[i].Order = order
	}
	reversed := make([]LfnEntry_t, n)
	for i, e := range entries {
		reversed[n-1-i] = e
	}
	return reversed, errs.EOK
}

// DecodeLongName reassembles a name from a run of LfnEntry_t in on-disk
// order (highest order / 0x40-tagged entry first).
func DecodeLongName(entries []LfnEntry_t) (string, errs.Err_t) {
	if len(entries) == 0 {
		return "", errs.EINVAL
	}
	var units []uint16
	// disk order is descending; reassemble ascending (order 1 first).
	ordered := make([]LfnEntry_t, len(entries))
	copy(ordered, entries)
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}
	for _, e := range ordered {
		units = append(units, e.Name1[:]...)
		units = append(units, e.Name2[:]...)
		units = append(units, e.Name3[:]...)
	}
	// trim at the first null / 0xFFFF padding.
	end := len(units)
	for i, u := range units {
		if u == 0 || u == 0xFFFF {
			end = i
			break
		}
	}
	units = units[:end]

	raw := unitsToBytes(units)
	out, err := utf16decoder.Bytes(raw)
	if err != nil {
		return "", errs.EFATCORRUPT
	}
	return string(out), errs.EOK
}

func utf16Units(b []byte) []uint16 {
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	return units
}

func unitsToBytes(units []uint16) []byte {
	out := make([]byte, len(units)*2)
	for i, u := range units {
		out[2*i] = byte(u)
		out[2*i+1] = byte(u >> 8)
	}
	return out
}

/// ShortNameChecksum computes the checksum an LFN chain's entries carry,
/// computed over the associated 11-byte 8.3 short name, per the FAT32
/// spec's published algorithm.
func ShortNameChecksum(shortName [11]byte) uint8 {
	var sum uint8
	for _, c := range shortName {
		sum = (sum >> 1) + (sum << 7) + c
	}
	return sum
}
