// Cluster chain walk, the 8.3 directory entry, and file/directory CRUD
// (spec.md §4.11).
//
// Grounded on original_source/kernel/src/fs/fat32/fat32_driver.rs's
// cluster-value constants (CLUSTER_FREE/RESERVED/BAD/LAST,
// ENTRY_END/FREE/DELETED/LONG, ATTR_DIRECTORY) and FatDriver's mount/walk
// logic, and on biscuit/src/ufs/driver.go's Disk_i-style backing
// abstraction for sector I/O, reused here as Backing_i so the same shape
// of fake backs both the `ahci` and `fat` packages' tests.
package fat

import (
	"ringspine/errs"
	"ringspine/util"
)

// Cluster values (original_source fat32_driver.rs's CLUSTER_* constants).
const (
	ClusterFree     uint32 = 0x00000000
	ClusterReservedMin uint32 = 0x0FFFFFF0
	ClusterBad      uint32 = 0x0FFFFFF7
	ClusterLastMin  uint32 = 0x0FFFFFF8 // >= this is end-of-chain
)

// Directory entry first-byte markers (original_source's ENTRY_* constants).
const (
	EntryEnd     = 0x00
	EntryFree    = 0xE5
	EntryDeleted = 0xE5
)

// Attribute bits.
const (
	AttrReadOnly = 1 << 0
	AttrHidden   = 1 << 1
	AttrSystem   = 1 << 2
	AttrVolumeID = 1 << 3
	AttrDirectory = 1 << 4
	AttrArchive  = 1 << 5
)

/// DirEntry_t is one 32-byte FAT32 8.3 directory entry.
type DirEntry_t struct {
	Name            [11]byte
	Attr            uint8
	FirstClusterHi  uint16
	FirstClusterLo  uint16
	FileSize        uint32
}

/// FirstCluster combines the high/low cluster halves.
func (d DirEntry_t) FirstCluster() uint32 {
	return uint32(d.FirstClusterHi)<<16 | uint32(d.FirstClusterLo)
}

/// SetFirstCluster splits c into the entry's high/low halves.
func (d *DirEntry_t) SetFirstCluster(c uint32) {
	d.FirstClusterHi = uint16(c >> 16)
	d.FirstClusterLo = uint16(c)
}

func parseDirEntry(b []byte) DirEntry_t {
	var d DirEntry_t
	copy(d.Name[:], b[0:11])
	d.Attr = b[11]
	d.FirstClusterHi = uint16(util.Readn(b, 2, 20))
	d.FirstClusterLo = uint16(util.Readn(b, 2, 26))
	d.FileSize = uint32(util.Readn(b, 4, 28))
	return d
}

func encodeDirEntry(d DirEntry_t) [32]byte {
	var b [32]byte
	copy(b[0:11], d.Name[:])
	b[11] = d.Attr
	util.Writen(b[:], 2, 20, int(d.FirstClusterHi))
	util.Writen(b[:], 2, 26, int(d.FirstClusterLo))
	util.Writen(b[:], 4, 28, int(d.FileSize))
	return b
}

// Backing_i is the simulated disk a Volume_t reads/writes sectors from,
// the same shape as ahci.Backing_i so a volume can sit directly on an
// ahci.Port_t in the final wiring.
type Backing_i interface {
	ReadSectors(lba uint64, count int) ([]byte, errs.Err_t)
	WriteSectors(lba uint64, data []byte) errs.Err_t
}

/// Volume_t is a mounted FAT32 volume.
type Volume_t struct {
	Bpb     Bpb_t
	Backing Backing_i
}

// Format lays down a fresh FAT32 volume on backing: a BPB, two zeroed FATs
// (save for the root directory's end-of-chain marker), and a zeroed root
// directory cluster. Adapted from biscuit/src/mkfs/mkfs.go's role of
// building a bootable disk image from scratch, reworked around this
// package's own BPB/FAT layout rather than ufs's.
func Format(backing Backing_i, totalSectors uint32, sectorsPerCluster uint8) (*Volume_t, errs.Err_t) {
	if totalSectors == 0 || sectorsPerCluster == 0 {
		return nil, errs.EINVAL
	}
	const reservedSectorCount = 32
	const numFATs = 2

	// First approximation of the cluster count ignoring FAT overhead, then
	// size the FAT off that and accept the resulting (slightly smaller)
	// true cluster count — the same two-pass shape FatDriver-style
	// formatters use to avoid a closed-form fixed point.
	approxDataSectors := totalSectors - reservedSectorCount
	approxClusters := approxDataSectors / uint32(sectorsPerCluster)
	fatBytes := (approxClusters + 2) * 4
	fatSize := (fatBytes + SectorSize - 1) / SectorSize

	bpb := Bpb_t{
		BytesPerSector:      SectorSize,
		SectorsPerCluster:   sectorsPerCluster,
		ReservedSectorCount: reservedSectorCount,
		NumFATs:             numFATs,
		Media:               0xF8,
		FATSize32:           fatSize,
		RootCluster:         2,
		FSInfoSector:        1,
		BackupBootSector:    6,
		TotalSectors32:      totalSectors,
	}
	if bpb.TotalClusters() < 2 {
		return nil, errs.ENOSPC
	}

	if err := backing.WriteSectors(0, bpb.Encode()); err != errs.EOK {
		return nil, err
	}

	zeroSector := make([]byte, SectorSize)
	for fat := uint32(0); fat < numFATs; fat++ {
		fatStart := reservedSectorCount + fat*fatSize
		for s := uint32(0); s < fatSize; s++ {
			if err := backing.WriteSectors(uint64(fatStart+s), zeroSector); err != errs.EOK {
				return nil, err
			}
		}
	}

	v := &Volume_t{Bpb: bpb, Backing: backing}
	if err := v.SetNextCluster(2, ClusterLastMin); err != errs.EOK {
		return nil, err
	}
	for s := uint32(0); s < uint32(sectorsPerCluster); s++ {
		if err := backing.WriteSectors(uint64(bpb.ClusterToSector(2))+uint64(s), zeroSector); err != errs.EOK {
			return nil, err
		}
	}
	return v, errs.EOK
}

/// Mount reads the BPB from the volume's first sector and returns a ready
/// Volume_t (spec.md §4.11's mount step).
func Mount(backing Backing_i) (*Volume_t, errs.Err_t) {
	boot, err := backing.ReadSectors(0, 1)
	if err != errs.EOK {
		return nil, err
	}
	bpb, err := ParseBPB(boot)
	if err != errs.EOK {
		return nil, err
	}
	return &Volume_t{Bpb: bpb, Backing: backing}, errs.EOK
}

/// NextCluster reads the FAT entry for cluster, returning the next
/// cluster in the chain, or EOK with a cluster value >= ClusterLastMin at
/// chain end.
func (v *Volume_t) NextCluster(cluster uint32) (uint32, errs.Err_t) {
	sector, off := v.Bpb.FATSectorFor(cluster)
	data, err := v.Backing.ReadSectors(uint64(sector), 1)
	if err != errs.EOK {
		return 0, err
	}
	val := uint32(util.Readn(data, 4, int(off))) & 0x0FFFFFFF
	if val == ClusterBad || (val >= ClusterReservedMin && val < ClusterLastMin) {
		return 0, errs.EFATCORRUPT
	}
	return val, errs.EOK
}

/// SetNextCluster writes cluster's FAT entry to point at next (or an
/// end-of-chain marker when next >= ClusterLastMin).
func (v *Volume_t) SetNextCluster(cluster, next uint32) errs.Err_t {
	sector, off := v.Bpb.FATSectorFor(cluster)
	data, err := v.Backing.ReadSectors(uint64(sector), 1)
	if err != errs.EOK {
		return err
	}
	cp := append([]byte(nil), data...)
	util.Writen(cp, 4, int(off), int(next&0x0FFFFFFF))
	return v.Backing.WriteSectors(uint64(sector), cp)
}

// ReadChain walks the cluster chain starting at start and returns every
// cluster number visited, in order, failing with EFATCORRUPT if the chain
// walks into a FREE or BAD cluster before reaching end-of-chain (P6:
// cluster chain closure — every chain this package builds terminates at a
// value >= ClusterLastMin, never FREE/BAD/RESERVED).
func (v *Volume_t) ReadChain(start uint32) ([]uint32, errs.Err_t) {
	var chain []uint32
	cur := start
	seen := map[uint32]bool{}
	for {
		if cur == ClusterFree {
			return nil, errs.EFATCORRUPT
		}
		if seen[cur] {
			return nil, errs.EFATCORRUPT // cycle
		}
		if cur >= ClusterLastMin {
			// a terminator can never be the chain's own start.
			return nil, errs.EFATCORRUPT
		}
		seen[cur] = true
		chain = append(chain, cur)
		next, err := v.NextCluster(cur)
		if err != errs.EOK {
			return nil, err
		}
		if next >= ClusterLastMin {
			return chain, errs.EOK
		}
		cur = next
	}
}

/// AllocChain finds n free clusters by scanning the FAT, links them into a
/// chain terminated by an end-of-chain marker, and returns the first
/// cluster. Every cluster it allocates starts FREE and ends linked to a
/// successor or an end marker — the chain it hands back always satisfies
/// ReadChain's closure property (P6).
func (v *Volume_t) AllocChain(n int) (uint32, errs.Err_t) {
	if n <= 0 {
		return 0, errs.EINVAL
	}
	var found []uint32
	for c := uint32(2); c < v.Bpb.TotalClusters()+2 && len(found) < n; c++ {
		val, err := v.clusterRaw(c)
		if err != errs.EOK {
			return 0, err
		}
		if val == ClusterFree {
			found = append(found, c)
		}
	}
	if len(found) < n {
		return 0, errs.ENOSPC
	}
	for i, c := range found {
		if i == len(found)-1 {
			if err := v.SetNextCluster(c, ClusterLastMin); err != errs.EOK {
				return 0, err
			}
		} else {
			if err := v.SetNextCluster(c, found[i+1]); err != errs.EOK {
				return 0, err
			}
		}
	}
	return found[0], errs.EOK
}

func (v *Volume_t) clusterRaw(cluster uint32) (uint32, errs.Err_t) {
	sector, off := v.Bpb.FATSectorFor(cluster)
	data, err := v.Backing.ReadSectors(uint64(sector), 1)
	if err != errs.EOK {
		return 0, err
	}
	return uint32(util.Readn(data, 4, int(off))) & 0x0FFFFFFF, errs.EOK
}

/// FreeChain walks a chain freeing every cluster (setting its FAT entry to
/// ClusterFree).
func (v *Volume_t) FreeChain(start uint32) errs.Err_t {
	chain, err := v.ReadChain(start)
	if err != errs.EOK {
		return err
	}
	for _, c := range chain {
		if err := v.SetNextCluster(c, ClusterFree); err != errs.EOK {
			return err
		}
	}
	return errs.EOK
}

/// ReadFile reads an entry's full contents by walking its cluster chain.
func (v *Volume_t) ReadFile(entry DirEntry_t) ([]byte, errs.Err_t) {
	if entry.Attr&AttrDirectory != 0 {
		return nil, errs.EISDIR
	}
	chain, err := v.ReadChain(entry.FirstCluster())
	if err != errs.EOK {
		return nil, err
	}
	clusterBytes := int(v.Bpb.SectorsPerCluster) * SectorSize
	out := make([]byte, 0, len(chain)*clusterBytes)
	for _, c := range chain {
		if c >= ClusterLastMin {
			continue
		}
		data, err := v.Backing.ReadSectors(uint64(v.Bpb.ClusterToSector(c)), int(v.Bpb.SectorsPerCluster))
		if err != errs.EOK {
			return nil, err
		}
		out = append(out, data...)
	}
	if uint32(len(out)) > entry.FileSize {
		out = out[:entry.FileSize]
	}
	return out, errs.EOK
}

/// WriteFile frees entry's existing chain (if any), allocates a fresh chain
/// long enough to hold data, writes data into it, and returns the updated
/// entry (new FirstCluster/FileSize).
func (v *Volume_t) WriteFile(entry DirEntry_t, data []byte) (DirEntry_t, errs.Err_t) {
	clusterBytes := int(v.Bpb.SectorsPerCluster) * SectorSize
	need := (len(data) + clusterBytes - 1) / clusterBytes
	if need == 0 {
		need = 1
	}
	if entry.FirstCluster() != 0 {
		if err := v.FreeChain(entry.FirstCluster()); err != errs.EOK {
			return entry, err
		}
	}
	first, err := v.AllocChain(need)
	if err != errs.EOK {
		return entry, err
	}
	chain, err := v.ReadChain(first)
	if err != errs.EOK {
		return entry, err
	}
	for i, c := range chain {
		start := i * clusterBytes
		end := start + clusterBytes
		buf := make([]byte, clusterBytes)
		if start < len(data) {
			n := copy(buf, data[start:min(end, len(data))])
			_ = n
		}
		if err := v.Backing.WriteSectors(uint64(v.Bpb.ClusterToSector(c)), buf); err != errs.EOK {
			return entry, err
		}
	}
	entry.SetFirstCluster(first)
	entry.FileSize = uint32(len(data))
	return entry, errs.EOK
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
