// Package fat implements a FAT32 volume: BPB parsing, the 32-bit FAT
// cluster chain, long-file-name directory entries, and file/directory
// CRUD (spec.md §4.11).
//
// Grounded on original_source/kernel/src/fs/fat32/fat32_driver.rs:
// FatFileSystem's BPB field set and FatDriver::mount's derivation of
// root_sectors/first_data_sector/total_clusters from it, which this
// rewrite follows field-for-field since spec.md describes the algorithm
// but original_source is the concrete source for exact field widths and
// derivation order.
package fat

import (
	"ringspine/errs"
	"ringspine/util"
)

/// SectorSize is the fixed logical sector size this driver assumes.
const SectorSize = 512

/// Bpb_t is the FAT32 BIOS Parameter Block (spec.md §4.11): the on-disk
/// fields the mount sequence reads to derive the volume's geometry.
type Bpb_t struct {
	BytesPerSector      uint16
	SectorsPerCluster   uint8
	ReservedSectorCount uint16
	NumFATs             uint8
	RootEntryCount      uint16 // 0 for FAT32
	TotalSectors16      uint16
	Media               uint8
	FATSize16           uint16 // 0 for FAT32
	SectorsPerTrack     uint16
	NumHeads            uint16
	HiddenSectors       uint32
	TotalSectors32      uint32
	FATSize32           uint32
	ExtFlags            uint16
	FSVersion           uint16
	RootCluster         uint32
	FSInfoSector        uint16
	BackupBootSector    uint16
}

/// ParseBPB reads a FAT32 BPB out of the first sector of a volume. The
/// sector must be at least 90 bytes (through the FAT32-specific extended
/// fields).
func ParseBPB(sector []byte) (Bpb_t, errs.Err_t) {
	if len(sector) < 90 {
		return Bpb_t{}, errs.EFATCORRUPT
	}
	b := Bpb_t{
		BytesPerSector:      u16(sector, 11),
		SectorsPerCluster:   sector[13],
		ReservedSectorCount: u16(sector, 14),
		NumFATs:             sector[16],
		RootEntryCount:      u16(sector, 17),
		TotalSectors16:      u16(sector, 19),
		Media:               sector[21],
		FATSize16:           u16(sector, 22),
		SectorsPerTrack:     u16(sector, 24),
		NumHeads:            u16(sector, 26),
		HiddenSectors:       u32(sector, 28),
		TotalSectors32:      u32(sector, 32),
		FATSize32:           u32(sector, 36),
		ExtFlags:            u16(sector, 40),
		FSVersion:           u16(sector, 42),
		RootCluster:         u32(sector, 44),
		FSInfoSector:        u16(sector, 48),
		BackupBootSector:    u16(sector, 50),
	}
	if b.BytesPerSector == 0 || b.SectorsPerCluster == 0 || b.NumFATs == 0 {
		return Bpb_t{}, errs.EFATCORRUPT
	}
	if b.FATSize32 == 0 || b.RootEntryCount != 0 {
		// FATSize32==0 or a nonzero 16-bit root entry count means this is
		// not a FAT32 volume.
		return Bpb_t{}, errs.EFATCORRUPT
	}
	return b, errs.EOK
}

func u16(b []byte, off int) uint16 { return uint16(util.Readn(b, 2, off)) }
func u32(b []byte, off int) uint32 { return uint32(util.Readn(b, 4, off)) }

// Encode packs b into a 512-byte boot sector, the inverse of ParseBPB,
// stamping the 0x55AA boot signature ParseBPB itself doesn't check but a
// real BIOS/VM would.
func (b Bpb_t) Encode() []byte {
	sector := make([]byte, SectorSize)
	sector[0], sector[1], sector[2] = 0xEB, 0x58, 0x90 // jmp short + nop
	copy(sector[3:11], []byte("RINGSPIN"))
	util.Writen(sector, 2, 11, int(b.BytesPerSector))
	sector[13] = b.SectorsPerCluster
	util.Writen(sector, 2, 14, int(b.ReservedSectorCount))
	sector[16] = b.NumFATs
	util.Writen(sector, 2, 17, int(b.RootEntryCount))
	util.Writen(sector, 2, 19, int(b.TotalSectors16))
	sector[21] = b.Media
	util.Writen(sector, 2, 22, int(b.FATSize16))
	util.Writen(sector, 2, 24, int(b.SectorsPerTrack))
	util.Writen(sector, 2, 26, int(b.NumHeads))
	util.Writen(sector, 4, 28, int(b.HiddenSectors))
	util.Writen(sector, 4, 32, int(b.TotalSectors32))
	util.Writen(sector, 4, 36, int(b.FATSize32))
	util.Writen(sector, 2, 40, int(b.ExtFlags))
	util.Writen(sector, 2, 42, int(b.FSVersion))
	util.Writen(sector, 4, 44, int(b.RootCluster))
	util.Writen(sector, 2, 48, int(b.FSInfoSector))
	util.Writen(sector, 2, 50, int(b.BackupBootSector))
	sector[510], sector[511] = 0x55, 0xAA
	return sector
}

/// RootDirSectors is always 0 on FAT32 (the root directory is an ordinary
/// cluster chain), kept as a named derivation to mirror
/// FatDriver::mount's exact steps.
func (b Bpb_t) RootDirSectors() uint32 {
	return (uint32(b.RootEntryCount)*32 + uint32(b.BytesPerSector) - 1) / uint32(b.BytesPerSector)
}

/// FATSize returns the sectors-per-FAT value: the 16-bit field when it is
/// nonzero, otherwise the FAT32 32-bit field.
func (b Bpb_t) FATSize() uint32 {
	if b.FATSize16 != 0 {
		return uint32(b.FATSize16)
	}
	return b.FATSize32
}

/// TotalSectors returns the volume's total sector count: the 16-bit field
/// when it is nonzero, otherwise the 32-bit field.
func (b Bpb_t) TotalSectors() uint32 {
	if b.TotalSectors16 != 0 {
		return uint32(b.TotalSectors16)
	}
	return b.TotalSectors32
}

/// FirstDataSector is the sector number where cluster 2 begins.
func (b Bpb_t) FirstDataSector() uint32 {
	return uint32(b.ReservedSectorCount) + uint32(b.NumFATs)*b.FATSize() + b.RootDirSectors()
}

/// DataSectors is the number of sectors available for cluster data.
func (b Bpb_t) DataSectors() uint32 {
	return b.TotalSectors() - b.FirstDataSector()
}

/// TotalClusters is the number of data clusters on the volume, the value
/// FatDriver::mount uses to decide this is a FAT32 (vs FAT16/12) volume.
func (b Bpb_t) TotalClusters() uint32 {
	return b.DataSectors() / uint32(b.SectorsPerCluster)
}

/// ClusterToSector converts a cluster number (>=2) to its first sector.
func (b Bpb_t) ClusterToSector(cluster uint32) uint32 {
	return b.FirstDataSector() + (cluster-2)*uint32(b.SectorsPerCluster)
}

/// FATSectorFor returns the absolute sector number (inside the first FAT)
/// and the byte offset within that sector holding cluster's 32-bit FAT
/// entry.
func (b Bpb_t) FATSectorFor(cluster uint32) (sector uint32, byteOff uint32) {
	fatOffset := cluster * 4
	sector = uint32(b.ReservedSectorCount) + fatOffset/uint32(b.BytesPerSector)
	byteOff = fatOffset % uint32(b.BytesPerSector)
	return
}
