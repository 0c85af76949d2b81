// Command mkfs builds a FAT32 disk image and copies a host directory tree
// into it, the image-building counterpart of the fat/vfs packages' runtime
// mount-and-read path.
//
// Adapted from biscuit/src/mkfs/mkfs.go: the walk-and-copy shape (addfiles/
// copydata) is the same, rewired from ufs.Ufs_t/ustr.Ustr onto this
// module's fat.Volume_t/vfs.Fs_t.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"ringspine/errs"
	"ringspine/fat"
	"ringspine/vfs"
)

const sectorsPerCluster = 8

// fileBacking implements fat.Backing_i directly over an *os.File.
type fileBacking struct {
	f *os.File
}

func (b *fileBacking) ReadSectors(lba uint64, count int) ([]byte, errs.Err_t) {
	buf := make([]byte, count*fat.SectorSize)
	if _, err := b.f.ReadAt(buf, int64(lba)*fat.SectorSize); err != nil && err != io.EOF {
		return nil, errs.EIO
	}
	return buf, errs.EOK
}

func (b *fileBacking) WriteSectors(lba uint64, data []byte) errs.Err_t {
	if _, err := b.f.WriteAt(data, int64(lba)*fat.SectorSize); err != nil {
		return errs.EIO
	}
	return errs.EOK
}

// copydata reads the file at src on the host and writes its full contents
// into the image at dst.
func copydata(src string, fs *vfs.Fs_t, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if e := fs.MkFile(dst, data); e != errs.EOK {
		return fmt.Errorf("mkfile %s: %v", dst, e)
	}
	return nil
}

// addfiles walks skelDir on the host and replicates its contents into fs.
func addfiles(fs *vfs.Fs_t, skelDir string) error {
	return filepath.WalkDir(skelDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(path, skelDir)
		if rel == "" {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if e := fs.MkDir(rel); e != errs.EOK {
				fmt.Printf("failed to create dir %v: %v\n", rel, e)
			}
			return nil
		}
		if err := copydata(path, fs, rel); err != nil {
			fmt.Printf("failed to copy %v: %v\n", rel, err)
		}
		return nil
	})
}

func main() {
	if len(os.Args) < 4 {
		fmt.Printf("Usage: mkfs <output image> <image size in sectors> <skel dir>\n")
		os.Exit(1)
	}
	out := os.Args[1]
	var totalSectors uint32
	if _, err := fmt.Sscanf(os.Args[2], "%d", &totalSectors); err != nil {
		fmt.Printf("bad sector count %q: %v\n", os.Args[2], err)
		os.Exit(1)
	}
	skelDir := os.Args[3]

	f, err := os.Create(out)
	if err != nil {
		fmt.Printf("create %s: %v\n", out, err)
		os.Exit(1)
	}
	defer f.Close()
	if err := f.Truncate(int64(totalSectors) * fat.SectorSize); err != nil {
		fmt.Printf("truncate: %v\n", err)
		os.Exit(1)
	}

	vol, ferr := fat.Format(&fileBacking{f: f}, totalSectors, sectorsPerCluster)
	if ferr != errs.EOK {
		fmt.Printf("format failed: %v\n", ferr)
		os.Exit(1)
	}

	fs := vfs.NewFs(vol)
	if err := addfiles(fs, skelDir); err != nil {
		fmt.Printf("error walking %q: %v\n", skelDir, err)
		os.Exit(1)
	}
}
