package vfs

import (
	"bytes"
	"testing"

	"ringspine/errs"
	"ringspine/fat"
	"ringspine/util"
)

type fakeBacking struct {
	data []byte
}

func (f *fakeBacking) ReadSectors(lba uint64, count int) ([]byte, errs.Err_t) {
	off := int(lba) * fat.SectorSize
	return f.data[off : off+count*fat.SectorSize], errs.EOK
}
func (f *fakeBacking) WriteSectors(lba uint64, data []byte) errs.Err_t {
	off := int(lba) * fat.SectorSize
	copy(f.data[off:], data)
	return errs.EOK
}

func newTestVolume(t *testing.T) *fat.Volume_t {
	t.Helper()
	const reserved = 32
	const fatSectors = 1
	const dataClusters = 16
	totalSectors := reserved + fatSectors + dataClusters

	img := make([]byte, totalSectors*fat.SectorSize)
	boot := img[0:fat.SectorSize]
	util.Writen(boot, 2, 11, fat.SectorSize)
	boot[13] = 1
	util.Writen(boot, 2, 14, reserved)
	boot[16] = 1
	util.Writen(boot, 2, 17, 0)
	util.Writen(boot, 2, 19, 0)
	util.Writen(boot, 4, 32, totalSectors)
	util.Writen(boot, 4, 36, fatSectors)
	util.Writen(boot, 4, 44, 2)

	backing := &fakeBacking{data: img}
	v, err := fat.Mount(backing)
	if err != errs.EOK {
		t.Fatalf("mount failed: %v", err)
	}
	return v
}

func TestMountAndResolveLongestPrefix(t *testing.T) {
	tbl := NewTable()
	root := newTestVolume(t)
	sub := newTestVolume(t)
	if err := tbl.Mount("/", root); err != errs.EOK {
		t.Fatalf("mount / failed: %v", err)
	}
	if err := tbl.Mount("/mnt/data", sub); err != errs.EOK {
		t.Fatalf("mount /mnt/data failed: %v", err)
	}

	vol, rel, err := tbl.Resolve("/mnt/data/file.txt")
	if err != errs.EOK {
		t.Fatalf("resolve failed: %v", err)
	}
	if vol != sub {
		t.Fatalf("expected longest-prefix match to pick the /mnt/data volume")
	}
	if rel != "/file.txt" {
		t.Fatalf("expected relative path /file.txt, got %q", rel)
	}

	vol2, rel2, err := tbl.Resolve("/other/file.txt")
	if err != errs.EOK {
		t.Fatalf("resolve failed: %v", err)
	}
	if vol2 != root {
		t.Fatalf("expected fallback to root mount")
	}
	if rel2 != "/other/file.txt" {
		t.Fatalf("expected relative path /other/file.txt, got %q", rel2)
	}
}

func TestResolveFailsWithNoMounts(t *testing.T) {
	tbl := NewTable()
	if _, _, err := tbl.Resolve("/x"); err != errs.ENOENT {
		t.Fatalf("expected ENOENT, got %v", err)
	}
}

func TestUnmountRemovesMount(t *testing.T) {
	tbl := NewTable()
	vol := newTestVolume(t)
	tbl.Mount("/a", vol)
	if err := tbl.Unmount("/a"); err != errs.EOK {
		t.Fatalf("unmount failed: %v", err)
	}
	if _, _, err := tbl.Resolve("/a/x"); err != errs.ENOENT {
		t.Fatalf("expected ENOENT after unmount, got %v", err)
	}
}

func TestMountRejectsRelativePrefix(t *testing.T) {
	tbl := NewTable()
	vol := newTestVolume(t)
	if err := tbl.Mount("rel", vol); err != errs.EINVAL {
		t.Fatalf("expected EINVAL, got %v", err)
	}
}

func TestMkFileWriteReadRoundTrips(t *testing.T) {
	fs := NewFs(newTestVolume(t))
	data := bytes.Repeat([]byte{0x11}, 100)
	if err := fs.MkDir("/a"); err != errs.EOK {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := fs.MkFile("/a/b.txt", data); err != errs.EOK {
		t.Fatalf("mkfile failed: %v", err)
	}
	got, err := fs.Read("/a/b.txt")
	if err != errs.EOK {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch")
	}
}

func TestMkFileRejectsDuplicate(t *testing.T) {
	fs := NewFs(newTestVolume(t))
	fs.MkFile("/a.txt", []byte("x"))
	if err := fs.MkFile("/a.txt", []byte("y")); err != errs.EEXIST {
		t.Fatalf("expected EEXIST, got %v", err)
	}
}

func TestMkDirCreatesMissingParents(t *testing.T) {
	fs := NewFs(newTestVolume(t))
	if err := fs.MkDir("/a/b/c"); err != errs.EOK {
		t.Fatalf("mkdir failed: %v", err)
	}
	names, err := fs.Ls("/a/b")
	if err != errs.EOK {
		t.Fatalf("ls failed: %v", err)
	}
	if len(names) != 1 || names[0] != "c" {
		t.Fatalf("expected [c], got %v", names)
	}
}

func TestWriteUpdatesExistingFile(t *testing.T) {
	fs := NewFs(newTestVolume(t))
	fs.MkFile("/f.txt", []byte("old"))
	if err := fs.Write("/f.txt", []byte("new data here")); err != errs.EOK {
		t.Fatalf("write failed: %v", err)
	}
	got, _ := fs.Read("/f.txt")
	if !bytes.Equal(got, []byte("new data here")) {
		t.Fatalf("expected updated contents, got %q", got)
	}
}

func TestRemoveDeletesFileAndFreesChain(t *testing.T) {
	fs := NewFs(newTestVolume(t))
	fs.MkFile("/f.txt", []byte("data"))
	if err := fs.Remove("/f.txt"); err != errs.EOK {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := fs.Read("/f.txt"); err != errs.ENOENT {
		t.Fatalf("expected ENOENT after remove, got %v", err)
	}
}

func TestRemoveRejectsDirectory(t *testing.T) {
	fs := NewFs(newTestVolume(t))
	fs.MkDir("/d")
	if err := fs.Remove("/d"); err != errs.EISDIR {
		t.Fatalf("expected EISDIR, got %v", err)
	}
}

func TestLsRootListsTopLevelEntries(t *testing.T) {
	fs := NewFs(newTestVolume(t))
	fs.MkFile("/one.txt", []byte("1"))
	fs.MkDir("/sub")
	names, err := fs.Ls("/")
	if err != errs.EOK {
		t.Fatalf("ls failed: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 entries, got %v", names)
	}
}

func TestStatReportsSizeAndDirBit(t *testing.T) {
	fs := NewFs(newTestVolume(t))
	fs.MkFile("/one.txt", []byte("hello"))
	fs.MkDir("/sub")

	st, err := fs.Stat("/one.txt")
	if err != errs.EOK {
		t.Fatalf("stat failed: %v", err)
	}
	if st.Dir || st.Size != 5 {
		t.Fatalf("expected file size 5 non-dir, got %+v", st)
	}

	st, err = fs.Stat("/sub")
	if err != errs.EOK {
		t.Fatalf("stat failed: %v", err)
	}
	if !st.Dir {
		t.Fatalf("expected dir bit set, got %+v", st)
	}
}

func TestStatUnknownPathFails(t *testing.T) {
	fs := NewFs(newTestVolume(t))
	if _, err := fs.Stat("/missing"); err != errs.ENOENT {
		t.Fatalf("expected ENOENT, got %v", err)
	}
}
