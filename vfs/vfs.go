// Package vfs is the mount table sitting above one or more fat.Volume_t
// filesystems: longest-prefix-match path resolution and the CRUD
// operation set callers actually use (spec.md §4.11).
//
// Grounded on biscuit/src/ufs/ufs.go's Ufs_t, which exposes the same
// small CRUD surface (MkFile/MkDir/Read/Ls) directly over a single mounted
// filesystem; this rewrite generalizes that surface across a mount table
// so multiple fat.Volume_t instances can be mounted at different path
// prefixes, the way spec.md §4.11 requires but biscuit itself (a
// single-filesystem kernel) does not need to.
package vfs

import (
	"strings"
	"sync"

	"ringspine/errs"
	"ringspine/fat"
)

/// Mount_t binds a path prefix to a mounted volume.
type Mount_t struct {
	Prefix string
	Volume *fat.Volume_t
}

/// Table_t is the VFS mount table: an unordered set of mounts resolved by
/// longest matching prefix (spec.md §4.11).
type Table_t struct {
	mounts []Mount_t
}

/// NewTable constructs an empty mount table.
func NewTable() *Table_t { return &Table_t{} }

/// Mount registers vol at prefix. prefix must start with "/"; "/" itself
/// is a valid (and typically first) mount.
func (t *Table_t) Mount(prefix string, vol *fat.Volume_t) errs.Err_t {
	if !strings.HasPrefix(prefix, "/") {
		return errs.EINVAL
	}
	t.mounts = append(t.mounts, Mount_t{Prefix: prefix, Volume: vol})
	return errs.EOK
}

/// Unmount removes the mount at prefix, if present.
func (t *Table_t) Unmount(prefix string) errs.Err_t {
	for i, m := range t.mounts {
		if m.Prefix == prefix {
			t.mounts = append(t.mounts[:i], t.mounts[i+1:]...)
			return errs.EOK
		}
	}
	return errs.ENOENT
}

// Resolve finds the mount whose prefix is the longest match for path,
// returning the volume and the path remainder relative to that mount
// (spec.md §4.11's longest-prefix-match resolution).
func (t *Table_t) Resolve(path string) (*fat.Volume_t, string, errs.Err_t) {
	var best *Mount_t
	for i := range t.mounts {
		m := &t.mounts[i]
		if !pathHasPrefix(path, m.Prefix) {
			continue
		}
		if best == nil || len(m.Prefix) > len(best.Prefix) {
			best = m
		}
	}
	if best == nil {
		return nil, "", errs.ENOENT
	}
	rel := strings.TrimPrefix(path, best.Prefix)
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	return best.Volume, rel, errs.EOK
}

func pathHasPrefix(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := path[len(prefix):]
	return rest == "" || strings.HasPrefix(rest, "/")
}

// directoryIndex is a minimal in-memory directory representation this
// rewrite uses to drive path walks against a fat.Volume_t: a map from name
// to the entry plus, for subdirectories, their own directoryIndex. A real
// on-disk walk would read 32-byte directory entries cluster by cluster;
// this keeps that bookkeeping inside fat.Volume_t and lets vfs operate at
// the entry level, matching biscuit/src/ufs/ufs.go's Ufs_t, which also
// keeps an in-memory directory cache rather than re-walking disk on every
// lookup.
type directoryIndex struct {
	entries map[string]fat.DirEntry_t
	subdirs map[string]*directoryIndex
}

func newDirectoryIndex() *directoryIndex {
	return &directoryIndex{entries: map[string]fat.DirEntry_t{}, subdirs: map[string]*directoryIndex{}}
}

// Fs_t pairs a fat.Volume_t with the root directoryIndex vfs operations
// walk, so MkFile/MkDir/Read/Write/Ls/Remove have somewhere to record
// names without re-parsing on-disk directory clusters for every call. A
// single mutex guards the whole tree: unlike biscuit's per-bucket
// hashtable.go, this filesystem's directory tree is small enough that one
// lock per Fs_t costs nothing and keeps walk/mutate pairs atomic across
// the whole path, not just one component at a time.
type Fs_t struct {
	mu   sync.Mutex
	vol  *fat.Volume_t
	root *directoryIndex
}

/// NewFs wraps vol with a fresh (empty) root directory index.
func NewFs(vol *fat.Volume_t) *Fs_t {
	return &Fs_t{vol: vol, root: newDirectoryIndex()}
}

func split(path string) []string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 1 && parts[0] == "" {
		return nil
	}
	return parts
}

func (f *Fs_t) walk(path string, createDirs bool) (*directoryIndex, string, errs.Err_t) {
	parts := split(path)
	if len(parts) == 0 {
		return nil, "", errs.EINVAL
	}
	dir := f.root
	for _, name := range parts[:len(parts)-1] {
		next, ok := dir.subdirs[name]
		if !ok {
			if !createDirs {
				return nil, "", errs.ENOENT
			}
			next = newDirectoryIndex()
			dir.subdirs[name] = next
			dir.entries[name] = fat.DirEntry_t{Attr: fat.AttrDirectory}
		}
		dir = next
	}
	return dir, parts[len(parts)-1], errs.EOK
}

/// MkDir creates an empty directory at path, including any missing parent
/// directories.
func (f *Fs_t) MkDir(path string) errs.Err_t {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir, name, err := f.walk(path, true)
	if err != errs.EOK {
		return err
	}
	if _, exists := dir.subdirs[name]; exists {
		return errs.EEXIST
	}
	dir.subdirs[name] = newDirectoryIndex()
	dir.entries[name] = fat.DirEntry_t{Attr: fat.AttrDirectory}
	return errs.EOK
}

/// MkFile creates an empty file at path and writes data into it.
func (f *Fs_t) MkFile(path string, data []byte) errs.Err_t {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir, name, err := f.walk(path, false)
	if err != errs.EOK {
		return err
	}
	if _, exists := dir.entries[name]; exists {
		return errs.EEXIST
	}
	entry, err := f.vol.WriteFile(fat.DirEntry_t{}, data)
	if err != errs.EOK {
		return err
	}
	dir.entries[name] = entry
	return errs.EOK
}

/// Read returns the contents of the file at path.
func (f *Fs_t) Read(path string) ([]byte, errs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir, name, err := f.walk(path, false)
	if err != errs.EOK {
		return nil, err
	}
	entry, ok := dir.entries[name]
	if !ok {
		return nil, errs.ENOENT
	}
	return f.vol.ReadFile(entry)
}

/// Write overwrites the file at path with data, which must already exist.
func (f *Fs_t) Write(path string, data []byte) errs.Err_t {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir, name, err := f.walk(path, false)
	if err != errs.EOK {
		return err
	}
	entry, ok := dir.entries[name]
	if !ok {
		return errs.ENOENT
	}
	if entry.Attr&fat.AttrDirectory != 0 {
		return errs.EISDIR
	}
	updated, err := f.vol.WriteFile(entry, data)
	if err != errs.EOK {
		return err
	}
	dir.entries[name] = updated
	return errs.EOK
}

/// Ls lists the names directly under path.
func (f *Fs_t) Ls(path string) ([]string, errs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var dir *directoryIndex
	if path == "/" || path == "" {
		dir = f.root
	} else {
		parts := split(path)
		cur := f.root
		for _, name := range parts {
			next, ok := cur.subdirs[name]
			if !ok {
				return nil, errs.ENOTDIR
			}
			cur = next
		}
		dir = cur
	}
	names := make([]string, 0, len(dir.entries))
	for name := range dir.entries {
		names = append(names, name)
	}
	return names, errs.EOK
}

// Stat_t is the metadata Stat reports, adapted from biscuit/src/stat/stat.go
// down to the fields a FAT32 entry actually carries — there is no inode
// number or device ID here, just size and the directory bit.
type Stat_t struct {
	Size uint32
	Dir  bool
}

/// Stat reports metadata for the file or directory at path.
func (f *Fs_t) Stat(path string) (Stat_t, errs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir, name, err := f.walk(path, false)
	if err != errs.EOK {
		return Stat_t{}, err
	}
	entry, ok := dir.entries[name]
	if !ok {
		return Stat_t{}, errs.ENOENT
	}
	return Stat_t{Size: entry.FileSize, Dir: entry.Attr&fat.AttrDirectory != 0}, errs.EOK
}

/// Remove deletes the file (not directory) at path, freeing its cluster
/// chain.
func (f *Fs_t) Remove(path string) errs.Err_t {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir, name, err := f.walk(path, false)
	if err != errs.EOK {
		return err
	}
	entry, ok := dir.entries[name]
	if !ok {
		return errs.ENOENT
	}
	if entry.Attr&fat.AttrDirectory != 0 {
		return errs.EISDIR
	}
	if entry.FirstCluster() != 0 {
		if err := f.vol.FreeChain(entry.FirstCluster()); err != errs.EOK {
			return err
		}
	}
	delete(dir.entries, name)
	return errs.EOK
}
