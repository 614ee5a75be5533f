// Package memfs is an in-memory wazero filesystem.
//
// Storage is github.com/blang/vfs/memfs; this package adapts it to
// wazero's experimental sys.FS so it can be mounted into a guest, and
// adds host-side helpers to seed inputs and collect emitted files.
package memfs

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/blang/vfs/memfs"
	"github.com/tetratelabs/wazero/experimental/sys"
	wasys "github.com/tetratelabs/wazero/sys"
)

// MemFS is a memory-only wazero filesystem.
type MemFS struct {
	fs *memfs.MemFS

	sys.UnimplementedFS
}

// New creates an empty filesystem.
func New() *MemFS {
	return &MemFS{fs: memfs.Create()}
}

// abs maps a guest path, relative to the mount root, to a memfs path.
func abs(name string) string {
	return path.Clean("/" + name)
}

// WriteFile creates or truncates name and writes content, creating
// parent directories as needed.
func (m *MemFS) WriteFile(name string, content []byte) sys.Errno {
	if errno := m.MkdirAll(path.Dir(abs(name))); errno != 0 {
		return errno
	}
	f, errno := m.OpenFile(name, sys.O_WRONLY|sys.O_CREAT|sys.O_TRUNC, 0o644)
	if errno != 0 {
		return errno
	}
	defer f.Close()

	_, errno = f.Write(content)
	return errno
}

// ReadFile returns the content of a file.
func (m *MemFS) ReadFile(name string) ([]byte, sys.Errno) {
	f, errno := m.OpenFile(name, sys.O_RDONLY, 0)
	if errno != 0 {
		return nil, errno
	}
	defer f.Close()

	if dir, _ := f.IsDir(); dir {
		return nil, sys.EISDIR
	}

	st, errno := f.Stat()
	if errno != 0 {
		return nil, errno
	}

	buf := make([]byte, st.Size)
	_, errno = f.Read(buf)
	return buf, errno
}

// MkdirAll creates a directory and any missing parents.
func (m *MemFS) MkdirAll(name string) sys.Errno {
	p := abs(name)
	if p == "/" {
		return 0
	}
	var cur string
	for _, part := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		cur += "/" + part
		if errno := m.Mkdir(cur, 0o755); errno != 0 && errno != sys.EEXIST {
			return errno
		}
	}
	return 0
}

// File is a regular file reported by Files.
type File struct {
	Path string
	Size int64
}

// Files lists every regular file, sorted by path.
func (m *MemFS) Files() ([]File, error) {
	var out []File
	var walk func(dir string) error
	walk = func(dir string) error {
		infos, err := m.fs.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, fi := range infos {
			p := path.Join(dir, fi.Name())
			if fi.IsDir() {
				if err := walk(p); err != nil {
					return err
				}
				continue
			}
			out = append(out, File{Path: p, Size: fi.Size()})
		}
		return nil
	}
	if err := walk("/"); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// toOsOpenFlag converts wazero open flags to os flags.
func toOsOpenFlag(oflag sys.Oflag) (flag int) {
	// First flags are exclusive
	switch oflag & (sys.O_RDONLY | sys.O_RDWR | sys.O_WRONLY) {
	case sys.O_RDONLY:
		flag |= os.O_RDONLY
	case sys.O_RDWR:
		flag |= os.O_RDWR
	case sys.O_WRONLY:
		flag |= os.O_WRONLY
	}

	if oflag&sys.O_APPEND != 0 {
		flag |= os.O_APPEND
	}
	if oflag&sys.O_CREAT != 0 {
		flag |= os.O_CREATE
	}
	if oflag&sys.O_EXCL != 0 {
		flag |= os.O_EXCL
	}
	if oflag&sys.O_SYNC != 0 {
		flag |= os.O_SYNC
	}
	if oflag&sys.O_TRUNC != 0 {
		flag |= os.O_TRUNC
	}
	return flag
}

func toErrno(err error) sys.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, os.ErrNotExist):
		return sys.ENOENT
	case errors.Is(err, os.ErrExist), strings.Contains(err.Error(), "already exists"):
		return sys.EEXIST
	case errors.Is(err, memfs.ErrIsDirectory):
		return sys.EISDIR
	default:
		return sys.EIO
	}
}

// OpenFile opens a file as defined in sys.FS.
func (m *MemFS) OpenFile(name string, flag sys.Oflag, perm fs.FileMode) (sys.File, sys.Errno) {
	p := abs(name)

	if fi, err := m.fs.Stat(p); err == nil && fi.IsDir() {
		if flag&(sys.O_WRONLY|sys.O_RDWR) != 0 {
			return nil, sys.EISDIR
		}
		return &memoryFSDir{fs: m.fs, path: p}, 0
	} else if err == nil && flag&sys.O_DIRECTORY != 0 {
		return nil, sys.ENOTDIR
	}

	f, err := m.fs.OpenFile(p, toOsOpenFlag(flag), perm)
	if err != nil {
		if errors.Is(err, memfs.ErrIsDirectory) {
			return &memoryFSDir{fs: m.fs, path: p}, 0
		}
		return nil, toErrno(err)
	}
	return &memoryFSFile{fl: f, path: p, fs: m.fs, append: flag&sys.O_APPEND != 0}, 0
}

// Mkdir creates a directory.
func (m *MemFS) Mkdir(name string, perm fs.FileMode) sys.Errno {
	return toErrno(m.fs.Mkdir(abs(name), perm))
}

// Unlink removes a regular file.
func (m *MemFS) Unlink(name string) sys.Errno {
	p := abs(name)
	fi, err := m.fs.Stat(p)
	if err != nil {
		return toErrno(err)
	}
	if fi.IsDir() {
		return sys.EISDIR
	}
	return toErrno(m.fs.Remove(p))
}

// Rmdir removes an empty directory.
func (m *MemFS) Rmdir(name string) sys.Errno {
	p := abs(name)
	fi, err := m.fs.Stat(p)
	if err != nil {
		return toErrno(err)
	}
	if !fi.IsDir() {
		return sys.ENOTDIR
	}
	entries, err := m.fs.ReadDir(p)
	if err != nil {
		return toErrno(err)
	}
	if len(entries) > 0 {
		return sys.ENOTEMPTY
	}
	return toErrno(m.fs.Remove(p))
}

// Rename moves a file or directory.
func (m *MemFS) Rename(from, to string) sys.Errno {
	return toErrno(m.fs.Rename(abs(from), abs(to)))
}

func stat(mfs *memfs.MemFS, p string) (wasys.Stat_t, sys.Errno) {
	fst, err := mfs.Stat(p)
	if err != nil {
		return wasys.Stat_t{}, toErrno(err)
	}
	return wasys.NewStat_t(fst), 0
}

// Stat returns file stat as defined in sys.FS.
func (m *MemFS) Stat(name string) (wasys.Stat_t, sys.Errno) {
	return stat(m.fs, abs(name))
}

// Lstat is Stat; memfs has no symlinks.
func (m *MemFS) Lstat(name string) (wasys.Stat_t, sys.Errno) {
	return stat(m.fs, abs(name))
}
