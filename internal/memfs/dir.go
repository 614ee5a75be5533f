package memfs

import (
	"io"
	"io/fs"

	"github.com/blang/vfs/memfs"
	"github.com/tetratelabs/wazero/experimental/sys"
	wasys "github.com/tetratelabs/wazero/sys"
)

type memoryFSDir struct {
	fs      *memfs.MemFS
	path    string
	entries []sys.Dirent
	read    bool

	sys.UnimplementedFile
}

func (d *memoryFSDir) IsDir() (bool, sys.Errno) {
	return true, 0
}

func (d *memoryFSDir) Stat() (wasys.Stat_t, sys.Errno) {
	return stat(d.fs, d.path)
}

func (d *memoryFSDir) Close() sys.Errno {
	return 0
}

// Readdir returns up to n entries, or all remaining when n <= 0. An empty
// result means the end of the directory.
func (d *memoryFSDir) Readdir(n int) ([]sys.Dirent, sys.Errno) {
	if !d.read {
		infos, err := d.fs.ReadDir(d.path)
		if err != nil {
			return nil, toErrno(err)
		}
		d.entries = make([]sys.Dirent, 0, len(infos))
		for _, fi := range infos {
			typ := fs.FileMode(0)
			if fi.IsDir() {
				typ = fs.ModeDir
			}
			d.entries = append(d.entries, sys.Dirent{Name: fi.Name(), Type: typ})
		}
		d.read = true
	}

	if n <= 0 || n > len(d.entries) {
		n = len(d.entries)
	}
	out := d.entries[:n]
	d.entries = d.entries[n:]
	return out, 0
}

// Seek supports rewinding to the first entry only.
func (d *memoryFSDir) Seek(offset int64, whence int) (int64, sys.Errno) {
	if offset != 0 || whence != io.SeekStart {
		return 0, sys.EINVAL
	}
	d.read = false
	d.entries = nil
	return 0, 0
}
