package memfs

import (
	"errors"
	"io"

	"github.com/blang/vfs"
	"github.com/blang/vfs/memfs"
	"github.com/tetratelabs/wazero/experimental/sys"
	wasys "github.com/tetratelabs/wazero/sys"
)

type memoryFSFile struct {
	fs     *memfs.MemFS
	fl     vfs.File
	path   string
	append bool

	sys.UnimplementedFile
}

func (f *memoryFSFile) Stat() (wasys.Stat_t, sys.Errno) {
	return stat(f.fs, f.path)
}

func (f *memoryFSFile) Close() sys.Errno {
	if err := f.fl.Close(); err != nil {
		return sys.EIO
	}
	return 0
}

func (f *memoryFSFile) IsDir() (bool, sys.Errno) {
	return false, 0
}

func (f *memoryFSFile) IsAppend() bool {
	return f.append
}

func (f *memoryFSFile) SetAppend(enable bool) sys.Errno {
	f.append = enable
	return 0
}

func (f *memoryFSFile) Read(buf []byte) (int, sys.Errno) {
	n, err := f.fl.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, sys.EBADF
	}
	return n, 0
}

func (f *memoryFSFile) Pread(buf []byte, off int64) (int, sys.Errno) {
	if off < 0 {
		return 0, sys.EINVAL
	}
	n, err := f.fl.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, sys.EIO
	}
	return n, 0
}

func (f *memoryFSFile) Seek(offset int64, whence int) (int64, sys.Errno) {
	r, err := f.fl.Seek(offset, whence)
	if err != nil {
		// invalid whence, negative position and too far all map here;
		// POSIX EFBIG is not representable in wazero
		return 0, sys.EINVAL
	}
	return r, 0
}

func (f *memoryFSFile) Write(buf []byte) (int, sys.Errno) {
	if f.append {
		if _, err := f.fl.Seek(0, io.SeekEnd); err != nil {
			return 0, sys.EIO
		}
	}
	n, err := f.fl.Write(buf)
	if err != nil {
		return 0, sys.EIO
	}
	return n, 0
}

func (f *memoryFSFile) Truncate(size int64) sys.Errno {
	if size < 0 {
		return sys.EINVAL
	}
	if err := f.fl.Truncate(size); err != nil {
		return sys.EIO
	}
	return 0
}

func (f *memoryFSFile) Sync() sys.Errno {
	return 0
}

func (f *memoryFSFile) Datasync() sys.Errno {
	return 0
}
