package fat32

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/dsoprea/go-logging"

	"github.com/dsoprea/go-fat32/pagestore"
)

var (
	filesystemLogger = log.NewLogger("fat32.filesystem")
)

// FileSystem is a FAT32 filesystem on a page store. It's driven by one
// goroutine at a time.
type FileSystem struct {
	ps      pagestore.PageStore
	options *Options

	bs *BootSector
	is *InfoSector
	at *AllocationTable

	root *File

	m      sync.Mutex
	closed bool
}

// NewFileSystem reads the boot sector, the FSInfo sector and the allocation
// table. `options` may be nil. The filesystem takes ownership of the store.
func NewFileSystem(ps pagestore.PageStore, options *Options) (fs *FileSystem, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(errRaw).Name(), errRaw)
			}
		}
	}()

	if ps.PageSize() != SectorSize {
		log.Panic(ErrUnsupportedFormat)
	}

	bs, err := readBootSector(ps)
	log.PanicIf(err)

	is, err := readInfoSector(ps, bs)
	log.PanicIf(err)

	at, err := NewAllocationTable(ps, bs, options)
	log.PanicIf(err)

	fs = &FileSystem{
		ps:      ps,
		options: options,
		bs:      bs,
		is:      is,
		at:      at,
	}

	fs.root = newRootFile(fs)

	if freeCount, known := is.KnownFreeCount(); known == true && uint64(freeCount) != at.FreeSpace() {
		filesystemLogger.Debugf(nil, "FSInfo free count (%d) differs from the allocation table (%d).", freeCount, at.FreeSpace())
	}

	filesystemLogger.Debugf(nil, "Filesystem opened: %s", bs)

	return fs, nil
}

func (fs *FileSystem) BootSector() *BootSector {
	return fs.bs
}

func (fs *FileSystem) InfoSector() *InfoSector {
	return fs.is
}

func (fs *FileSystem) AllocationTable() *AllocationTable {
	return fs.at
}

// Root returns the root directory.
func (fs *FileSystem) Root() *File {
	return fs.root.copy()
}

func (fs *FileSystem) isClosed() bool {
	fs.m.Lock()
	defer fs.m.Unlock()

	return fs.closed
}

// splitPath normalizes a path to its non-empty segments.
func splitPath(filepath string) []string {
	filepath = strings.Replace(filepath, `\`, "/", -1)

	parts := strings.Split(filepath, "/")

	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			segments = append(segments, part)
		}
	}

	return segments
}

// GetFile resolves a path from the root. Backslashes are accepted as
// separators. An empty path returns the root.
func (fs *FileSystem) GetFile(filepath string) (f *File, err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(errRaw).Name(), errRaw)
			}
		}
	}()

	if fs.isClosed() == true {
		log.Panic(ErrClosed)
	}

	current := fs.root

	for _, segment := range splitPath(filepath) {
		if current.IsDirectory() == false {
			log.Panic(ErrNotDirectory)
		}

		current, err = current.GetFile(segment, AnyEntry)
		log.PanicIf(err)
	}

	return current.copy(), nil
}

// Flush commits pending allocation-table changes to every FAT copy, updates
// the FSInfo hints to match, and flushes the store.
func (fs *FileSystem) Flush() (err error) {
	defer func() {
		if errRaw := recover(); errRaw != nil {
			var ok bool
			if err, ok = errRaw.(error); ok == true {
				err = log.Wrap(err)
			} else {
				err = log.Errorf("Error not an error: [%s] [%v]", reflect.TypeOf(errRaw).Name(), errRaw)
			}
		}
	}()

	if fs.isClosed() == true {
		log.Panic(ErrClosed)
	}

	err = fs.flush()
	log.PanicIf(err)

	return nil
}

func (fs *FileSystem) flush() (err error) {
	pending := fs.at.PendingSectorCount()

	err = fs.at.CommitSectorWrites()
	if err != nil {
		return log.Wrap(err)
	}

	if pending > 0 && fs.is.IsValid() == true {
		fs.is.FreeCount = uint32(fs.at.FreeSpace())

		if cluster, found := fs.at.firstFree(); found == true {
			fs.is.NextFree = cluster
		} else {
			fs.is.NextFree = infoUnknown
		}

		err := fs.is.write(fs.ps, fs.bs)
		if err != nil {
			return log.Wrap(err)
		}
	}

	err = fs.ps.Flush()
	if err != nil {
		return log.Wrap(err)
	}

	return nil
}

// Close flushes and then closes the store. Calling it again does nothing.
func (fs *FileSystem) Close() (err error) {
	fs.m.Lock()
	defer fs.m.Unlock()

	if fs.closed == true {
		return nil
	}

	fs.closed = true

	flushErr := fs.flush()

	err = fs.ps.Close()
	if err != nil {
		return log.Wrap(err)
	}

	if flushErr != nil {
		return log.Wrap(flushErr)
	}

	return nil
}

// String returns a description of the filesystem.
func (fs *FileSystem) String() string {
	return fmt.Sprintf("FileSystem<%s %s>", fs.bs, fs.at)
}
