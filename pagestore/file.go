package pagestore

import (
	"io"
	"os"
	"reflect"
	"sync"

	"github.com/dsoprea/go-logging"
	"github.com/spf13/afero"
)

var (
	fileLogger = log.NewLogger("pagestore.file")
)

// FilePageStore is a PageStore over a flat file. It does no transformation of
// the data.
type FilePageStore struct {
	f         afero.File
	pageSize  int
	pageCount uint64

	m      sync.Mutex
	closed bool
}

// NewFilePageStore returns a store over an already-open file. The page count
// is fixed at construction from the file size; a trailing partial page is not
// addressable.
func NewFilePageStore(f afero.File, pageSize int) (fps *FilePageStore, err error) {
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

	if pageSize <= 0 || pageSize%512 != 0 {
		log.Panic(ErrUnsupportedPageSize)
	}

	fi, err := f.Stat()
	log.PanicIf(err)

	fps = &FilePageStore{
		f:         f,
		pageSize:  pageSize,
		pageCount: uint64(fi.Size()) / uint64(pageSize),
	}

	return fps, nil
}

// OpenFilePageStore opens `filepath` on `fs` and returns a store over it.
func OpenFilePageStore(fs afero.Fs, filepath string, pageSize int, writable bool) (fps *FilePageStore, err error) {
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

	flag := os.O_RDONLY
	if writable == true {
		flag = os.O_RDWR
	}

	f, err := fs.OpenFile(filepath, flag, 0)
	log.PanicIf(err)

	fps, err = NewFilePageStore(f, pageSize)
	if err != nil {
		f.Close()
		log.Panic(err)
	}

	fileLogger.Debugf(nil, "Opened page-store [%s] with (%d) pages of (%d) bytes.", filepath, fps.pageCount, pageSize)

	return fps, nil
}

// ReadPages reads whole pages starting at `pageIndex`.
func (fps *FilePageStore) ReadPages(pageIndex uint64, buffer []byte) (err error) {
	fps.m.Lock()
	defer fps.m.Unlock()

	if fps.closed == true {
		return log.Wrap(ErrClosed)
	}

	err = CheckTransfer(fps, pageIndex, buffer)
	if err != nil {
		return log.Wrap(err)
	}

	n, err := fps.f.ReadAt(buffer, int64(pageIndex)*int64(fps.pageSize))
	if err == io.EOF && n == len(buffer) {
		err = nil
	}

	if err == io.EOF {
		return log.Wrap(io.ErrUnexpectedEOF)
	} else if err != nil {
		return log.Wrap(err)
	}

	return nil
}

// WritePages writes whole pages starting at `pageIndex`.
func (fps *FilePageStore) WritePages(pageIndex uint64, buffer []byte) (err error) {
	fps.m.Lock()
	defer fps.m.Unlock()

	if fps.closed == true {
		return log.Wrap(ErrClosed)
	}

	err = CheckTransfer(fps, pageIndex, buffer)
	if err != nil {
		return log.Wrap(err)
	}

	_, err = fps.f.WriteAt(buffer, int64(pageIndex)*int64(fps.pageSize))
	if err != nil {
		return log.Wrap(err)
	}

	return nil
}

// PageCount returns the number of whole pages in the file.
func (fps *FilePageStore) PageCount() uint64 {
	return fps.pageCount
}

// PageSize returns the page size.
func (fps *FilePageStore) PageSize() int {
	return fps.pageSize
}

// Flush syncs the file.
func (fps *FilePageStore) Flush() (err error) {
	fps.m.Lock()
	defer fps.m.Unlock()

	if fps.closed == true {
		return log.Wrap(ErrClosed)
	}

	err = fps.f.Sync()
	if err != nil {
		return log.Wrap(err)
	}

	return nil
}

// Close closes the file. Only the first call has any effect.
func (fps *FilePageStore) Close() (err error) {
	fps.m.Lock()
	defer fps.m.Unlock()

	if fps.closed == true {
		return nil
	}

	fps.closed = true

	err = fps.f.Close()
	if err != nil {
		return log.Wrap(err)
	}

	return nil
}
