// Package pagestore defines fixed-page-size random-access storage and a
// file-backed implementation of it.
package pagestore

import (
	"errors"
)

var (
	// ErrPageOutOfRange is returned when a transfer would touch a page at or
	// beyond the page count.
	ErrPageOutOfRange = errors.New("page out of range")

	// ErrUnalignedBuffer is returned when a buffer is not a whole number of
	// pages.
	ErrUnalignedBuffer = errors.New("buffer length not a multiple of the page size")

	// ErrUnsupportedPageSize is returned when a store is created with (or is
	// required to have) a page size that can not be used.
	ErrUnsupportedPageSize = errors.New("unsupported page size")

	// ErrClosed is returned for any transfer after the store was closed.
	ErrClosed = errors.New("page store closed")
)

// PageStore is storage addressed by page number rather than byte offset. The
// length of every buffer passed to ReadPages or WritePages must be a multiple
// of PageSize(); a partial transfer is expressed by slicing the buffer.
type PageStore interface {
	// ReadPages fills `buffer` starting at page `pageIndex`.
	ReadPages(pageIndex uint64, buffer []byte) error

	// WritePages stores `buffer` starting at page `pageIndex`.
	WritePages(pageIndex uint64, buffer []byte) error

	// PageCount is the number of addressable pages.
	PageCount() uint64

	// PageSize is the size of one page in bytes.
	PageSize() int

	// Flush pushes any buffered writes to the backing medium.
	Flush() error

	// Close releases the store. Calling it more than once is not an error.
	Close() error
}

// CheckTransfer validates a transfer of `buffer` at `pageIndex` against a
// store's geometry. It is shared by the implementations.
func CheckTransfer(ps PageStore, pageIndex uint64, buffer []byte) error {
	pageSize := ps.PageSize()

	if len(buffer)%pageSize != 0 {
		return ErrUnalignedBuffer
	}

	count := uint64(len(buffer) / pageSize)
	if pageIndex+count > ps.PageCount() || pageIndex+count < pageIndex {
		return ErrPageOutOfRange
	}

	return nil
}
