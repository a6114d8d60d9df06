package fat32

import (
	"errors"
)

var (
	// ErrUnsupportedFormat is returned for media that isn't FAT32 on 512-byte
	// sectors.
	ErrUnsupportedFormat = errors.New("unsupported filesystem format")

	// ErrCorruptVolume is returned when the allocation table or the boot
	// parameters are inconsistent.
	ErrCorruptVolume = errors.New("filesystem structures corrupt")

	// ErrNotFound is returned when a path or name doesn't resolve.
	ErrNotFound = errors.New("file not found")

	// ErrIsDirectory is returned when file content is requested for a
	// directory.
	ErrIsDirectory = errors.New("entry is a directory")

	// ErrNotDirectory is returned when a listing is requested for a file.
	ErrNotDirectory = errors.New("entry is not a directory")

	// ErrNoSpace is returned when a cluster allocation can't be satisfied.
	ErrNoSpace = errors.New("no free clusters")

	// ErrClosed is returned for any operation on a closed filesystem.
	ErrClosed = errors.New("filesystem closed")
)
