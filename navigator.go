package fat32

import (
	"io"
	"reflect"

	"github.com/dsoprea/go-logging"
)

var (
	navigatorLogger = log.NewLogger("fat32.navigator")
)

// DirectoryNavigator decodes the records of a single directory.
type DirectoryNavigator struct {
	cs *ClusterStream
}

// NewDirectoryNavigator returns a navigator over the directory that the
// stream reads.
func NewDirectoryNavigator(cs *ClusterStream) *DirectoryNavigator {
	return &DirectoryNavigator{
		cs: cs,
	}
}

// DirectoryEntryVisitorFunc is called for each entry of a directory.
// Returning false stops the enumeration.
type DirectoryEntryVisitorFunc func(de *DirectoryEntry) (doContinue bool, err error)

// EnumerateDirectoryEntries calls `cb` for every file and subdirectory. Dot
// entries, deleted entries and the volume label are not reported. A broken
// long name never fails the enumeration; the short name is used instead.
func (dn *DirectoryNavigator) EnumerateDirectoryEntries(cb DirectoryEntryVisitorFunc) (err error) {
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

	lna := new(longNameAccumulator)
	record := make([]byte, directoryEntryBytesCount)

	for {
		_, err := io.ReadFull(dn.cs, record)
		if err == io.EOF {
			// The chain ended without a terminal record.
			return nil
		}

		log.PanicIf(err)

		switch record[0] {
		case entryMarkerEnd:
			return nil
		case entryMarkerDot, entryMarkerDeleted:
			lna.reset()
			continue
		}

		attributes := Attributes(record[11])

		if attributes.IsLongName() == true {
			lnde, err := parseLongNameDirectoryEntry(record)
			log.PanicIf(err)

			lna.Add(lnde)

			continue
		}

		sde, err := parseShortDirectoryEntry(record)
		log.PanicIf(err)

		longName, hasLongName := lna.Finish(sde.rawName())

		if attributes.IsVolumeLabel() == true {
			navigatorLogger.Debugf(nil, "Skipping volume label [%s].", sde.ShortName())
			continue
		}

		de := newDirectoryEntry(sde, longName, hasLongName)

		doContinue, err := cb(de)
		log.PanicIf(err)

		if doContinue == false {
			return nil
		}
	}
}

// Entries returns every entry of the directory in on-disk order.
func (dn *DirectoryNavigator) Entries() (entries []*DirectoryEntry, err error) {
	entries = make([]*DirectoryEntry, 0)

	cb := func(de *DirectoryEntry) (doContinue bool, err error) {
		entries = append(entries, de)
		return true, nil
	}

	err = dn.EnumerateDirectoryEntries(cb)
	if err != nil {
		return nil, log.Wrap(err)
	}

	return entries, nil
}
