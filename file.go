package fat32

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/dsoprea/go-logging"
)

// EntryFilter selects the kinds of entry that a listing returns.
type EntryFilter int

const (
	AnyEntry EntryFilter = iota
	FilesOnly
	DirectoriesOnly
)

func (ef EntryFilter) matches(de *DirectoryEntry) bool {
	switch ef {
	case FilesOnly:
		return de.Attributes.IsDirectory() == false
	case DirectoriesOnly:
		return de.Attributes.IsDirectory() == true
	}

	return true
}

// File is one entry of the filesystem (a file or a directory). It's
// created fresh by every listing or lookup and refers to its parent only by
// path and start cluster.
type File struct {
	fs *FileSystem

	entry *DirectoryEntry

	isRoot bool

	parentPath    string
	parentCluster uint32
}

func newRootFile(fs *FileSystem) *File {
	entry := &DirectoryEntry{
		Attributes:   AttributeDirectory,
		StartCluster: fs.bs.RootCluster,
	}

	return &File{
		fs:     fs,
		entry:  entry,
		isRoot: true,
	}
}

// Name returns the long name, or the short name if there's no long one. The
// root directory has an empty name.
func (f *File) Name() string {
	return f.entry.Name
}

// ShortName returns the 8.3 name as stored.
func (f *File) ShortName() string {
	return f.entry.ShortName
}

// Path returns the absolute, slash-separated path.
func (f *File) Path() string {
	if f.isRoot == true {
		return "/"
	}

	return strings.TrimRight(f.parentPath, "/") + "/" + f.entry.Name
}

// ParentPath returns the path of the containing directory. It's empty for
// the root.
func (f *File) ParentPath() string {
	return f.parentPath
}

// ParentCluster returns the start cluster of the containing directory.
func (f *File) ParentCluster() uint32 {
	return f.parentCluster
}

func (f *File) IsRoot() bool {
	return f.isRoot
}

func (f *File) Attributes() Attributes {
	return f.entry.Attributes
}

func (f *File) IsDirectory() bool {
	return f.entry.Attributes.IsDirectory()
}

// Length returns the size of the file in bytes. It's zero for directories.
func (f *File) Length() uint32 {
	return f.entry.Length
}

func (f *File) StartCluster() uint32 {
	return f.entry.StartCluster
}

func (f *File) CreatedTime() time.Time {
	return f.entry.CreatedTime
}

func (f *File) AccessedTime() time.Time {
	return f.entry.AccessedTime
}

func (f *File) ModifiedTime() time.Time {
	return f.entry.ModifiedTime
}

// Entry returns the decoded directory entry.
func (f *File) Entry() DirectoryEntry {
	return *f.entry
}

// Open returns a stream over the content. Directories have no length and are
// read until their chain ends.
func (f *File) Open() (cs *ClusterStream, err error) {
	if f.fs.isClosed() == true {
		return nil, log.Wrap(ErrClosed)
	}

	length := int64(f.entry.Length)
	if f.IsDirectory() == true {
		length = -1
	}

	return newClusterStream(f.fs, f.entry.StartCluster, length), nil
}

// ReadAll returns exactly Length() bytes of file content.
func (f *File) ReadAll() (data []byte, err error) {
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

	if f.IsDirectory() == true {
		log.Panic(ErrIsDirectory)
	}

	cs, err := f.Open()
	log.PanicIf(err)

	data = make([]byte, f.entry.Length)

	_, err = io.ReadFull(cs, data)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}

	log.PanicIf(err)

	return data, nil
}

func (f *File) child(de *DirectoryEntry) *File {
	return &File{
		fs:            f.fs,
		entry:         de,
		parentPath:    f.Path(),
		parentCluster: f.entry.StartCluster,
	}
}

func (f *File) enumerate(cb func(child *File) (doContinue bool, err error)) (err error) {
	if f.IsDirectory() == false {
		return log.Wrap(ErrNotDirectory)
	}

	cs, err := f.Open()
	if err != nil {
		return log.Wrap(err)
	}

	dn := NewDirectoryNavigator(cs)

	dvf := func(de *DirectoryEntry) (doContinue bool, err error) {
		return cb(f.child(de))
	}

	err = dn.EnumerateDirectoryEntries(dvf)
	if err != nil {
		return log.Wrap(err)
	}

	return nil
}

// ListFiles returns the entries of the directory that pass the filter, in
// on-disk order.
func (f *File) ListFiles(filter EntryFilter) (files []*File, err error) {
	files = make([]*File, 0)

	cb := func(child *File) (doContinue bool, err error) {
		if filter.matches(child.entry) == true {
			files = append(files, child)
		}

		return true, nil
	}

	err = f.enumerate(cb)
	if err != nil {
		return nil, log.Wrap(err)
	}

	return files, nil
}

// GetFile finds a child by name. The long and the short name are both
// matched, without regard to case.
func (f *File) GetFile(name string, filter EntryFilter) (found *File, err error) {
	cb := func(child *File) (doContinue bool, err error) {
		if filter.matches(child.entry) == false {
			return true, nil
		}

		if strings.EqualFold(child.entry.Name, name) == true || strings.EqualFold(child.entry.ShortName, name) == true {
			found = child
			return false, nil
		}

		return true, nil
	}

	err = f.enumerate(cb)
	if err != nil {
		return nil, log.Wrap(err)
	}

	if found == nil {
		return nil, log.Wrap(ErrNotFound)
	}

	return found, nil
}

// copy returns a detached copy of the file.
func (f *File) copy() *File {
	entry := *f.entry

	copied := *f
	copied.entry = &entry

	return &copied
}

// String returns a description of the file.
func (f *File) String() string {
	return fmt.Sprintf("File<PATH=[%s] DIRECTORY=[%v] LENGTH=(%d) CLUSTER=(%d)>", f.Path(), f.IsDirectory(), f.entry.Length, f.entry.StartCluster)
}
