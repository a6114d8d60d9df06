package fat32

import (
	"fmt"
	"strings"
	"time"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
	"golang.org/x/text/encoding/charmap"
)

const (
	// directoryEntryBytesCount is the size of one directory record.
	directoryEntryBytesCount = 32

	entryMarkerEnd     = 0x00
	entryMarkerDot     = 0x2e
	entryMarkerDeleted = 0xe5

	// entryMarkerKanji stands in for a leading 0xE5 that is part of the name.
	entryMarkerKanji = 0x05

	// caseFlagLowerBase and caseFlagLowerExtension ask for the base name
	// and extension of an 8.3 name to be shown in lower case.
	caseFlagLowerBase      = 0x08
	caseFlagLowerExtension = 0x10
)

// Attributes are the attribute flags of a directory entry.
type Attributes uint8

const (
	AttributeReadOnly    Attributes = 0x01
	AttributeHidden      Attributes = 0x02
	AttributeSystem      Attributes = 0x04
	AttributeVolumeLabel Attributes = 0x08
	AttributeDirectory   Attributes = 0x10
	AttributeArchive     Attributes = 0x20

	// AttributeLongName is the combination that marks a long-name fragment.
	AttributeLongName = AttributeReadOnly | AttributeHidden | AttributeSystem | AttributeVolumeLabel
)

func (a Attributes) IsReadOnly() bool {
	return a&AttributeReadOnly > 0
}

func (a Attributes) IsHidden() bool {
	return a&AttributeHidden > 0
}

func (a Attributes) IsSystem() bool {
	return a&AttributeSystem > 0
}

func (a Attributes) IsVolumeLabel() bool {
	return a&AttributeVolumeLabel > 0
}

func (a Attributes) IsDirectory() bool {
	return a&AttributeDirectory > 0
}

func (a Attributes) IsArchive() bool {
	return a&AttributeArchive > 0
}

// IsLongName indicates a long-name fragment rather than a real entry.
func (a Attributes) IsLongName() bool {
	return a&0x3f == AttributeLongName
}

// DumpBareIndented prints the flags with arbitrary indentation.
func (a Attributes) DumpBareIndented(indent string) {
	fmt.Printf("%sRaw Value: (%08b)\n", indent, uint8(a))
	fmt.Printf("%sIsReadOnly: [%v]\n", indent, a.IsReadOnly())
	fmt.Printf("%sIsHidden: [%v]\n", indent, a.IsHidden())
	fmt.Printf("%sIsSystem: [%v]\n", indent, a.IsSystem())
	fmt.Printf("%sIsVolumeLabel: [%v]\n", indent, a.IsVolumeLabel())
	fmt.Printf("%sIsDirectory: [%v]\n", indent, a.IsDirectory())
	fmt.Printf("%sIsArchive: [%v]\n", indent, a.IsArchive())
}

func (a Attributes) String() string {
	return fmt.Sprintf("Attributes<IS-READONLY=[%v] IS-HIDDEN=[%v] IS-SYSTEM=[%v] IS-DIRECTORY=[%v] IS-ARCHIVE=[%v]>",
		a.IsReadOnly(), a.IsHidden(), a.IsSystem(), a.IsDirectory(), a.IsArchive())
}

// shortDirectoryEntry is the 8.3 record.
type shortDirectoryEntry struct {
	Name      [8]byte
	Extension [3]byte

	Attributes Attributes

	// CaseFlags holds the lower-case hints for the name and extension.
	CaseFlags uint8

	// CreatedTimeTenths is in units of 10ms (0-199).
	CreatedTimeTenths uint8
	CreatedTime       uint16
	CreatedDate       uint16

	AccessedDate uint16

	FirstClusterHigh uint16

	ModifiedTime uint16
	ModifiedDate uint16

	FirstClusterLow uint16

	FileSize uint32
}

// longNameDirectoryEntry is one fragment of a long name. Each holds 13 UTF-16
// code units.
type longNameDirectoryEntry struct {
	// Sequence is the 1-based position of the fragment. Bit 0x40 marks the
	// fragment that ends the name (stored first).
	Sequence uint8

	Name1 [5]uint16

	Attributes Attributes
	Type       uint8

	// Checksum is computed over the raw 11-byte short name.
	Checksum uint8

	Name2 [6]uint16

	FirstClusterLow uint16

	Name3 [2]uint16
}

func parseShortDirectoryEntry(raw []byte) (sde *shortDirectoryEntry, err error) {
	sde = new(shortDirectoryEntry)

	err = restruct.Unpack(raw, defaultEncoding, sde)
	if err != nil {
		return nil, log.Wrap(err)
	}

	return sde, nil
}

func parseLongNameDirectoryEntry(raw []byte) (lnde *longNameDirectoryEntry, err error) {
	lnde = new(longNameDirectoryEntry)

	err = restruct.Unpack(raw, defaultEncoding, lnde)
	if err != nil {
		return nil, log.Wrap(err)
	}

	return lnde, nil
}

// rawName returns the 11 name bytes as stored (with the 0x05 substitution
// still in place).
func (sde *shortDirectoryEntry) rawName() (raw [11]byte) {
	copy(raw[:8], sde.Name[:])
	copy(raw[8:], sde.Extension[:])

	return raw
}

// StartCluster returns the first cluster of the entry's data.
func (sde *shortDirectoryEntry) StartCluster() uint32 {
	return uint32(sde.FirstClusterHigh)<<16 | uint32(sde.FirstClusterLow)
}

func decodeOemName(raw []byte) string {
	decoded, err := charmap.CodePage437.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}

	return string(decoded)
}

// ShortName returns the 8.3 name as stored ("README.TXT").
func (sde *shortDirectoryEntry) ShortName() string {
	base, extension := sde.nameParts()

	if extension == "" {
		return base
	}

	return base + "." + extension
}

// DisplayName returns the 8.3 name with the case hints applied.
func (sde *shortDirectoryEntry) DisplayName() string {
	base, extension := sde.nameParts()

	if sde.CaseFlags&caseFlagLowerBase > 0 {
		base = strings.ToLower(base)
	}

	if sde.CaseFlags&caseFlagLowerExtension > 0 {
		extension = strings.ToLower(extension)
	}

	if extension == "" {
		return base
	}

	return base + "." + extension
}

func (sde *shortDirectoryEntry) nameParts() (base, extension string) {
	name := sde.Name
	if name[0] == entryMarkerKanji {
		name[0] = entryMarkerDeleted
	}

	base = decodeOemName([]byte(strings.TrimRight(string(name[:]), " ")))
	extension = decodeOemName([]byte(strings.TrimRight(string(sde.Extension[:]), " ")))

	return base, extension
}

// shortNameChecksum is the checksum that long-name fragments carry for the
// short entry they belong to.
func shortNameChecksum(name [11]byte) uint8 {
	sum := uint8(0)
	for _, c := range name {
		sum = ((sum & 1) << 7) + (sum >> 1) + c
	}

	return sum
}

// decodeTimestamp decodes a packed date and time. A zero or invalid date
// yields the zero time. `tenths` is in units of 10ms.
func decodeTimestamp(date, tod uint16, tenths uint8) time.Time {
	if date == 0 {
		return time.Time{}
	}

	year := 1980 + int(date>>9)
	month := int(date>>5) & 0x0f
	day := int(date) & 0x1f

	if month < 1 || month > 12 || day < 1 {
		return time.Time{}
	}

	hour := int(tod >> 11)
	minute := int(tod>>5) & 0x3f
	second := int(tod&0x1f) * 2

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)

	if tenths > 0 {
		t = t.Add(time.Duration(tenths) * 10 * time.Millisecond)
	}

	return t
}

// DirectoryEntry is a decoded short entry with the long name (if any) that
// preceded it.
type DirectoryEntry struct {
	// Name is the long name, or the short name with case hints applied.
	Name string

	// ShortName is the 8.3 name as stored.
	ShortName string

	// HasLongName indicates that Name came from long-name fragments.
	HasLongName bool

	Attributes Attributes

	CreatedTime  time.Time
	AccessedTime time.Time
	ModifiedTime time.Time

	StartCluster uint32
	Length       uint32
}

func newDirectoryEntry(sde *shortDirectoryEntry, longName string, hasLongName bool) *DirectoryEntry {
	de := &DirectoryEntry{
		ShortName:    sde.ShortName(),
		HasLongName:  hasLongName,
		Attributes:   sde.Attributes,
		CreatedTime:  decodeTimestamp(sde.CreatedDate, sde.CreatedTime, sde.CreatedTimeTenths),
		AccessedTime: decodeTimestamp(sde.AccessedDate, 0, 0),
		ModifiedTime: decodeTimestamp(sde.ModifiedDate, sde.ModifiedTime, 0),
		StartCluster: sde.StartCluster(),
		Length:       sde.FileSize,
	}

	if hasLongName == true {
		de.Name = longName
	} else {
		de.Name = sde.DisplayName()
	}

	return de
}

// String returns a description of the entry.
func (de *DirectoryEntry) String() string {
	return fmt.Sprintf("DirectoryEntry<NAME=[%s] SHORT=[%s] DIRECTORY=[%v] CLUSTER=(%d) LENGTH=(%d)>", de.Name, de.ShortName, de.Attributes.IsDirectory(), de.StartCluster, de.Length)
}
