package fat32

import (
	"testing"
	"unicode/utf16"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/dsoprea/go-fat32/pagestore"
)

// Geometry of the generated test image.
const (
	testTotalSectors      = 1000
	testReservedSectors   = 32
	testFatSize           = 8
	testNumberOfFats      = 2
	testDataOffset        = testReservedSectors + testNumberOfFats*testFatSize
	testTotalClusters     = testTotalSectors - testDataOffset
	testUsedClusters      = 11
	testFreeClusters      = testTotalClusters - testUsedClusters
	testLongFileName      = "A long file name.txt"
	testLongFileLength    = 3000
	testSubdirectoryFiles = 20
)

var (
	testReadmeContent = []byte("hello world\n")

	// testLongFileChain is deliberately fragmented.
	testLongFileChain = []uint32{5, 6, 7, 20, 21, 9}
)

// testImage assembles a FAT32 volume in memory.
type testImage struct {
	raw []byte
	bs  *BootSector
}

func newTestBootSector() *BootSector {
	bs := &BootSector{
		BytesPerSector:      SectorSize,
		SectorsPerCluster:   1,
		ReservedSectorCount: testReservedSectors,
		NumberOfFats:        testNumberOfFats,
		Media:               0xf8,
		TotalSectors32:      testTotalSectors,
		FatSize32:           testFatSize,
		RootCluster:         2,
		FsInfoSector:        1,
		BackupBootSector:    backupBootSectorDefault,
		BootSignature:       0x29,
		VolumeId:            0x12345678,
		Signature:           requiredBootSignature,
	}

	bs.JumpBoot = [3]byte{0xeb, 0x58, 0x90}
	copy(bs.OemName[:], "MSWIN4.1")
	copy(bs.VolumeLabel[:], "TESTVOLUME ")
	copy(bs.FileSystemType[:], "FAT32   ")

	return bs
}

func newTestImage() *testImage {
	ti := &testImage{
		raw: make([]byte, testTotalSectors*SectorSize),
		bs:  newTestBootSector(),
	}

	ti.putBootSector(ti.bs)

	is := &InfoSector{
		LeadSignature:   infoLeadSignature,
		StructSignature: infoStructSignature,
		FreeCount:       testFreeClusters,
		NextFree:        8,
		TrailSignature:  infoTrailSignature,
	}

	ti.putStruct(SectorSize, is)

	ti.setFat(0, 0x0ffffff8)
	ti.setFat(1, fatEntryEndOfChain)

	// Root directory.

	ti.setFat(2, fatEntryEndOfChain)

	root := make([][]byte, 0)
	root = append(root, shortEntry("TESTVOLUME ", AttributeVolumeLabel|AttributeArchive, 0, 0, 0))
	root = append(root, shortEntry("DOCS       ", AttributeDirectory, 0, 3, 0))

	longFileShortName := "ALONGF~1TXT"
	root = append(root, longNameEntries(testLongFileName, longFileShortName)...)
	root = append(root, shortEntry(longFileShortName, AttributeArchive, 0, testLongFileChain[0], testLongFileLength))

	deleted := shortEntry("GONE    TXT", AttributeArchive, 0, 30, 100)
	deleted[0] = entryMarkerDeleted
	root = append(root, deleted)

	root = append(root, shortEntry("EMPTY   DAT", AttributeArchive, 0, 0, 0))
	root = append(root, shortEntry("SUB        ", AttributeDirectory, 0, 10, 0))

	ti.putDirectory(2, root)

	// /DOCS

	ti.setFat(3, fatEntryEndOfChain)

	readme := shortEntry("README  TXT", AttributeArchive, caseFlagLowerBase|caseFlagLowerExtension, 4, uint32(len(testReadmeContent)))
	setTestTimestamps(readme)

	docs := [][]byte{
		shortEntry(".          ", AttributeDirectory, 0, 3, 0),
		shortEntry("..         ", AttributeDirectory, 0, 0, 0),
		readme,
	}

	ti.putDirectory(3, docs)

	ti.setFat(4, fatEntryEndOfChain)
	copy(ti.cluster(4), testReadmeContent)

	// The long file.

	ti.putChain(testLongFileChain)

	content := testLongFileContent()
	for i, cluster := range testLongFileChain {
		start := i * SectorSize

		end := start + SectorSize
		if end > len(content) {
			end = len(content)
		}

		copy(ti.cluster(cluster), content[start:end])
	}

	// /SUB spans two clusters.

	ti.putChain([]uint32{10, 11})

	sub := [][]byte{
		shortEntry(".          ", AttributeDirectory, 0, 10, 0),
		shortEntry("..         ", AttributeDirectory, 0, 0, 0),
	}

	for i := 0; i < testSubdirectoryFiles; i++ {
		name := []byte("FILE00  BIN")
		name[4] = '0' + byte(i/10)
		name[5] = '0' + byte(i%10)

		sub = append(sub, shortEntry(string(name), AttributeArchive, 0, 0, 0))
	}

	ti.putDirectory(10, sub)

	return ti
}

func testLongFileContent() []byte {
	content := make([]byte, testLongFileLength)
	for i := range content {
		content[i] = byte((i * 7) % 251)
	}

	return content
}

// setTestTimestamps stamps 2020-05-17 13:45:30 (created 1.5s later) on a
// short entry.
func setTestTimestamps(record []byte) {
	date := uint16((2020-1980)<<9 | 5<<5 | 17)
	tod := uint16(13<<11 | 45<<5 | 30/2)

	record[13] = 150
	defaultEncoding.PutUint16(record[14:], tod)
	defaultEncoding.PutUint16(record[16:], date)
	defaultEncoding.PutUint16(record[18:], date)
	defaultEncoding.PutUint16(record[22:], tod)
	defaultEncoding.PutUint16(record[24:], date)
}

func (ti *testImage) putStruct(offset int, value interface{}) {
	raw, err := restruct.Pack(defaultEncoding, value)
	log.PanicIf(err)

	copy(ti.raw[offset:], raw)
}

// putBootSector writes the primary and the backup boot sector.
func (ti *testImage) putBootSector(bs *BootSector) {
	ti.putStruct(0, bs)
	ti.putStruct(backupBootSectorDefault*SectorSize, bs)
}

// setFat stores a raw entry in every FAT copy.
func (ti *testImage) setFat(cluster uint32, value uint32) {
	for i := 0; i < testNumberOfFats; i++ {
		offset := (testReservedSectors+i*testFatSize)*SectorSize + int(cluster)*fatEntrySize
		defaultEncoding.PutUint32(ti.raw[offset:], value)
	}
}

func (ti *testImage) getFat(copyIndex int, cluster uint32) uint32 {
	offset := (testReservedSectors+copyIndex*testFatSize)*SectorSize + int(cluster)*fatEntrySize
	return defaultEncoding.Uint32(ti.raw[offset:])
}

func (ti *testImage) putChain(clusters []uint32) {
	for i, cluster := range clusters {
		if i == len(clusters)-1 {
			ti.setFat(cluster, fatEntryEndOfChain)
		} else {
			ti.setFat(cluster, clusters[i+1])
		}
	}
}

func (ti *testImage) cluster(cluster uint32) []byte {
	offset := (testDataOffset + int(cluster) - firstCluster) * SectorSize
	return ti.raw[offset : offset+SectorSize]
}

// putDirectory writes records from the start of `cluster` onward, following
// the chain already present in the FAT. The slot after the last record is
// left zeroed and so terminates the directory.
func (ti *testImage) putDirectory(cluster uint32, records [][]byte) {
	perCluster := SectorSize / directoryEntryBytesCount

	for i, record := range records {
		if i > 0 && i%perCluster == 0 {
			next := ti.getFat(0, cluster) & fatEntryMask
			if IsEndOfChain(next) == true {
				log.Panicf("directory at cluster (%d) doesn't have room", cluster)
			}

			cluster = next
		}

		slot := (i % perCluster) * directoryEntryBytesCount
		copy(ti.cluster(cluster)[slot:], record)
	}
}

// store returns a page-store over a copy of the image.
func (ti *testImage) store(t *testing.T) (fs afero.Fs, fps *pagestore.FilePageStore) {
	fs = afero.NewMemMapFs()

	err := afero.WriteFile(fs, "/image.fat", ti.raw, 0644)
	log.PanicIf(err)

	fps, err = pagestore.OpenFilePageStore(fs, "/image.fat", SectorSize, true)
	require.NoError(t, err)

	return fs, fps
}

// open mounts a copy of the image.
func (ti *testImage) open(t *testing.T) (afs afero.Fs, fs *FileSystem) {
	afs, fps := ti.store(t)

	fs, err := NewFileSystem(fps, nil)
	require.NoError(t, err)

	return afs, fs
}

// reopen mounts the image file that a previous open left behind.
func reopen(t *testing.T, afs afero.Fs) *FileSystem {
	fps, err := pagestore.OpenFilePageStore(afs, "/image.fat", SectorSize, true)
	require.NoError(t, err)

	fs, err := NewFileSystem(fps, nil)
	require.NoError(t, err)

	return fs
}

func shortEntry(name string, attributes Attributes, caseFlags uint8, cluster uint32, size uint32) []byte {
	sde := &shortDirectoryEntry{
		Attributes:       attributes,
		CaseFlags:        caseFlags,
		FirstClusterHigh: uint16(cluster >> 16),
		FirstClusterLow:  uint16(cluster),
		FileSize:         size,
	}

	copy(sde.Name[:], name[:8])
	copy(sde.Extension[:], name[8:11])

	raw, err := restruct.Pack(defaultEncoding, sde)
	log.PanicIf(err)

	return raw
}

// longNameEntries returns the fragments for `name` in on-disk order.
func longNameEntries(name string, shortName string) [][]byte {
	var raw [11]byte
	copy(raw[:], shortName)

	checksum := shortNameChecksum(raw)

	units := utf16.Encode([]rune(name))
	if len(units)%longNameUnitsPerFragment != 0 {
		units = append(units, 0)
	}

	for len(units)%longNameUnitsPerFragment != 0 {
		units = append(units, 0xffff)
	}

	count := len(units) / longNameUnitsPerFragment
	records := make([][]byte, 0, count)

	for sequence := count; sequence >= 1; sequence-- {
		fragment := units[(sequence-1)*longNameUnitsPerFragment : sequence*longNameUnitsPerFragment]

		lnde := &longNameDirectoryEntry{
			Sequence:   uint8(sequence),
			Attributes: AttributeLongName,
			Checksum:   checksum,
		}

		if sequence == count {
			lnde.Sequence |= longNameLastFragment
		}

		copy(lnde.Name1[:], fragment[0:5])
		copy(lnde.Name2[:], fragment[5:11])
		copy(lnde.Name3[:], fragment[11:13])

		raw, err := restruct.Pack(defaultEncoding, lnde)
		log.PanicIf(err)

		records = append(records, raw)
	}

	return records
}
