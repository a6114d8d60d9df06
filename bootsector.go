// Package fat32 reads FAT32 filesystems from page-addressed storage and
// maintains their allocation tables.
package fat32

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"strings"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"

	"github.com/dsoprea/go-fat32/pagestore"
)

const (
	// SectorSize is the only sector size that is supported.
	SectorSize = 512

	bootSectorSize = 512

	// backupBootSectorDefault is where formatters put the backup boot sector
	// when the field itself can't be trusted.
	backupBootSectorDefault = 6

	// firstCluster is the number of the first cluster in the data region.
	firstCluster = 2

	// maxClusterCount keeps every cluster number below the bad-cluster
	// marker.
	maxClusterCount = 0x0ffffff5
)

var (
	defaultEncoding = binary.LittleEndian

	requiredBootSignature = uint16(0xaa55)
)

var (
	bootSectorLogger = log.NewLogger("fat32.bootsector")
)

// BootSector is the BIOS parameter block with the FAT32 extension.
type BootSector struct {
	// JumpBoot is the x86 jump over the parameter block.
	JumpBoot [3]byte

	// OemName is the name of the formatting system.
	OemName [8]byte

	BytesPerSector    uint16
	SectorsPerCluster uint8

	// ReservedSectorCount is the number of sectors before the first FAT.
	ReservedSectorCount uint16

	NumberOfFats uint8

	// RootEntryCount is always zero on FAT32.
	RootEntryCount uint16

	TotalSectors16 uint16
	Media          uint8

	// FatSize16 is always zero on FAT32. A non-zero value means FAT12/16.
	FatSize16 uint16

	SectorsPerTrack uint16
	NumberOfHeads   uint16
	HiddenSectors   uint32
	TotalSectors32  uint32

	// FatSize32 is the size of one FAT in sectors.
	FatSize32 uint32

	// ExtFlags controls FAT mirroring.
	ExtFlags uint16

	FsVersion uint16

	// RootCluster is the first cluster of the root directory.
	RootCluster uint32

	// FsInfoSector is the sector of the FSInfo structure.
	FsInfoSector uint16

	// BackupBootSector is the sector of the boot-sector copy.
	BackupBootSector uint16

	Reserved [12]byte

	DriveNumber   uint8
	Reserved1     uint8
	BootSignature uint8
	VolumeId      uint32

	VolumeLabel    [11]byte
	FileSystemType [8]byte

	BootCode [420]byte

	// Signature must be 0xAA55.
	Signature uint16
}

// parseBootSector decodes and validates a boot sector.
func parseBootSector(raw []byte) (bs *BootSector, err error) {
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

	bs = new(BootSector)

	err = restruct.Unpack(raw, defaultEncoding, bs)
	log.PanicIf(err)

	if bs.Signature != requiredBootSignature {
		log.Panic(ErrUnsupportedFormat)
	} else if bs.BytesPerSector != SectorSize {
		log.Panic(ErrUnsupportedFormat)
	} else if bs.SectorsPerCluster == 0 || bs.SectorsPerCluster&(bs.SectorsPerCluster-1) != 0 {
		log.Panic(ErrUnsupportedFormat)
	} else if bs.NumberOfFats == 0 {
		log.Panic(ErrUnsupportedFormat)
	}

	// FAT12/16 have a fixed root directory and a 16-bit FAT size.
	if bs.RootEntryCount != 0 || bs.FatSize16 != 0 || bs.FatSize32 == 0 {
		log.Panic(ErrUnsupportedFormat)
	}

	if bs.TotalSectors() <= bs.DataOffset() {
		log.Panic(ErrCorruptVolume)
	} else if bs.TotalClusters() == 0 {
		log.Panic(ErrCorruptVolume)
	} else if bs.IsValidCluster(bs.RootCluster) == false {
		log.Panic(ErrCorruptVolume)
	}

	return bs, nil
}

// readBootSector loads the boot sector at sector zero, falling back to the
// backup copy if the primary doesn't validate.
func readBootSector(ps pagestore.PageStore) (bs *BootSector, err error) {
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

	raw := make([]byte, bootSectorSize)

	err = ps.ReadPages(0, raw)
	log.PanicIf(err)

	bs, primaryErr := parseBootSector(raw)
	if primaryErr == nil {
		if uint64(bs.TotalSectors()) > ps.PageCount() {
			log.Panic(ErrCorruptVolume)
		}

		return bs, nil
	}

	// The primary may still point at the backup even if something else in
	// it is wrong.
	backupSector := uint64(backupBootSectorDefault)
	if bs != nil && bs.BackupBootSector != 0 {
		backupSector = uint64(bs.BackupBootSector)
	}

	if backupSector >= ps.PageCount() {
		log.Panic(primaryErr)
	}

	err = ps.ReadPages(backupSector, raw)
	log.PanicIf(err)

	bs, err = parseBootSector(raw)
	if err != nil {
		log.Panic(primaryErr)
	} else if uint64(bs.TotalSectors()) > ps.PageCount() {
		log.Panic(ErrCorruptVolume)
	}

	bootSectorLogger.Warningf(nil, "Primary boot sector not valid (%v). Using backup at sector (%d).", primaryErr, backupSector)

	return bs, nil
}

// TotalSectors returns the size of the filesystem in sectors.
func (bs *BootSector) TotalSectors() uint32 {
	if bs.TotalSectors32 != 0 {
		return bs.TotalSectors32
	}

	return uint32(bs.TotalSectors16)
}

// FatOffset returns the first sector of the first FAT.
func (bs *BootSector) FatOffset() uint32 {
	return uint32(bs.ReservedSectorCount)
}

// DataOffset returns the sector where cluster two starts.
func (bs *BootSector) DataOffset() uint32 {
	return uint32(bs.ReservedSectorCount) + uint32(bs.NumberOfFats)*bs.FatSize32
}

// ClusterSize returns the size of a cluster in bytes.
func (bs *BootSector) ClusterSize() int {
	return int(bs.SectorsPerCluster) * SectorSize
}

// TotalClusters returns the number of clusters in the data region. It is
// limited to what one FAT can describe.
func (bs *BootSector) TotalClusters() uint32 {
	dataSectors := bs.TotalSectors() - bs.DataOffset()
	clusters := dataSectors / uint32(bs.SectorsPerCluster)

	fatEntries := bs.FatSize32 * (SectorSize / fatEntrySize)
	if fatEntries <= firstCluster {
		return 0
	}

	if clusters > fatEntries-firstCluster {
		clusters = fatEntries - firstCluster
	}

	if clusters > maxClusterCount {
		clusters = maxClusterCount
	}

	return clusters
}

// IsValidCluster indicates whether the cluster number is in the data region.
func (bs *BootSector) IsValidCluster(cluster uint32) bool {
	return cluster >= firstCluster && cluster < bs.TotalClusters()+firstCluster
}

// ClusterToPage returns the first sector of the cluster.
func (bs *BootSector) ClusterToPage(cluster uint32) uint64 {
	return uint64(bs.DataOffset()) + uint64(cluster-firstCluster)*uint64(bs.SectorsPerCluster)
}

// Label returns the volume label from the extended parameters.
func (bs *BootSector) Label() string {
	return strings.TrimRight(string(bs.VolumeLabel[:]), " ")
}

// Dump prints the boot-sector parameters along with the calculated ones.
func (bs *BootSector) Dump() {
	fmt.Printf("Boot Sector\n")
	fmt.Printf("===========\n")
	fmt.Printf("\n")

	fmt.Printf("OemName: [%s]\n", strings.TrimRight(string(bs.OemName[:]), " "))
	fmt.Printf("BytesPerSector: (%d)\n", bs.BytesPerSector)
	fmt.Printf("SectorsPerCluster: (%d)\n", bs.SectorsPerCluster)
	fmt.Printf("ReservedSectorCount: (%d)\n", bs.ReservedSectorCount)
	fmt.Printf("NumberOfFats: (%d)\n", bs.NumberOfFats)
	fmt.Printf("Media: (0x%02x)\n", bs.Media)
	fmt.Printf("TotalSectors: (%d)\n", bs.TotalSectors())
	fmt.Printf("FatSize32: (%d)\n", bs.FatSize32)
	fmt.Printf("ExtFlags: (0x%04x)\n", bs.ExtFlags)
	fmt.Printf("RootCluster: (%d)\n", bs.RootCluster)
	fmt.Printf("FsInfoSector: (%d)\n", bs.FsInfoSector)
	fmt.Printf("BackupBootSector: (%d)\n", bs.BackupBootSector)
	fmt.Printf("VolumeId: (0x%08x)\n", bs.VolumeId)
	fmt.Printf("VolumeLabel: [%s]\n", bs.Label())
	fmt.Printf("\n")

	fmt.Printf("-> FatOffset: (%d)\n", bs.FatOffset())
	fmt.Printf("-> DataOffset: (%d)\n", bs.DataOffset())
	fmt.Printf("-> ClusterSize: (%d)\n", bs.ClusterSize())
	fmt.Printf("-> TotalClusters: (%d)\n", bs.TotalClusters())
	fmt.Printf("\n")
}

// String returns a description of the boot sector.
func (bs *BootSector) String() string {
	return fmt.Sprintf("BootSector<ID=(0x%08x) LABEL=[%s] CLUSTERS=(%d) CLUSTER-SIZE=(%d)>", bs.VolumeId, bs.Label(), bs.TotalClusters(), bs.ClusterSize())
}
