package fat32

import (
	"reflect"
	"strings"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"

	"github.com/dsoprea/go-fat32/pagestore"
)

const (
	formatReservedSectors = 32
	formatNumberOfFats    = 2
	formatMedia           = 0xf8
	formatRootCluster     = 2

	// formatZeroBatchSectors is how many sectors are cleared per write.
	formatZeroBatchSectors = 128
)

var (
	formatLogger = log.NewLogger("fat32.format")
)

// FormatOptions describes a new filesystem.
type FormatOptions struct {
	// SectorsPerCluster must be a power of two. Zero picks a size from the
	// size of the store.
	SectorsPerCluster uint8

	// Label is the volume label (up to 11 characters).
	Label string

	// VolumeId is the serial number.
	VolumeId uint32
}

// defaultSectorsPerCluster follows the usual cluster sizes for FAT32.
func defaultSectorsPerCluster(totalSectors uint64) uint8 {
	switch {
	case totalSectors < 532480:
		return 1
	case totalSectors < 16777216:
		return 8
	case totalSectors < 33554432:
		return 16
	case totalSectors < 67108864:
		return 32
	}

	return 64
}

// formatFatSize returns the smallest FAT size in sectors that can describe
// every cluster that's left once the FATs themselves are accounted for.
func formatFatSize(totalSectors uint32, sectorsPerCluster uint8) uint32 {
	fits := func(fatSize uint32) bool {
		dataSectors := totalSectors - formatReservedSectors - formatNumberOfFats*fatSize
		clusters := dataSectors / uint32(sectorsPerCluster)

		return fatSize*fatEntriesPerSector >= clusters+firstCluster
	}

	fatSize := uint32(1)

	for {
		dataSectors := totalSectors - formatReservedSectors - formatNumberOfFats*fatSize
		clusters := dataSectors / uint32(sectorsPerCluster)

		required := (clusters + firstCluster + fatEntriesPerSector - 1) / fatEntriesPerSector
		if required <= fatSize {
			break
		}

		fatSize = required
	}

	// The jump above can overshoot, since a larger FAT leaves fewer clusters
	// to describe.
	for fatSize > 1 && fits(fatSize-1) == true {
		fatSize--
	}

	return fatSize
}

// Format writes an empty FAT32 filesystem over the whole store.
func Format(ps pagestore.PageStore, options FormatOptions) (err error) {
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

	pageCount := ps.PageCount()
	if pageCount > 0xffffffff {
		log.Panicf("store too large for FAT32: (%d) sectors", pageCount)
	}

	totalSectors := uint32(pageCount)

	sectorsPerCluster := options.SectorsPerCluster
	if sectorsPerCluster == 0 {
		sectorsPerCluster = defaultSectorsPerCluster(pageCount)
	} else if sectorsPerCluster&(sectorsPerCluster-1) != 0 {
		log.Panicf("sectors per cluster must be a power of two: (%d)", sectorsPerCluster)
	}

	// Room for the reserved region, two one-sector FATs and a root cluster.
	if totalSectors < formatReservedSectors+formatNumberOfFats+uint32(sectorsPerCluster) {
		log.Panicf("store too small: (%d) sectors", totalSectors)
	}

	fatSize := formatFatSize(totalSectors, sectorsPerCluster)

	bs := &BootSector{
		BytesPerSector:      SectorSize,
		SectorsPerCluster:   sectorsPerCluster,
		ReservedSectorCount: formatReservedSectors,
		NumberOfFats:        formatNumberOfFats,
		Media:               formatMedia,
		SectorsPerTrack:     63,
		NumberOfHeads:       255,
		TotalSectors32:      totalSectors,
		FatSize32:           fatSize,
		RootCluster:         formatRootCluster,
		FsInfoSector:        1,
		BackupBootSector:    backupBootSectorDefault,
		DriveNumber:         0x80,
		BootSignature:       0x29,
		VolumeId:            options.VolumeId,
		Signature:           requiredBootSignature,
	}

	bs.JumpBoot = [3]byte{0xeb, 0x58, 0x90}
	copy(bs.OemName[:], "GOFAT32 ")

	label := options.Label
	if label == "" {
		label = "NO NAME"
	}

	copy(bs.VolumeLabel[:], strings.ToUpper(label)+strings.Repeat(" ", len(bs.VolumeLabel)))
	copy(bs.FileSystemType[:], "FAT32   ")

	// Make sure that the parameters are ones that we'll accept on the way
	// back in.
	bootRaw, err := restruct.Pack(defaultEncoding, bs)
	log.PanicIf(err)

	_, err = parseBootSector(bootRaw)
	log.PanicIf(err)

	// Clear the reserved region, the FATs and the root directory.
	clearSectors := uint64(bs.DataOffset()) + uint64(sectorsPerCluster)
	zeros := make([]byte, formatZeroBatchSectors*SectorSize)

	for sector := uint64(0); sector < clearSectors; sector += formatZeroBatchSectors {
		count := clearSectors - sector
		if count > formatZeroBatchSectors {
			count = formatZeroBatchSectors
		}

		err := ps.WritePages(sector, zeros[:count*SectorSize])
		log.PanicIf(err)
	}

	for _, sector := range []uint64{0, backupBootSectorDefault} {
		err := ps.WritePages(sector, bootRaw)
		log.PanicIf(err)
	}

	totalClusters := bs.TotalClusters()

	is := &InfoSector{
		LeadSignature:   infoLeadSignature,
		StructSignature: infoStructSignature,
		FreeCount:       totalClusters - 1,
		NextFree:        formatRootCluster + 1,
		TrailSignature:  infoTrailSignature,
	}

	err = is.write(ps, bs)
	log.PanicIf(err)

	// The backup FSInfo follows the backup boot sector.
	infoRaw, err := restruct.Pack(defaultEncoding, is)
	log.PanicIf(err)

	err = ps.WritePages(backupBootSectorDefault+1, infoRaw)
	log.PanicIf(err)

	fatSector := make([]byte, SectorSize)
	defaultEncoding.PutUint32(fatSector[0:], 0x0fffff00|formatMedia)
	defaultEncoding.PutUint32(fatSector[4:], fatEntryEndOfChain)
	defaultEncoding.PutUint32(fatSector[formatRootCluster*fatEntrySize:], fatEntryEndOfChain)

	for i := uint64(0); i < formatNumberOfFats; i++ {
		err := ps.WritePages(uint64(bs.FatOffset())+i*uint64(fatSize), fatSector)
		log.PanicIf(err)
	}

	err = ps.Flush()
	log.PanicIf(err)

	formatLogger.Debugf(nil, "Formatted: %s", bs)

	return nil
}
