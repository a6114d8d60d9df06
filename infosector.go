package fat32

import (
	"fmt"
	"reflect"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"

	"github.com/dsoprea/go-fat32/pagestore"
)

const (
	infoLeadSignature   = uint32(0x41615252)
	infoStructSignature = uint32(0x61417272)
	infoTrailSignature  = uint32(0xaa550000)

	// infoUnknown marks the free count or next-free hint as not computed.
	infoUnknown = uint32(0xffffffff)
)

var (
	infoSectorLogger = log.NewLogger("fat32.infosector")
)

// InfoSector is the FSInfo structure. Its counts are hints only.
type InfoSector struct {
	LeadSignature uint32
	Reserved1     [480]byte

	StructSignature uint32

	// FreeCount is the last known number of free clusters.
	FreeCount uint32

	// NextFree is where to start looking for a free cluster.
	NextFree uint32

	Reserved2      [12]byte
	TrailSignature uint32
}

// readInfoSector loads the FSInfo sector. Bad signatures are tolerated; the
// hints are then reported as unknown.
func readInfoSector(ps pagestore.PageStore, bs *BootSector) (is *InfoSector, err error) {
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

	is = new(InfoSector)

	sector := uint64(bs.FsInfoSector)
	if sector == 0 || sector >= uint64(bs.ReservedSectorCount) {
		infoSectorLogger.Warningf(nil, "FSInfo sector not in the reserved region: (%d)", sector)
		return is, nil
	}

	raw := make([]byte, SectorSize)

	err = ps.ReadPages(sector, raw)
	log.PanicIf(err)

	err = restruct.Unpack(raw, defaultEncoding, is)
	log.PanicIf(err)

	if is.IsValid() == false {
		infoSectorLogger.Warningf(nil, "FSInfo signatures not valid: (0x%08x) (0x%08x) (0x%08x)", is.LeadSignature, is.StructSignature, is.TrailSignature)
	}

	return is, nil
}

// write stores the hints back to the FSInfo sector.
func (is *InfoSector) write(ps pagestore.PageStore, bs *BootSector) (err error) {
	raw, err := restruct.Pack(defaultEncoding, is)
	if err != nil {
		return log.Wrap(err)
	}

	err = ps.WritePages(uint64(bs.FsInfoSector), raw)
	if err != nil {
		return log.Wrap(err)
	}

	return nil
}

// IsValid indicates whether all three signatures are present.
func (is *InfoSector) IsValid() bool {
	return is.LeadSignature == infoLeadSignature &&
		is.StructSignature == infoStructSignature &&
		is.TrailSignature == infoTrailSignature
}

// KnownFreeCount returns the free-cluster count if one was recorded.
func (is *InfoSector) KnownFreeCount() (count uint32, known bool) {
	if is.IsValid() == false || is.FreeCount == infoUnknown {
		return 0, false
	}

	return is.FreeCount, true
}

// KnownNextFree returns the next-free hint if one was recorded.
func (is *InfoSector) KnownNextFree() (cluster uint32, known bool) {
	if is.IsValid() == false || is.NextFree == infoUnknown {
		return 0, false
	}

	return is.NextFree, true
}

// Dump prints the FSInfo fields.
func (is *InfoSector) Dump() {
	fmt.Printf("Info Sector\n")
	fmt.Printf("===========\n")
	fmt.Printf("\n")

	fmt.Printf("Valid: [%v]\n", is.IsValid())
	fmt.Printf("FreeCount: (0x%08x)\n", is.FreeCount)
	fmt.Printf("NextFree: (0x%08x)\n", is.NextFree)
	fmt.Printf("\n")
}

// String returns a description of the FSInfo sector.
func (is *InfoSector) String() string {
	return fmt.Sprintf("InfoSector<VALID=[%v] FREE-COUNT=(%d) NEXT-FREE=(%d)>", is.IsValid(), is.FreeCount, is.NextFree)
}
