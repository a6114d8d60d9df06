package truecrypt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/dsoprea/go-logging"
	"github.com/go-restruct/restruct"
)

const (
	// HeaderSize is the size of the volume header.
	HeaderSize = 512

	headerSaltSize = 64

	// headerEncryptedOffset is where the encrypted part of the header starts.
	headerEncryptedOffset = headerSaltSize

	// headerEncryptedSize is the size of the encrypted part of the header.
	headerEncryptedSize = HeaderSize - headerEncryptedOffset

	headerMagicOffset = 64

	// headerCrcDataSize is the size of the region (starting at the magic)
	// that the header CRC covers.
	headerCrcDataSize = 188

	// masterKeyDataOffset is where the key material starts.
	masterKeyDataOffset = 256

	masterKeyDataSize = 256

	// maxRequiredProgramVersion is the newest program version whose headers
	// can be read.
	maxRequiredProgramVersion = 0x071a

	// DataAreaOffset is the default start of the encrypted area.
	DataAreaOffset = 131072
)

var (
	headerMagic = []byte("TRUE")
)

var (
	// ErrInvalidKey is returned when no combination of suite, PRF, and
	// iteration count decrypts the header with the given password.
	ErrInvalidKey = errors.New("password incorrect or volume not supported")

	// ErrCorruptHeader is returned when a header decrypts but one of its
	// checksums does not match.
	ErrCorruptHeader = errors.New("volume header corrupt")

	// ErrUnsupportedVersion is returned for header versions that can not be
	// read.
	ErrUnsupportedVersion = errors.New("volume header version not supported")
)

// VolumeHeader is the decrypted volume header. Every multi-byte field is
// big-endian.
type VolumeHeader struct {
	Salt [64]byte

	Magic [4]byte

	// Version is the header format version.
	Version uint16

	// RequiredProgramVersion is the minimum program version that can read
	// the volume (BCD, e.g. 0x0700).
	RequiredProgramVersion uint16

	// KeyAreaCrc is the CRC32 of MasterKeyData.
	KeyAreaCrc uint32

	// VolumeCreationTime and HeaderCreationTime are Windows FILETIMEs.
	VolumeCreationTime uint64
	HeaderCreationTime uint64

	// HiddenVolumeSize is non-zero only in the header of a hidden volume.
	HiddenVolumeSize uint64

	VolumeSize uint64

	// EncryptedAreaStart is the byte offset of the first encrypted sector.
	EncryptedAreaStart uint64

	// EncryptedAreaLength is the byte length of the encrypted area.
	EncryptedAreaLength uint64

	Flags uint32

	// SectorSize is only defined for version 5 and above.
	SectorSize uint32

	Reserved [120]byte

	// HeaderCrc is the CRC32 of bytes 64 through 251.
	HeaderCrc uint32

	// MasterKeyData holds the data keys followed by the tweak keys of the
	// data-area ciphers.
	MasterKeyData [256]byte
}

// parseVolumeHeader decodes a decrypted header and checks its checksums and
// version.
func parseVolumeHeader(raw []byte) (vh *VolumeHeader, err error) {
	vh = new(VolumeHeader)

	err = vh.decode(raw)
	if err != nil {
		return nil, err
	}

	return vh, nil
}

// decode unpacks `raw` into the header. On failure, no key material is left
// behind in the header.
func (vh *VolumeHeader) decode(raw []byte) (err error) {
	if len(raw) != HeaderSize {
		return log.Errorf("header must be (%d) bytes: (%d)", HeaderSize, len(raw))
	}

	defer func() {
		if err != nil {
			zero(vh.MasterKeyData[:])
		}
	}()

	err = restruct.Unpack(raw, binary.BigEndian, vh)
	if err != nil {
		return log.Wrap(err)
	}

	if bytes.Equal(vh.Magic[:], headerMagic) != true {
		return log.Wrap(ErrInvalidKey)
	}

	if crc32.ChecksumIEEE(raw[masterKeyDataOffset:]) != vh.KeyAreaCrc {
		return log.Wrap(ErrCorruptHeader)
	} else if crc32.ChecksumIEEE(raw[headerMagicOffset:headerMagicOffset+headerCrcDataSize]) != vh.HeaderCrc {
		return log.Wrap(ErrCorruptHeader)
	}

	if vh.Version < 4 || vh.RequiredProgramVersion > maxRequiredProgramVersion {
		return log.Wrap(ErrUnsupportedVersion)
	} else if vh.Version >= 5 && vh.SectorSize != DataUnitSize {
		return log.Wrap(ErrUnsupportedVersion)
	}

	return nil
}

// encode serializes the header and fills in both checksums.
func (vh *VolumeHeader) encode() (raw []byte, err error) {
	raw, err = restruct.Pack(binary.BigEndian, vh)
	if err != nil {
		return nil, log.Wrap(err)
	} else if len(raw) != HeaderSize {
		return nil, log.Errorf("encoded header has wrong size: (%d)", len(raw))
	}

	vh.KeyAreaCrc = crc32.ChecksumIEEE(raw[masterKeyDataOffset:])
	binary.BigEndian.PutUint32(raw[72:76], vh.KeyAreaCrc)

	vh.HeaderCrc = crc32.ChecksumIEEE(raw[headerMagicOffset : headerMagicOffset+headerCrcDataSize])
	binary.BigEndian.PutUint32(raw[252:256], vh.HeaderCrc)

	return raw, nil
}

// IsHidden indicates whether this is the header of a hidden volume.
func (vh *VolumeHeader) IsHidden() bool {
	return vh.HiddenVolumeSize != 0
}

// VolumeCreated returns the volume-creation time.
func (vh *VolumeHeader) VolumeCreated() time.Time {
	return timeFromFiletime(vh.VolumeCreationTime)
}

// HeaderCreated returns the time the header was last written.
func (vh *VolumeHeader) HeaderCreated() time.Time {
	return timeFromFiletime(vh.HeaderCreationTime)
}

// Dump prints the header fields (never the key material).
func (vh *VolumeHeader) Dump() {
	fmt.Printf("Volume Header\n")
	fmt.Printf("=============\n")
	fmt.Printf("\n")

	fmt.Printf("Version: (%d)\n", vh.Version)
	fmt.Printf("RequiredProgramVersion: (0x%04x)\n", vh.RequiredProgramVersion)
	fmt.Printf("VolumeCreated: [%s]\n", vh.VolumeCreated())
	fmt.Printf("HeaderCreated: [%s]\n", vh.HeaderCreated())
	fmt.Printf("HiddenVolumeSize: (%d)\n", vh.HiddenVolumeSize)
	fmt.Printf("VolumeSize: (%d)\n", vh.VolumeSize)
	fmt.Printf("EncryptedAreaStart: (%d)\n", vh.EncryptedAreaStart)
	fmt.Printf("EncryptedAreaLength: (%d)\n", vh.EncryptedAreaLength)
	fmt.Printf("Flags: (0x%08x)\n", vh.Flags)
	fmt.Printf("SectorSize: (%d)\n", vh.SectorSize)
	fmt.Printf("\n")
}

// String returns a description of the header.
func (vh *VolumeHeader) String() string {
	return fmt.Sprintf("VolumeHeader<VERSION=(%d) VOLUME-SIZE=(%d) ENCRYPTED-AREA=(%d)-(%d) HIDDEN=[%v]>", vh.Version, vh.VolumeSize, vh.EncryptedAreaStart, vh.EncryptedAreaLength, vh.IsHidden())
}

const (
	// filetimeEpochDelta is the number of 100ns intervals between 1601-01-01
	// and 1970-01-01.
	filetimeEpochDelta = 116444736000000000
)

func timeFromFiletime(ft uint64) time.Time {
	if ft < filetimeEpochDelta {
		return time.Time{}
	}

	return time.Unix(0, int64(ft-filetimeEpochDelta)*100).UTC()
}

func filetimeFromTime(t time.Time) uint64 {
	return uint64(t.UnixNano()/100) + filetimeEpochDelta
}
