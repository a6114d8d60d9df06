package truecrypt

import (
	"testing"
	"time"

	"github.com/dsoprea/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestHeader() *VolumeHeader {
	vh := &VolumeHeader{
		Version:                5,
		RequiredProgramVersion: 0x0700,
		VolumeSize:             1000 * DataUnitSize,
		EncryptedAreaStart:     DataAreaOffset,
		EncryptedAreaLength:    1000 * DataUnitSize,
		SectorSize:             DataUnitSize,
	}

	copy(vh.Magic[:], headerMagic)

	for i := range vh.MasterKeyData {
		vh.MasterKeyData[i] = byte(i)
	}

	return vh
}

func TestVolumeHeader_EncodeAndParse(t *testing.T) {
	vh := getTestHeader()

	raw, err := vh.encode()
	require.NoError(t, err)
	require.Len(t, raw, HeaderSize)

	assert.Equal(t, []byte("TRUE"), raw[64:68])

	// Big-endian.
	assert.Equal(t, []byte{0x00, 0x05}, raw[68:70])
	assert.Equal(t, []byte{0x00, 0x02, 0x00, 0x00}, raw[112:116])

	parsed, err := parseVolumeHeader(raw)
	require.NoError(t, err)

	assert.Equal(t, vh.VolumeSize, parsed.VolumeSize)
	assert.Equal(t, uint64(DataAreaOffset), parsed.EncryptedAreaStart)
	assert.Equal(t, vh.EncryptedAreaLength, parsed.EncryptedAreaLength)
	assert.Equal(t, vh.MasterKeyData, parsed.MasterKeyData)
	assert.Equal(t, vh.HeaderCrc, parsed.HeaderCrc)
	assert.False(t, parsed.IsHidden())
}

func TestParseVolumeHeader_KeyAreaCrcMismatch(t *testing.T) {
	raw, err := getTestHeader().encode()
	log.PanicIf(err)

	raw[300] ^= 0xff

	_, err = parseVolumeHeader(raw)
	if log.Is(err, ErrCorruptHeader) != true {
		t.Fatalf("Expected corrupt-header error: [%v]", err)
	}
}

func TestParseVolumeHeader_HeaderCrcMismatch(t *testing.T) {
	raw, err := getTestHeader().encode()
	log.PanicIf(err)

	raw[200] ^= 0xff

	_, err = parseVolumeHeader(raw)
	if log.Is(err, ErrCorruptHeader) != true {
		t.Fatalf("Expected corrupt-header error: [%v]", err)
	}
}

func TestParseVolumeHeader_BadMagic(t *testing.T) {
	raw, err := getTestHeader().encode()
	log.PanicIf(err)

	raw[64] = 'X'

	_, err = parseVolumeHeader(raw)
	if log.Is(err, ErrInvalidKey) != true {
		t.Fatalf("Expected invalid-key error: [%v]", err)
	}
}

func TestParseVolumeHeader_UnsupportedVersion(t *testing.T) {
	vh := getTestHeader()
	vh.RequiredProgramVersion = 0x0800

	raw, err := vh.encode()
	log.PanicIf(err)

	_, err = parseVolumeHeader(raw)
	if log.Is(err, ErrUnsupportedVersion) != true {
		t.Fatalf("Expected unsupported-version error: [%v]", err)
	}

	vh = getTestHeader()
	vh.SectorSize = 4096

	raw, err = vh.encode()
	log.PanicIf(err)

	_, err = parseVolumeHeader(raw)
	if log.Is(err, ErrUnsupportedVersion) != true {
		t.Fatalf("Expected unsupported-version error for sector-size: [%v]", err)
	}
}

func TestVolumeHeader_Decode_ZeroesKeyOnFailure(t *testing.T) {
	var zeroKey [256]byte

	raw, err := getTestHeader().encode()
	log.PanicIf(err)

	raw[200] ^= 0xff

	vh := new(VolumeHeader)

	err = vh.decode(raw)
	if log.Is(err, ErrCorruptHeader) != true {
		t.Fatalf("Expected corrupt-header error: [%v]", err)
	}

	assert.Equal(t, zeroKey, vh.MasterKeyData)

	original := getTestHeader()
	original.Version = 3

	raw, err = original.encode()
	log.PanicIf(err)

	vh = new(VolumeHeader)

	err = vh.decode(raw)
	if log.Is(err, ErrUnsupportedVersion) != true {
		t.Fatalf("Expected unsupported-version error: [%v]", err)
	}

	assert.Equal(t, zeroKey, vh.MasterKeyData)

	// The caller's buffer is left alone.
	assert.Equal(t, original.MasterKeyData[:], raw[masterKeyDataOffset:])
}

func TestParseVolumeHeader_Version4(t *testing.T) {
	vh := getTestHeader()
	vh.Version = 4
	vh.SectorSize = 0

	raw, err := vh.encode()
	log.PanicIf(err)

	parsed, err := parseVolumeHeader(raw)
	require.NoError(t, err)

	assert.Equal(t, uint16(4), parsed.Version)
}

func TestFiletime(t *testing.T) {
	now := time.Date(2020, 3, 4, 5, 6, 7, 800, time.UTC)

	ft := filetimeFromTime(now)
	assert.Equal(t, now, timeFromFiletime(ft))

	assert.True(t, timeFromFiletime(0).IsZero())

	// 1970-01-01 exactly.
	assert.Equal(t, time.Unix(0, 0).UTC(), timeFromFiletime(filetimeEpochDelta))
}
