package truecrypt

import (
	"crypto/rand"
	"reflect"
	"time"

	"github.com/dsoprea/go-logging"

	"github.com/dsoprea/go-fat32/pagestore"
)

const (
	createHeaderVersion          = 5
	createRequiredProgramVersion = 0x0700

	// createBatchSectors is the number of data-area sectors encrypted and
	// written per call while a new volume is being filled.
	createBatchSectors = 128
)

var (
	createLogger = log.NewLogger("truecrypt.create")
)

// CreateOptions describes a new volume.
type CreateOptions struct {
	// Suite encrypts both the header and the data area.
	Suite Suite

	// Prf derives the header key.
	Prf Prf

	// DataPages is the size of the data area in sectors. Zero means
	// everything after the header area.
	DataPages uint64
}

// CreateVolume writes a new volume header to the beginning of `underlying`
// and fills the data area with encrypted zeros. The salt and master keys come
// from crypto/rand. The result can be opened with NewVolumeStore.
func CreateVolume(underlying pagestore.PageStore, password []byte, options CreateOptions) (err error) {
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

	if underlying.PageSize() != DataUnitSize {
		log.Panic(pagestore.ErrUnsupportedPageSize)
	}

	if len(options.Suite.Ciphers()) == 0 {
		log.Panicf("suite not valid: (%d)", int(options.Suite))
	} else if options.Prf.Hash() == nil {
		log.Panicf("PRF not valid: (%d)", int(options.Prf))
	}

	firstSector := uint64(DataAreaOffset / DataUnitSize)

	if underlying.PageCount() <= firstSector {
		log.Panic(pagestore.ErrPageOutOfRange)
	}

	dataPages := options.DataPages
	if dataPages == 0 {
		dataPages = underlying.PageCount() - firstSector
	} else if firstSector+dataPages > underlying.PageCount() {
		log.Panic(pagestore.ErrPageOutOfRange)
	}

	now := filetimeFromTime(time.Now())

	vh := &VolumeHeader{
		Version:                createHeaderVersion,
		RequiredProgramVersion: createRequiredProgramVersion,
		VolumeCreationTime:     now,
		HeaderCreationTime:     now,
		VolumeSize:             dataPages * DataUnitSize,
		EncryptedAreaStart:     DataAreaOffset,
		EncryptedAreaLength:    dataPages * DataUnitSize,
		SectorSize:             DataUnitSize,
	}

	copy(vh.Magic[:], headerMagic)

	_, err = rand.Read(vh.Salt[:])
	log.PanicIf(err)

	_, err = rand.Read(vh.MasterKeyData[:])
	log.PanicIf(err)

	defer zero(vh.MasterKeyData[:])

	// Fill the data area before the header goes in so that a failure
	// leaves nothing that unlocks.

	data, err := newCascade(options.Suite, vh.MasterKeyData[:])
	log.PanicIf(err)

	defer data.reset()

	buffer := make([]byte, createBatchSectors*DataUnitSize)

	for sector := uint64(0); sector < dataPages; sector += createBatchSectors {
		count := dataPages - sector
		if count > createBatchSectors {
			count = createBatchSectors
		}

		chunk := buffer[:count*DataUnitSize]
		zero(chunk)

		err = data.Encrypt(chunk, firstSector+sector)
		log.PanicIf(err)

		err = underlying.WritePages(firstSector+sector, chunk)
		log.PanicIf(err)
	}

	raw, err := vh.encode()
	log.PanicIf(err)

	defer zero(raw)

	key := options.Prf.DeriveKey(password, vh.Salt[:], options.Suite.KeySize())
	defer zero(key)

	hc, err := newCascade(options.Suite, key)
	log.PanicIf(err)

	defer hc.reset()

	err = hc.Encrypt(raw[headerEncryptedOffset:], 0)
	log.PanicIf(err)

	err = underlying.WritePages(0, raw)
	log.PanicIf(err)

	err = underlying.Flush()
	log.PanicIf(err)

	createLogger.Debugf(nil, "Created volume: %s SUITE=[%s] PRF=[%s]", vh, options.Suite, options.Prf)

	return nil
}
