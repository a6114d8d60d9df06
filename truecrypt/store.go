package truecrypt

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/dsoprea/go-logging"

	"github.com/dsoprea/go-fat32/pagestore"
)

var (
	storeLogger = log.NewLogger("truecrypt.store")
)

// VolumeStore is a PageStore that serves the decrypted data area of a volume.
// Page zero is the first sector of the encrypted area.
type VolumeStore struct {
	underlying pagestore.PageStore

	header *VolumeHeader
	suite  Suite
	prf    Prf

	c *cascade

	firstSector uint64
	pageCount   uint64

	m      sync.Mutex
	closed bool
}

// NewVolumeStore unlocks the volume on `underlying` with `password`. The
// underlying store must have 512-byte pages. `options` may be nil.
func NewVolumeStore(underlying pagestore.PageStore, password []byte, options *UnlockOptions) (vs *VolumeStore, err error) {
	return NewVolumeStoreWithContext(context.Background(), underlying, password, options)
}

// NewVolumeStoreWithContext is NewVolumeStore with a context that can abandon
// the header search.
func NewVolumeStoreWithContext(ctx context.Context, underlying pagestore.PageStore, password []byte, options *UnlockOptions) (vs *VolumeStore, err error) {
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

	encrypted := make([]byte, HeaderSize)

	err = underlying.ReadPages(0, encrypted)
	log.PanicIf(err)

	uh, err := unlockHeader(ctx, encrypted, password, options)
	log.PanicIf(err)

	defer zero(uh.raw)

	vh, err := parseVolumeHeader(uh.raw)
	log.PanicIf(err)

	// The live data area uses the master keys, not the header key.
	c, err := newCascade(uh.suite, vh.MasterKeyData[:])
	if err != nil {
		zero(vh.MasterKeyData[:])
		log.Panic(err)
	}

	if vh.EncryptedAreaStart%DataUnitSize != 0 || vh.EncryptedAreaLength%DataUnitSize != 0 {
		zero(vh.MasterKeyData[:])
		log.Panicf("encrypted area not sector-aligned: (%d) (%d)", vh.EncryptedAreaStart, vh.EncryptedAreaLength)
	}

	vs = &VolumeStore{
		underlying:  underlying,
		header:      vh,
		suite:       uh.suite,
		prf:         uh.prf,
		c:           c,
		firstSector: vh.EncryptedAreaStart / DataUnitSize,
		pageCount:   vh.EncryptedAreaLength / DataUnitSize,
	}

	storeLogger.Debugf(nil, "Volume unlocked: %s SUITE=[%s] PRF=[%s]", vh, vs.suite, vs.prf)

	return vs, nil
}

// ReadPages reads and decrypts whole sectors of the data area.
func (vs *VolumeStore) ReadPages(pageIndex uint64, buffer []byte) (err error) {
	vs.m.Lock()
	defer vs.m.Unlock()

	if vs.closed == true {
		return log.Wrap(pagestore.ErrClosed)
	}

	err = pagestore.CheckTransfer(vs, pageIndex, buffer)
	if err != nil {
		return log.Wrap(err)
	}

	sector := vs.firstSector + pageIndex

	err = vs.underlying.ReadPages(sector, buffer)
	if err != nil {
		return log.Wrap(err)
	}

	err = vs.c.Decrypt(buffer, sector)
	if err != nil {
		return log.Wrap(err)
	}

	return nil
}

// WritePages encrypts and writes whole sectors of the data area. The caller's
// buffer is not modified.
func (vs *VolumeStore) WritePages(pageIndex uint64, buffer []byte) (err error) {
	vs.m.Lock()
	defer vs.m.Unlock()

	if vs.closed == true {
		return log.Wrap(pagestore.ErrClosed)
	}

	err = pagestore.CheckTransfer(vs, pageIndex, buffer)
	if err != nil {
		return log.Wrap(err)
	}

	sector := vs.firstSector + pageIndex

	encrypted := make([]byte, len(buffer))
	copy(encrypted, buffer)

	err = vs.c.Encrypt(encrypted, sector)
	if err != nil {
		return log.Wrap(err)
	}

	err = vs.underlying.WritePages(sector, encrypted)
	if err != nil {
		return log.Wrap(err)
	}

	return nil
}

// PageCount returns the number of sectors in the encrypted area.
func (vs *VolumeStore) PageCount() uint64 {
	return vs.pageCount
}

// PageSize returns the sector size.
func (vs *VolumeStore) PageSize() int {
	return DataUnitSize
}

// Flush flushes the underlying store.
func (vs *VolumeStore) Flush() (err error) {
	vs.m.Lock()
	defer vs.m.Unlock()

	if vs.closed == true {
		return log.Wrap(pagestore.ErrClosed)
	}

	err = vs.underlying.Flush()
	if err != nil {
		return log.Wrap(err)
	}

	return nil
}

// Close drops the keys and closes the underlying store. Only the first call
// has any effect.
func (vs *VolumeStore) Close() (err error) {
	vs.m.Lock()
	defer vs.m.Unlock()

	if vs.closed == true {
		return nil
	}

	vs.closed = true

	vs.c.reset()
	zero(vs.header.MasterKeyData[:])

	err = vs.underlying.Close()
	if err != nil {
		return log.Wrap(err)
	}

	return nil
}

// Header returns a copy of the volume header without the key material.
func (vs *VolumeStore) Header() VolumeHeader {
	vh := *vs.header
	vh.MasterKeyData = [masterKeyDataSize]byte{}

	return vh
}

// Suite returns the suite that the volume is encrypted with.
func (vs *VolumeStore) Suite() Suite {
	return vs.suite
}

// Prf returns the PRF that unlocked the header.
func (vs *VolumeStore) Prf() Prf {
	return vs.prf
}

// String returns a description of the store.
func (vs *VolumeStore) String() string {
	return fmt.Sprintf("VolumeStore<SUITE=[%s] PRF=[%s] FIRST-SECTOR=(%d) PAGE-COUNT=(%d)>", vs.suite, vs.prf, vs.firstSector, vs.pageCount)
}
