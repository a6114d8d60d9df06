package truecrypt

import (
	"golang.org/x/crypto/xts"

	"github.com/dsoprea/go-logging"
)

const (
	// DataUnitSize is the data-unit size used by volume headers and data
	// areas.
	DataUnitSize = 512

	// LargeDataUnitSize is the other data-unit size that the mode supports.
	LargeDataUnitSize = 4096
)

// Xts is one cipher in XTS mode. The buffers that it's given may span any
// number of data units, and the unit number advances at each unit boundary.
type Xts struct {
	dataUnitSize int
	c            *xts.Cipher
}

// NewXts keys `ci` in XTS mode. `key` is the data key followed by the tweak
// key.
func NewXts(ci CipherId, key []byte, dataUnitSize int) (x *Xts, err error) {
	if dataUnitSize != DataUnitSize && dataUnitSize != LargeDataUnitSize {
		return nil, log.Errorf("data-unit size not supported: (%d)", dataUnitSize)
	} else if len(key) != cipherKeySize*2 {
		return nil, log.Errorf("%s XTS key must be (%d) bytes: (%d)", ci, cipherKeySize*2, len(key))
	}

	c, err := xts.NewCipher(ci.NewBlock, key)
	if err != nil {
		return nil, log.Wrap(err)
	}

	x = &Xts{
		dataUnitSize: dataUnitSize,
		c:            c,
	}

	return x, nil
}

// DataUnitSize returns the data-unit size.
func (x *Xts) DataUnitSize() int {
	return x.dataUnitSize
}

// EncryptUnits encrypts `buffer` in place. The first byte of the buffer is the
// first byte of data unit `startUnit`.
func (x *Xts) EncryptUnits(buffer []byte, startUnit uint64) error {
	return x.transform(buffer, startUnit, true)
}

// DecryptUnits decrypts `buffer` in place.
func (x *Xts) DecryptUnits(buffer []byte, startUnit uint64) error {
	return x.transform(buffer, startUnit, false)
}

func (x *Xts) transform(buffer []byte, startUnit uint64, encrypt bool) error {
	if len(buffer)%cipherBlockSize != 0 {
		return log.Errorf("buffer length not a multiple of (%d): (%d)", cipherBlockSize, len(buffer))
	}

	unit := startUnit

	for offset := 0; offset < len(buffer); offset += x.dataUnitSize {
		end := offset + x.dataUnitSize
		if end > len(buffer) {
			end = len(buffer)
		}

		chunk := buffer[offset:end]

		if encrypt == true {
			x.c.Encrypt(chunk, chunk, unit)
		} else {
			x.c.Decrypt(chunk, chunk, unit)
		}

		unit++
	}

	return nil
}

// cascade is the XTS pipeline for one suite.
type cascade struct {
	stages []*Xts
}

// newCascade keys the suite's ciphers from `key`, which holds every data key
// followed by every tweak key, both in innermost-first order.
func newCascade(suite Suite, key []byte) (c *cascade, err error) {
	ciphers := suite.Ciphers()
	if len(ciphers) == 0 {
		return nil, log.Errorf("suite not valid: (%d)", int(suite))
	} else if len(key) < suite.KeySize() {
		return nil, log.Errorf("key material too short for %s: (%d) < (%d)", suite, len(key), suite.KeySize())
	}

	tweakKeysOffset := len(ciphers) * cipherKeySize
	stages := make([]*Xts, len(ciphers))

	xtsKey := make([]byte, cipherKeySize*2)
	defer zero(xtsKey)

	for i, ci := range ciphers {
		copy(xtsKey[:cipherKeySize], key[i*cipherKeySize:(i+1)*cipherKeySize])
		copy(xtsKey[cipherKeySize:], key[tweakKeysOffset+i*cipherKeySize:tweakKeysOffset+(i+1)*cipherKeySize])

		x, err := NewXts(ci, xtsKey, DataUnitSize)
		if err != nil {
			return nil, log.Wrap(err)
		}

		stages[i] = x
	}

	c = &cascade{
		stages: stages,
	}

	return c, nil
}

// Encrypt applies every cipher, innermost first.
func (c *cascade) Encrypt(buffer []byte, startUnit uint64) error {
	for _, x := range c.stages {
		err := x.EncryptUnits(buffer, startUnit)
		if err != nil {
			return err
		}
	}

	return nil
}

// Decrypt undoes Encrypt by applying the ciphers outermost first.
func (c *cascade) Decrypt(buffer []byte, startUnit uint64) error {
	for i := len(c.stages) - 1; i >= 0; i-- {
		err := c.stages[i].DecryptUnits(buffer, startUnit)
		if err != nil {
			return err
		}
	}

	return nil
}

// reset drops all cipher state.
func (c *cascade) reset() {
	for i := range c.stages {
		c.stages[i] = nil
	}

	c.stages = nil
}

// zero overwrites a buffer that held secret material.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
