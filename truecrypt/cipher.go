// Package truecrypt unlocks and serves the data area of a volume in the
// TrueCrypt on-disk format: a password-protected header followed by sectors
// encrypted with XTS over one to three cascaded block ciphers.
package truecrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/aead/serpent"
	"golang.org/x/crypto/twofish"

	"github.com/dsoprea/go-logging"
)

const (
	// cipherKeySize is the key size of every supported cipher (256-bit).
	cipherKeySize = 32

	// cipherBlockSize is the block size every supported cipher must have.
	cipherBlockSize = 16
)

// CipherId identifies one primitive block cipher.
type CipherId int

const (
	CipherAes CipherId = iota
	CipherSerpent
	CipherTwofish
)

// String returns the name of the cipher.
func (ci CipherId) String() string {
	switch ci {
	case CipherAes:
		return "AES"
	case CipherSerpent:
		return "Serpent"
	case CipherTwofish:
		return "Twofish"
	}

	return fmt.Sprintf("CipherId<%d>", int(ci))
}

// NewBlock keys a new instance of the cipher. The key must be 32 bytes.
func (ci CipherId) NewBlock(key []byte) (block cipher.Block, err error) {
	if len(key) != cipherKeySize {
		return nil, log.Errorf("%s key must be (%d) bytes: (%d)", ci, cipherKeySize, len(key))
	}

	switch ci {
	case CipherAes:
		block, err = aes.NewCipher(key)
	case CipherSerpent:
		block, err = serpent.NewCipher(key)
	case CipherTwofish:
		block, err = twofish.NewCipher(key)
	default:
		return nil, log.Errorf("cipher not valid: (%d)", int(ci))
	}

	if err != nil {
		return nil, log.Wrap(err)
	}

	if block.BlockSize() != cipherBlockSize {
		return nil, log.Errorf("%s block-size not supported: (%d)", ci, block.BlockSize())
	}

	return block, nil
}
