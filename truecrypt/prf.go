package truecrypt

import (
	"crypto/sha512"
	"fmt"
	"hash"
	"strings"

	"github.com/jzelinskie/whirlpool"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/ripemd160"
)

// Prf identifies the digest used by PBKDF2 to stretch the password.
type Prf int

const (
	PrfRipemd160 Prf = iota
	PrfSha512
	PrfWhirlpool
)

// AllPrfs is every supported PRF, in the order that they're tried.
var AllPrfs = []Prf{
	PrfRipemd160,
	PrfSha512,
	PrfWhirlpool,
}

// Iterations is the fixed PBKDF2 iteration count used with the digest for
// non-system volumes.
func (prf Prf) Iterations() int {
	if prf == PrfRipemd160 {
		return 2000
	}

	return 1000
}

// Hash returns the digest constructor.
func (prf Prf) Hash() func() hash.Hash {
	switch prf {
	case PrfRipemd160:
		return ripemd160.New
	case PrfSha512:
		return sha512.New
	case PrfWhirlpool:
		return whirlpool.New
	}

	return nil
}

// DeriveKey stretches the password into `length` key bytes. Calls are
// independent and may run concurrently.
func (prf Prf) DeriveKey(password, salt []byte, length int) []byte {
	return pbkdf2.Key(password, salt, prf.Iterations(), length, prf.Hash())
}

// String returns the name of the digest.
func (prf Prf) String() string {
	switch prf {
	case PrfRipemd160:
		return "RIPEMD-160"
	case PrfSha512:
		return "SHA-512"
	case PrfWhirlpool:
		return "Whirlpool"
	}

	return fmt.Sprintf("Prf<%d>", int(prf))
}

// ParsePrf finds a PRF by name (case-insensitive).
func ParsePrf(name string) (prf Prf, found bool) {
	for _, prf := range AllPrfs {
		if strings.EqualFold(prf.String(), name) == true {
			return prf, true
		}
	}

	return 0, false
}
