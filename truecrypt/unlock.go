package truecrypt

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dsoprea/go-logging"
)

var (
	unlockLogger = log.NewLogger("truecrypt.unlock")
)

var (
	errHeaderUnlocked = errors.New("header unlocked")
)

// UnlockOptions narrows the header search. The zero value tries every suite
// with every PRF using one worker per CPU.
type UnlockOptions struct {
	// Workers is the number of concurrent key derivations. Zero means
	// runtime.NumCPU().
	Workers int

	// Suites are the suites to try. Empty means AllSuites.
	Suites []Suite

	// Prfs are the PRFs to try. Empty means AllPrfs.
	Prfs []Prf
}

func (uo *UnlockOptions) workers() int {
	if uo == nil || uo.Workers <= 0 {
		return runtime.NumCPU()
	}

	return uo.Workers
}

func (uo *UnlockOptions) suites() []Suite {
	if uo == nil || len(uo.Suites) == 0 {
		return AllSuites
	}

	return uo.Suites
}

func (uo *UnlockOptions) prfs() []Prf {
	if uo == nil || len(uo.Prfs) == 0 {
		return AllPrfs
	}

	return uo.Prfs
}

// unlockedHeader is the outcome of the one successful attempt.
type unlockedHeader struct {
	suite Suite
	prf   Prf

	// raw is the fully-decrypted header (salt included).
	raw []byte
}

// tryUnlock decrypts a private copy of the header with the key derived for
// one (suite, PRF) combination. It returns nil if the magic doesn't match.
// Every buffer it allocates is zeroed unless it's handed back.
func tryUnlock(encrypted, password []byte, suite Suite, prf Prf) (uh *unlockedHeader, err error) {
	header := make([]byte, HeaderSize)
	copy(header, encrypted)

	passwordCopy := make([]byte, len(password))
	copy(passwordCopy, password)

	defer zero(passwordCopy)

	key := prf.DeriveKey(passwordCopy, header[:headerSaltSize], suite.KeySize())
	defer zero(key)

	c, err := newCascade(suite, key)
	if err != nil {
		zero(header)
		return nil, log.Wrap(err)
	}

	defer c.reset()

	err = c.Decrypt(header[headerEncryptedOffset:], 0)
	if err != nil {
		zero(header)
		return nil, log.Wrap(err)
	}

	if bytes.Equal(header[headerMagicOffset:headerMagicOffset+len(headerMagic)], headerMagic) != true {
		zero(header)
		return nil, nil
	}

	uh = &unlockedHeader{
		suite: suite,
		prf:   prf,
		raw:   header,
	}

	return uh, nil
}

// unlockHeader searches every (suite, PRF) combination concurrently for the
// one that decrypts the header. The first match cancels the outstanding
// attempts. If `parent` is done before a match is found, its error is
// returned rather than ErrInvalidKey.
func unlockHeader(parent context.Context, encrypted, password []byte, options *UnlockOptions) (uh *unlockedHeader, err error) {
	if len(encrypted) != HeaderSize {
		return nil, log.Errorf("header must be (%d) bytes: (%d)", HeaderSize, len(encrypted))
	}

	g, ctx := errgroup.WithContext(parent)
	g.SetLimit(options.workers())

	var m sync.Mutex

	suites := options.suites()
	prfs := options.prfs()

	unlockLogger.Debugf(nil, "Trying (%d) suites with (%d) PRFs.", len(suites), len(prfs))

search:
	for _, prf := range prfs {
		for _, suite := range suites {
			if ctx.Err() != nil {
				break search
			}

			prf := prf
			suite := suite

			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}

				attempt, err := tryUnlock(encrypted, password, suite, prf)
				if err != nil {
					return err
				} else if attempt == nil {
					return nil
				}

				m.Lock()
				defer m.Unlock()

				if uh != nil {
					zero(attempt.raw)
					return nil
				}

				uh = attempt

				unlockLogger.Debugf(nil, "Header unlocked with suite [%s] and PRF [%s].", suite, prf)

				return errHeaderUnlocked
			})
		}
	}

	err = g.Wait()

	if uh != nil {
		return uh, nil
	} else if err != nil && err != errHeaderUnlocked {
		return nil, log.Wrap(err)
	} else if parent.Err() != nil {
		return nil, log.Wrap(parent.Err())
	}

	return nil, log.Wrap(ErrInvalidKey)
}
