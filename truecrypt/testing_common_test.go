package truecrypt

import (
	"testing"

	"github.com/dsoprea/go-logging"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/dsoprea/go-fat32/pagestore"
)

var (
	testPassword = []byte("password")

	// testOptions keep the unlock to a single combination where a test
	// doesn't care about the search itself.
	testOptions = &UnlockOptions{
		Suites: []Suite{SuiteAes},
		Prfs:   []Prf{PrfSha512},
	}
)

// newMemoryStore returns a page-store over a zero-filled in-memory file.
func newMemoryStore(t *testing.T, pageCount int) (fs afero.Fs, fps *pagestore.FilePageStore) {
	fs = afero.NewMemMapFs()

	f, err := fs.Create("/volume.tc")
	log.PanicIf(err)

	err = f.Truncate(int64(pageCount) * DataUnitSize)
	log.PanicIf(err)

	fps, err = pagestore.NewFilePageStore(f, DataUnitSize)
	require.NoError(t, err)

	return fs, fps
}

// newTestVolume creates a volume with `dataPages` sectors and returns the raw
// store that it lives on.
func newTestVolume(t *testing.T, dataPages int, suite Suite, prf Prf) *pagestore.FilePageStore {
	_, fps := newMemoryStore(t, DataAreaOffset/DataUnitSize+dataPages)

	err := CreateVolume(fps, testPassword, CreateOptions{
		Suite:     suite,
		Prf:       prf,
		DataPages: uint64(dataPages),
	})

	require.NoError(t, err)

	return fps
}

// writeEncryptedHeader encrypts `raw` with the header key and stores it as
// page zero.
func writeEncryptedHeader(t *testing.T, ps pagestore.PageStore, raw []byte, suite Suite, prf Prf) {
	encrypted := make([]byte, HeaderSize)
	copy(encrypted, raw)

	key := prf.DeriveKey(testPassword, encrypted[:headerSaltSize], suite.KeySize())

	c, err := newCascade(suite, key)
	require.NoError(t, err)

	err = c.Encrypt(encrypted[headerEncryptedOffset:], 0)
	require.NoError(t, err)

	err = ps.WritePages(0, encrypted)
	require.NoError(t, err)
}
