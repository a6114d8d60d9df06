package pagestore

import (
	"bytes"
	"testing"

	"github.com/dsoprea/go-logging"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func getTestStore(t *testing.T, size int) (fs afero.Fs, fps *FilePageStore) {
	fs = afero.NewMemMapFs()

	err := afero.WriteFile(fs, "/store.bin", make([]byte, size), 0644)
	log.PanicIf(err)

	fps, err = OpenFilePageStore(fs, "/store.bin", 512, true)
	log.PanicIf(err)

	return fs, fps
}

func TestFilePageStore_Geometry(t *testing.T) {
	_, fps := getTestStore(t, 512*10+100)

	defer fps.Close()

	require.Equal(t, uint64(10), fps.PageCount())
	require.Equal(t, 512, fps.PageSize())
}

func TestFilePageStore_WriteAndRead(t *testing.T) {
	fs, fps := getTestStore(t, 512*4)

	data := bytes.Repeat([]byte{0xab}, 1024)

	err := fps.WritePages(2, data)
	require.NoError(t, err)

	recovered := make([]byte, 1024)

	err = fps.ReadPages(2, recovered)
	require.NoError(t, err)
	require.Equal(t, data, recovered)

	err = fps.Flush()
	require.NoError(t, err)

	err = fps.Close()
	require.NoError(t, err)

	raw, err := afero.ReadFile(fs, "/store.bin")
	log.PanicIf(err)

	require.Equal(t, data, raw[1024:])
	require.Equal(t, make([]byte, 1024), raw[:1024])
}

func TestFilePageStore_ReadPages__OutOfRange(t *testing.T) {
	_, fps := getTestStore(t, 512*4)

	defer fps.Close()

	err := fps.ReadPages(3, make([]byte, 1024))
	require.Error(t, err)
	require.True(t, log.Is(err, ErrPageOutOfRange))

	err = fps.WritePages(4, make([]byte, 512))
	require.True(t, log.Is(err, ErrPageOutOfRange))
}

func TestFilePageStore_ReadPages__Unaligned(t *testing.T) {
	_, fps := getTestStore(t, 512*4)

	defer fps.Close()

	err := fps.ReadPages(0, make([]byte, 100))
	require.True(t, log.Is(err, ErrUnalignedBuffer))
}

func TestFilePageStore_Close__Idempotent(t *testing.T) {
	_, fps := getTestStore(t, 512*4)

	err := fps.Close()
	require.NoError(t, err)

	err = fps.Close()
	require.NoError(t, err)

	err = fps.ReadPages(0, make([]byte, 512))
	require.True(t, log.Is(err, ErrClosed))
}

func TestNewFilePageStore__BadPageSize(t *testing.T) {
	fs := afero.NewMemMapFs()

	f, err := fs.Create("/x")
	log.PanicIf(err)

	_, err = NewFilePageStore(f, 100)
	require.True(t, log.Is(err, ErrUnsupportedPageSize))
}
