package truecrypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/dsoprea/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/twofish"
	"golang.org/x/crypto/xts"
)

var (
	// XTS-AES-256, IEEE P1619/D16 annex B, vector 10.
	testXtsKey = strings.Join([]string{
		"2718281828459045235360287471352662497757247093699959574966967627",
		"3141592653589793238462643383279502884197169399375105820974944592",
	}, "")

	testXtsUnit = uint64(0xff)

	testXtsCiphertext = strings.Join([]string{
		"1c3b3a102f770386e4836c99e370cf9bea00803f5e482357a4ae12d414a3e63b",
		"5d31e276f8fe4a8d66b317f9ac683f44680a86ac35adfc3345befecb4bb188fd",
		"5776926c49a3095eb108fd1098baec70aaa66999a72a82f27d848b21d4a741b0",
		"c5cd4d5fff9dac89aeba122961d03a757123e9870f8acf1000020887891429ca",
		"2a3e7a7d7df7b10355165c8b9a6d0a7de8b062c4500dc4cd120c0f7418dae3d0",
		"b5781c34803fa75421c790dfe1de1834f280d7667b327f6c8cd7557e12ac3a0f",
		"93ec05c52e0493ef31a12d3d9260f79a289d6a379bc70c50841473d1a8cc81ec",
		"583e9645e07b8d9670655ba5bbcfecc6dc3966380ad8fecb17b6ba02469a020a",
		"84e18e8f84252070c13e9f1f289be54fbc481457778f616015e1327a02b140f1",
		"505eb309326d68378f8374595c849d84f4c333ec4423885143cb47bd71c5edae",
		"9be69a2ffeceb1bec9de244fbe15992b11b77c040f12bd8f6a975a44a0f90c29",
		"a9abc3d4d893927284c58754cce294529f8614dcd2aba991925fedc4ae74ffac",
		"6e333b93eb4aff0479da9a410e4450e0dd7ae4c6e2910900575da401fc07059f",
		"645e8b7e9bfdef33943054ff84011493c27b3429eaedb4ed5376441a77ed4385",
		"1ad77f16f541dfd269d50d6a5f14fb0aab1cbb4c1550be97f7ab4066193c4caa",
		"773dad38014bd2092fa755c824bb5e54c4f36ffda9fcea70b9c6e693e148c151",
	}, "")
)

func randomBytes(n int) []byte {
	b := make([]byte, n)

	_, err := rand.Read(b)
	log.PanicIf(err)

	return b
}

// testXtsPlaintext returns the bytes 0x00 through 0xff, twice.
func testXtsPlaintext() []byte {
	plaintext := make([]byte, DataUnitSize)
	for i := range plaintext {
		plaintext[i] = byte(i)
	}

	return plaintext
}

func newTwofish(key []byte) (cipher.Block, error) {
	return twofish.NewCipher(key)
}

func TestXts_KnownAnswer(t *testing.T) {
	x, err := NewXts(CipherAes, decodeHex(testXtsKey), DataUnitSize)
	require.NoError(t, err)

	buffer := testXtsPlaintext()

	err = x.EncryptUnits(buffer, testXtsUnit)
	require.NoError(t, err)

	assert.Equal(t, decodeHex(testXtsCiphertext), buffer)

	err = x.DecryptUnits(buffer, testXtsUnit)
	require.NoError(t, err)

	assert.Equal(t, testXtsPlaintext(), buffer)
}

func TestXts_RoundTrip(t *testing.T) {
	for _, ci := range []CipherId{CipherAes, CipherSerpent, CipherTwofish} {
		x, err := NewXts(ci, randomBytes(64), DataUnitSize)
		require.NoError(t, err, ci.String())

		for _, unit := range []uint64{0, 1, 255, 256, 0xffffffff, 0x123456789a} {
			original := randomBytes(DataUnitSize * 3)

			buffer := make([]byte, len(original))
			copy(buffer, original)

			err := x.EncryptUnits(buffer, unit)
			require.NoError(t, err)

			if bytes.Equal(buffer, original) == true {
				t.Fatalf("Encryption did not change the data for %s unit (%d).", ci, unit)
			}

			err = x.DecryptUnits(buffer, unit)
			require.NoError(t, err)

			if bytes.Equal(buffer, original) != true {
				t.Fatalf("Round-trip not correct for %s unit (%d).", ci, unit)
			}
		}
	}
}

func TestXts_MultipleUnits(t *testing.T) {
	key := randomBytes(64)

	reference, err := xts.NewCipher(aes.NewCipher, key)
	require.NoError(t, err)

	x, err := NewXts(CipherAes, key, DataUnitSize)
	require.NoError(t, err)

	plaintext := randomBytes(DataUnitSize * 8)

	actual := make([]byte, len(plaintext))
	copy(actual, plaintext)

	startUnit := uint64(1000)

	err = x.EncryptUnits(actual, startUnit)
	require.NoError(t, err)

	expected := make([]byte, len(plaintext))
	for i := 0; i < 8; i++ {
		offset := i * DataUnitSize
		reference.Encrypt(expected[offset:offset+DataUnitSize], plaintext[offset:offset+DataUnitSize], startUnit+uint64(i))
	}

	assert.Equal(t, expected, actual)
}

func TestXts_PartialUnit(t *testing.T) {
	key := randomBytes(64)

	reference, err := xts.NewCipher(aes.NewCipher, key)
	require.NoError(t, err)

	x, err := NewXts(CipherAes, key, DataUnitSize)
	require.NoError(t, err)

	// The encrypted region of a volume header is shorter than one unit.
	plaintext := randomBytes(headerEncryptedSize)

	actual := make([]byte, len(plaintext))
	copy(actual, plaintext)

	err = x.EncryptUnits(actual, 0)
	require.NoError(t, err)

	expected := make([]byte, len(plaintext))
	reference.Encrypt(expected, plaintext, 0)

	assert.Equal(t, expected, actual)
}

func TestXts_LargeDataUnit(t *testing.T) {
	key := randomBytes(64)

	reference, err := xts.NewCipher(aes.NewCipher, key)
	require.NoError(t, err)

	x, err := NewXts(CipherAes, key, LargeDataUnitSize)
	require.NoError(t, err)

	require.Equal(t, LargeDataUnitSize, x.DataUnitSize())

	plaintext := randomBytes(LargeDataUnitSize * 2)

	actual := make([]byte, len(plaintext))
	copy(actual, plaintext)

	err = x.EncryptUnits(actual, 7)
	require.NoError(t, err)

	expected := make([]byte, len(plaintext))
	reference.Encrypt(expected[:LargeDataUnitSize], plaintext[:LargeDataUnitSize], 7)
	reference.Encrypt(expected[LargeDataUnitSize:], plaintext[LargeDataUnitSize:], 8)

	assert.Equal(t, expected, actual)

	err = x.DecryptUnits(actual, 7)
	require.NoError(t, err)

	assert.Equal(t, plaintext, actual)
}

func TestXts_UnalignedBuffer(t *testing.T) {
	x, err := NewXts(CipherAes, randomBytes(64), DataUnitSize)
	require.NoError(t, err)

	err = x.EncryptUnits(make([]byte, 20), 0)
	if err == nil {
		t.Fatalf("Expected error for an unaligned buffer.")
	}
}

func TestNewXts_Invalid(t *testing.T) {
	_, err := NewXts(CipherAes, randomBytes(64), 1024)
	if err == nil {
		t.Fatalf("Expected error for an unsupported data-unit size.")
	}

	_, err = NewXts(CipherAes, randomBytes(32), DataUnitSize)
	if err == nil {
		t.Fatalf("Expected error for a short key.")
	}
}

func TestCascade_KnownAnswer(t *testing.T) {
	// With one cipher, the key material is the data key and then the tweak
	// key, which is the vector's key as-is.
	c, err := newCascade(SuiteAes, decodeHex(testXtsKey))
	require.NoError(t, err)

	buffer := testXtsPlaintext()

	err = c.Encrypt(buffer, testXtsUnit)
	require.NoError(t, err)

	assert.Equal(t, decodeHex(testXtsCiphertext), buffer)

	err = c.Decrypt(buffer, testXtsUnit)
	require.NoError(t, err)

	assert.Equal(t, testXtsPlaintext(), buffer)
}

func TestCascade_RoundTrip(t *testing.T) {
	for _, suite := range AllSuites {
		key := randomBytes(suite.KeySize())

		c, err := newCascade(suite, key)
		require.NoError(t, err, suite.String())

		original := randomBytes(DataUnitSize * 2)

		buffer := make([]byte, len(original))
		copy(buffer, original)

		err = c.Encrypt(buffer, 42)
		require.NoError(t, err)

		require.NotEqual(t, original, buffer, suite.String())

		err = c.Decrypt(buffer, 42)
		require.NoError(t, err)

		require.Equal(t, original, buffer, suite.String())
	}
}

func TestCascade_KeyLayout(t *testing.T) {
	key := randomBytes(SuiteAesTwofish.KeySize())

	c, err := newCascade(SuiteAesTwofish, key)
	require.NoError(t, err)

	// Twofish is applied first, with the first data key and the first tweak
	// key. AES is applied second, with the second of each.

	twofishKey := append(append([]byte{}, key[0:32]...), key[64:96]...)
	twofishXts, err := xts.NewCipher(newTwofish, twofishKey)
	require.NoError(t, err)

	aesKey := append(append([]byte{}, key[32:64]...), key[96:128]...)
	aesXts, err := xts.NewCipher(aes.NewCipher, aesKey)
	require.NoError(t, err)

	plaintext := randomBytes(DataUnitSize)

	expected := make([]byte, DataUnitSize)
	twofishXts.Encrypt(expected, plaintext, 9)
	aesXts.Encrypt(expected, expected, 9)

	actual := make([]byte, DataUnitSize)
	copy(actual, plaintext)

	err = c.Encrypt(actual, 9)
	require.NoError(t, err)

	assert.Equal(t, expected, actual)
}

func TestCascade_Reset(t *testing.T) {
	c, err := newCascade(SuiteSerpentTwofishAes, randomBytes(SuiteSerpentTwofishAes.KeySize()))
	require.NoError(t, err)

	require.Len(t, c.stages, 3)

	c.reset()

	assert.Len(t, c.stages, 0)
}

func TestNewCascade_ShortKey(t *testing.T) {
	_, err := newCascade(SuiteAesTwofishSerpent, make([]byte, 64))
	if err == nil {
		t.Fatalf("Expected error for short key material.")
	}
}
