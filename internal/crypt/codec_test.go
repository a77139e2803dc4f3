package crypt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(fill byte) string {
	return "base64:" + base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{fill}, 32))
}

func newTestCodec(t *testing.T, current string, previous ...string) (*Codec, *Cipher) {
	t.Helper()
	kr, err := NewKeyring(current, previous)
	require.NoError(t, err)
	c, err := NewCipher(kr)
	require.NoError(t, err)
	return NewCodec(c), c
}

type sampleEntity struct{}

func (sampleEntity) EncryptedFields() Schema {
	return Schema{"name": String, "tags": JSON, "note": String}
}

func TestEncryptDecryptRoundTripStrings(t *testing.T) {
	codec, _ := newTestCodec(t, testKey(1))
	for _, v := range []string{"Create Files", "Document Management", "", "ünïcödé ✓", "a,b;c"} {
		sealed, err := codec.Encrypt(v)
		require.NoError(t, err)
		require.NotNil(t, sealed)
		assert.NotEqual(t, v, *sealed)
		assert.Equal(t, v, codec.Decrypt(sealed))
	}
}

func TestEncryptDecryptRoundTripArrays(t *testing.T) {
	codec, _ := newTestCodec(t, testKey(1))
	sealed, err := codec.Encrypt([]string{"Finance", "Legal"})
	require.NoError(t, err)

	got := codec.Decrypt(sealed)
	assert.Equal(t, []any{"Finance", "Legal"}, got)

	sealed, err = codec.Encrypt(map[string]any{"b": 2, "a": "x"})
	require.NoError(t, err)
	plain, ok := codec.DecryptString(*sealed)
	require.True(t, ok)
	assert.Equal(t, `{"a":"x","b":2}`, plain)
	assert.Equal(t, map[string]any{"a": "x", "b": json.Number("2")}, codec.Decrypt(sealed))
}

func TestEncryptCoercesScalars(t *testing.T) {
	codec, _ := newTestCodec(t, testKey(1))
	sealed, err := codec.Encrypt(42)
	require.NoError(t, err)
	plain, ok := codec.DecryptString(*sealed)
	require.True(t, ok)
	assert.Equal(t, "42", plain)
}

func TestNullSafety(t *testing.T) {
	codec, _ := newTestCodec(t, testKey(1))
	sealed, err := codec.Encrypt(nil)
	require.NoError(t, err)
	assert.Nil(t, sealed)

	var nilStr *string
	sealed, err = codec.Encrypt(nilStr)
	require.NoError(t, err)
	assert.Nil(t, sealed)

	assert.Nil(t, codec.Decrypt(nil))
}

func TestDecryptFallbackReturnsInput(t *testing.T) {
	var failures []string
	kr, err := NewKeyring(testKey(1), nil)
	require.NoError(t, err)
	c, err := NewCipher(kr)
	require.NoError(t, err)
	codec := NewCodec(c, WithFailureHook(func(entity, column string) {
		failures = append(failures, column)
	}))

	inputs := []string{
		"legacy plaintext name",
		"",
		"not base64 !!",
		base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{9}, 64)),
	}
	for _, in := range inputs {
		in := in
		assert.NotPanics(t, func() {
			assert.Equal(t, in, codec.Decrypt(&in))
		})
	}
	assert.Len(t, failures, len(inputs))
}

func TestDecryptDetectsTampering(t *testing.T) {
	codec, _ := newTestCodec(t, testKey(1))
	sealed, err := codec.Encrypt("View Files")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(*sealed)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	assert.Equal(t, tampered, codec.Decrypt(&tampered))
}

func TestDecryptWithWrongKeyFallsBack(t *testing.T) {
	a, _ := newTestCodec(t, testKey(1))
	b, _ := newTestCodec(t, testKey(2))
	sealed, err := a.Encrypt("Delete Files")
	require.NoError(t, err)
	assert.Equal(t, *sealed, b.Decrypt(sealed))
}

func TestPreviousKeysOpenOldValues(t *testing.T) {
	old, _ := newTestCodec(t, testKey(1))
	rotated, _ := newTestCodec(t, testKey(2), testKey(1))

	sealed, err := old.Encrypt("Edit Roles")
	require.NoError(t, err)
	assert.Equal(t, "Edit Roles", rotated.Decrypt(sealed))
}

func TestReseal(t *testing.T) {
	old, _ := newTestCodec(t, testKey(1))
	rotated, _ := newTestCodec(t, testKey(2), testKey(1))
	fresh, _ := newTestCodec(t, testKey(2))

	current, err := rotated.Encrypt("View Logs")
	require.NoError(t, err)
	out, changed, err := rotated.Reseal(*current)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, *current, out)

	legacyKey, err := old.Encrypt("View Logs")
	require.NoError(t, err)
	out, changed, err = rotated.Reseal(*legacyKey)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "View Logs", fresh.Decrypt(&out))

	out, changed, err = rotated.Reseal("plaintext row")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "plaintext row", fresh.Decrypt(&out))
}

func TestResealLeavesForeignCiphertext(t *testing.T) {
	dropped, _ := newTestCodec(t, testKey(9))
	rotated, _ := newTestCodec(t, testKey(2), testKey(1))

	foreign, err := dropped.Encrypt("Approve Files")
	require.NoError(t, err)
	out, changed, err := rotated.Reseal(*foreign)
	require.ErrorIs(t, err, ErrAuthentication)
	assert.False(t, changed)
	assert.Empty(t, out)
	assert.Equal(t, "Approve Files", dropped.Decrypt(foreign), "stored value must stay recoverable")

	// Short base64 is too small to be a payload and counts as plaintext.
	out, changed, err = rotated.Reseal("QUJD")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "QUJD", rotated.Decrypt(&out))
}

func TestSealAndOpenSchema(t *testing.T) {
	codec, _ := newTestCodec(t, testKey(1))
	row := Row{"id": int64(7), "name": "123", "tags": []string{"x"}, "note": nil}

	sealed, err := codec.Seal(sampleEntity{}, row)
	require.NoError(t, err)
	assert.Equal(t, int64(7), sealed["id"])
	require.NotNil(t, sealed.NullString("name"))
	assert.NotEqual(t, "123", sealed.String("name"))
	assert.Nil(t, sealed.NullString("note"))
	assert.Equal(t, "123", row["name"], "input row must not be mutated")

	opened, failed := codec.Open(sampleEntity{}, sealed)
	assert.Empty(t, failed)
	assert.Equal(t, "123", opened.String("name"), "string columns are not JSON-decoded")
	assert.Equal(t, []string{"x"}, opened.Strings("tags"))
	assert.Nil(t, opened["note"])
}

func TestSealSkipsAbsentColumns(t *testing.T) {
	codec, _ := newTestCodec(t, testKey(1))
	sealed, err := codec.Seal(sampleEntity{}, Row{"name": "a"})
	require.NoError(t, err)
	_, present := sealed["tags"]
	assert.False(t, present)
}

func TestOpenReportsFailedColumns(t *testing.T) {
	codec, _ := newTestCodec(t, testKey(1))
	good, err := codec.Encrypt("Tags")
	require.NoError(t, err)
	opened, failed := codec.Open(sampleEntity{}, Row{"name": "legacy", "note": good})
	assert.Equal(t, []string{"name"}, failed)
	assert.Equal(t, "legacy", opened.String("name"))
	assert.Equal(t, "Tags", opened.String("note"))
}

func TestEncryptFailureIsReturned(t *testing.T) {
	codec, c := newTestCodec(t, testKey(1))
	boom := errors.New("entropy exhausted")
	c.random = func([]byte) (int, error) { return 0, boom }

	_, err := codec.Encrypt("Create Users")
	require.ErrorIs(t, err, boom)

	_, err = codec.Seal(sampleEntity{}, Row{"name": "Create Users"})
	require.ErrorIs(t, err, boom)
}

func TestBlindIndex(t *testing.T) {
	a, _ := newTestCodec(t, testKey(1))
	b, _ := newTestCodec(t, testKey(2))
	assert.Equal(t, a.BlindIndex("dev@test.com"), a.BlindIndex("dev@test.com"))
	assert.NotEqual(t, a.BlindIndex("dev@test.com"), a.BlindIndex("admin@test.com"))
	assert.NotEqual(t, a.BlindIndex("dev@test.com"), b.BlindIndex("dev@test.com"))
	assert.Len(t, a.BlindIndex("x"), 64)
}

func TestBlindIndexesCoverPreviousKeys(t *testing.T) {
	old, _ := newTestCodec(t, testKey(1))
	rotated, _ := newTestCodec(t, testKey(2), testKey(1))
	fresh, _ := newTestCodec(t, testKey(2))

	hashes := rotated.BlindIndexes("dev@test.com")
	require.Len(t, hashes, 2)
	assert.Equal(t, fresh.BlindIndex("dev@test.com"), hashes[0])
	assert.Equal(t, rotated.BlindIndex("dev@test.com"), hashes[0])
	assert.Equal(t, old.BlindIndex("dev@test.com"), hashes[1])

	assert.Equal(t, []string{old.BlindIndex("x")}, old.BlindIndexes("x"))
}

func TestParseKey(t *testing.T) {
	_, err := ParseKey("")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = ParseKey("base64:" + base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = ParseKey("%%%")
	assert.ErrorIs(t, err, ErrInvalidKey)
	key, err := ParseKey(testKey(3))
	require.NoError(t, err)
	assert.Len(t, key, 32)

	assert.Equal(t, []string{"a", "b"}, SplitKeys(" a , ,b"))
	assert.Nil(t, SplitKeys("  "))
}
