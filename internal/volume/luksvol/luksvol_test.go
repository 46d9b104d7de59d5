package luksvol

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/fidolock/internal/cryptox"
	"github.com/dmitrijs2005/fidolock/internal/volume"
)

// дорогой argon2 в юнит-тестах не нужен
func cheapKDF() *cryptox.KDFParams {
	return &cryptox.KDFParams{Time: 1, MemoryKB: 64, Threads: 1}
}

func formatVolume(t *testing.T, passphrase string) *Volume {
	t.Helper()
	v, err := Format(filepath.Join(t.TempDir(), "volume.hdr"), []byte(passphrase), FormatOptions{KDF: cheapKDF()})
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })
	return v
}

func TestFormat_CreatesOpenableVolume(t *testing.T) {
	v := formatVolume(t, "passphrase-0")

	require.NotEmpty(t, v.UUID())

	key, slot, err := v.UnwrapAnySlot([]byte("passphrase-0"))
	require.NoError(t, err)
	require.Equal(t, 0, slot)
	require.Len(t, key, MasterKeySize)

	// переопределение KDF из опций должно дойти до слота
	require.Equal(t, *cheapKDF(), v.hdr.Keyslots["0"].Params)
}

func TestFormat_RefusesExistingPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.hdr")

	v, err := Format(path, []byte("pass"), FormatOptions{KDF: cheapKDF()})
	require.NoError(t, err)
	require.NoError(t, v.Close())

	_, err = Format(path, []byte("pass"), FormatOptions{KDF: cheapKDF()})
	require.Error(t, err)
}

func TestFormat_FixedUUIDAndLabel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.hdr")

	v, err := Format(path, []byte("pass"), FormatOptions{
		UUID:  "f2d1ab6e-7c7f-4b1a-9e55-0123456789ab",
		Label: "backups",
		KDF:   cheapKDF(),
	})
	require.NoError(t, err)
	defer v.Close()

	require.Equal(t, "f2d1ab6e-7c7f-4b1a-9e55-0123456789ab", v.UUID())
	require.Equal(t, "backups", v.Label())
}

func TestOpen_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.hdr")

	v, err := Format(path, []byte("passphrase-0"), FormatOptions{KDF: cheapKDF()})
	require.NoError(t, err)
	id := v.UUID()
	require.NoError(t, v.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, id, reopened.UUID())
	_, slot, err := reopened.UnwrapAnySlot([]byte("passphrase-0"))
	require.NoError(t, err)
	require.Equal(t, 0, slot)
}

func TestAddSlotByKey_SecondSlot(t *testing.T) {
	v := formatVolume(t, "passphrase-0")

	key, _, err := v.UnwrapAnySlot([]byte("passphrase-0"))
	require.NoError(t, err)

	slot, err := v.AddSlotByKey(key, []byte("passphrase-1"))
	require.NoError(t, err)
	require.Equal(t, 1, slot)

	// обе парольные фразы открывают один и тот же мастер-ключ
	key1, _, err := v.UnwrapAnySlot([]byte("passphrase-1"))
	require.NoError(t, err)
	require.Equal(t, key, key1)
}

func TestAddSlotByKey_RejectsWrongKey(t *testing.T) {
	v := formatVolume(t, "passphrase-0")

	wrong := make([]byte, MasterKeySize)
	_, err := v.AddSlotByKey(wrong, []byte("passphrase-1"))
	require.ErrorIs(t, err, volume.ErrKeyMismatch)
}

func TestAddSlotByKey_NoFreeSlot(t *testing.T) {
	v := formatVolume(t, "passphrase-0")

	key, _, err := v.UnwrapAnySlot([]byte("passphrase-0"))
	require.NoError(t, err)

	for i := 1; i < MaxSlots; i++ {
		_, err := v.AddSlotByKey(key, []byte("extra"))
		require.NoError(t, err)
	}

	_, err = v.AddSlotByKey(key, []byte("one-too-many"))
	require.ErrorIs(t, err, volume.ErrNoFreeSlot)
}

func TestSetMinimalKDF_AffectsNewSlots(t *testing.T) {
	v := formatVolume(t, "passphrase-0")

	key, _, err := v.UnwrapAnySlot([]byte("passphrase-0"))
	require.NoError(t, err)

	v.SetMinimalKDF()
	slot, err := v.AddSlotByKey(key, []byte("high-entropy-secret"))
	require.NoError(t, err)

	ks := v.hdr.Keyslots["1"]
	require.NotNil(t, ks)
	require.Equal(t, cryptox.MinimalKDFParams(), ks.Params)
	require.Equal(t, 1, slot)

	// слот с минимальным KDF открывается как обычный
	got, err := v.UnwrapSlot(slot, []byte("high-entropy-secret"))
	require.NoError(t, err)
	require.Equal(t, key, got)

	// действие одноразовое: следующий слот снова с обычной стоимостью
	_, err = v.AddSlotByKey(key, []byte("ordinary-passphrase"))
	require.NoError(t, err)
	require.Equal(t, *cheapKDF(), v.hdr.Keyslots["2"].Params)
}

func TestUnwrapSlot_Errors(t *testing.T) {
	v := formatVolume(t, "passphrase-0")

	_, err := v.UnwrapSlot(5, []byte("passphrase-0"))
	require.ErrorIs(t, err, volume.ErrSlotNotFound)

	_, err = v.UnwrapSlot(0, []byte("wrong"))
	require.ErrorIs(t, err, volume.ErrWrongPassphrase)
}

func TestUnwrapAnySlot_WrongPassphrase(t *testing.T) {
	v := formatVolume(t, "passphrase-0")

	_, _, err := v.UnwrapAnySlot([]byte("nope"))
	require.ErrorIs(t, err, volume.ErrWrongPassphrase)
}

func TestRemoveSlot(t *testing.T) {
	v := formatVolume(t, "passphrase-0")

	require.NoError(t, v.RemoveSlot(0))
	require.ErrorIs(t, v.RemoveSlot(0), volume.ErrSlotNotFound)

	_, _, err := v.UnwrapAnySlot([]byte("passphrase-0"))
	require.ErrorIs(t, err, volume.ErrWrongPassphrase)
}

func TestTokens_AddListRemove(t *testing.T) {
	v := formatVolume(t, "passphrase-0")

	raw := json.RawMessage(`{"type":"fidolock-fido2","keyslots":["1"],"fido2-rp":"io.fidolock.cryptsetup"}`)
	id, err := v.AddToken(raw)
	require.NoError(t, err)
	require.Equal(t, 0, id)

	id2, err := v.AddToken(json.RawMessage(`{"type":"fidolock-recovery","keyslots":["2"]}`))
	require.NoError(t, err)
	require.Equal(t, 1, id2)

	tokens := v.Tokens()
	require.Len(t, tokens, 2)
	require.JSONEq(t, string(raw), string(tokens[0]))

	require.NoError(t, v.RemoveToken(0))
	require.ErrorIs(t, v.RemoveToken(0), volume.ErrTokenNotFound)
	require.Len(t, v.Tokens(), 1)
}

func TestAddToken_ReusesFreedID(t *testing.T) {
	v := formatVolume(t, "passphrase-0")

	_, err := v.AddToken(json.RawMessage(`{"type":"a","keyslots":[]}`))
	require.NoError(t, err)
	_, err = v.AddToken(json.RawMessage(`{"type":"b","keyslots":[]}`))
	require.NoError(t, err)

	require.NoError(t, v.RemoveToken(0))

	id, err := v.AddToken(json.RawMessage(`{"type":"c","keyslots":[]}`))
	require.NoError(t, err)
	require.Equal(t, 0, id)
}

func TestAddToken_RejectsUntyped(t *testing.T) {
	v := formatVolume(t, "passphrase-0")

	_, err := v.AddToken(json.RawMessage(`{"keyslots":[]}`))
	require.Error(t, err)

	_, err = v.AddToken(json.RawMessage(`not json`))
	require.Error(t, err)
}

func TestSave_PersistsTokensAndSlots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.hdr")

	v, err := Format(path, []byte("passphrase-0"), FormatOptions{KDF: cheapKDF()})
	require.NoError(t, err)

	key, _, err := v.UnwrapAnySlot([]byte("passphrase-0"))
	require.NoError(t, err)
	_, err = v.AddSlotByKey(key, []byte("passphrase-1"))
	require.NoError(t, err)
	_, err = v.AddToken(json.RawMessage(`{"type":"fidolock-fido2","keyslots":["1"]}`))
	require.NoError(t, err)
	require.NoError(t, v.Save())
	require.NoError(t, v.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	require.Len(t, reopened.Tokens(), 1)
	_, slot, err := reopened.UnwrapAnySlot([]byte("passphrase-1"))
	require.NoError(t, err)
	require.Equal(t, 1, slot)
}

func TestSave_UnsavedChangesStayInMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.hdr")

	v, err := Format(path, []byte("passphrase-0"), FormatOptions{KDF: cheapKDF()})
	require.NoError(t, err)

	_, err = v.AddToken(json.RawMessage(`{"type":"fidolock-fido2","keyslots":["1"]}`))
	require.NoError(t, err)
	// без Save токен не должен попасть на диск
	require.NoError(t, v.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	require.Empty(t, reopened.Tokens())
}

func TestOpen_CorruptHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.hdr")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

	_, err := Open(path)
	require.ErrorIs(t, err, volume.ErrHeaderCorrupt)
}

func TestOpen_UnsupportedVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volume.hdr")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":99}`), 0o600))

	_, err := Open(path)
	require.ErrorIs(t, err, volume.ErrHeaderCorrupt)
}

func TestUnwrapSlot_TamperedDigest(t *testing.T) {
	v := formatVolume(t, "passphrase-0")

	v.hdr.Digest.Sum[0] ^= 0xff
	_, err := v.UnwrapSlot(0, []byte("passphrase-0"))
	require.ErrorIs(t, err, volume.ErrHeaderCorrupt)
}

func TestOpen_LockedByAnotherHandle(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("flock")
	}
	path := filepath.Join(t.TempDir(), "volume.hdr")

	v, err := Format(path, []byte("pass"), FormatOptions{KDF: cheapKDF()})
	require.NoError(t, err)
	defer v.Close()

	_, err = Open(path)
	require.Error(t, err, "second open should fail while the lock is held")
}
