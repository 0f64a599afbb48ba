package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/deepmark/deepmark/internal/ingest"
	"github.com/deepmark/deepmark/internal/vault"
)

// SampleJPEG returns a minimal valid JPEG, distinguished by seed so
// distinct calls produce distinct content hashes when fed through a real
// fingerprinter.
func SampleJPEG(seed uint8) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: seed, G: uint8(x * 16), B: uint8(y * 16), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		panic(fmt.Sprintf("testutil: encoding sample jpeg: %v", err))
	}
	return buf.Bytes()
}

// SampleMasterKeyVault returns a KeyVault backed by a fixed, deterministic
// 32-byte key, for tests that need real envelope encryption without
// resolving a key reference from the environment or keychain.
func SampleMasterKeyVault() *vault.KeyVault {
	key := bytes.Repeat([]byte{0x42}, 32)
	kv, err := vault.NewKeyVaultFromBytes(key)
	if err != nil {
		panic(fmt.Sprintf("testutil: building sample key vault: %v", err))
	}
	return kv
}

// SampleUser builds a UserRecord whose SecurityKey is a real
// vault-encrypted per-user key, generated from kv, suitable for exercising
// stamp-token round-trips end to end.
func SampleUser(kv *vault.KeyVault, userID, username string) *ingest.UserRecord {
	encryptedKey, err := kv.GenerateUserKey()
	if err != nil {
		panic(fmt.Sprintf("testutil: generating sample user key: %v", err))
	}
	return &ingest.UserRecord{
		UserID:      userID,
		Username:    username,
		SecurityKey: encryptedKey,
	}
}
