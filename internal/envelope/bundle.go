package envelope

import (
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/zeebo/blake3"
)

const fingerprintContext = "AgentVault 2026-01 key fingerprint v1"

// Bundle is the persisted form of one sealed secret. Byte fields marshal as
// 0x-prefixed hex.
type Bundle struct {
	Algorithm  Algorithm     `json:"alg"`
	Ciphertext hexutil.Bytes `json:"ciphertext"`
	Nonce      hexutil.Bytes `json:"nonce"`
	Tag        hexutil.Bytes `json:"tag"`
	// KeyID identifies the wrapping key when it is long lived (the master
	// key). Empty for bundles wrapped by a per-agent key.
	KeyID string `json:"kid,omitempty"`
}

// IsZero reports whether the bundle holds no sealed data.
func (b Bundle) IsZero() bool {
	return len(b.Ciphertext) == 0 && len(b.Nonce) == 0 && len(b.Tag) == 0
}

// Clone returns a deep copy so stored records never share byte slices.
func (b Bundle) Clone() Bundle {
	return Bundle{
		Algorithm:  b.Algorithm,
		Ciphertext: append(hexutil.Bytes(nil), b.Ciphertext...),
		Nonce:      append(hexutil.Bytes(nil), b.Nonce...),
		Tag:        append(hexutil.Bytes(nil), b.Tag...),
		KeyID:      b.KeyID,
	}
}

// Fingerprint returns a short public identifier for key. It is a BLAKE3
// derived key, so it reveals nothing about the key itself.
func Fingerprint(key []byte) string {
	var out [8]byte
	blake3.DeriveKey(fingerprintContext, key, out[:])
	return "mk_" + hex.EncodeToString(out[:])
}
