package custody

import (
	"AgentVault/internal/envelope"
	xerrors "AgentVault/internal/errors"
	"AgentVault/internal/secret"
)

// KeyWrapper 是一层包裹：用固定密钥加密或解密另一把密钥。
type KeyWrapper interface {
	Wrap(plaintext, aad []byte) (envelope.Bundle, error)
	// Unwrap 返回的缓冲区由调用方负责 Close。
	Unwrap(bundle envelope.Bundle, aad []byte) (*secret.Buffer, error)
	KeyID() string
}

var (
	_ KeyWrapper = (*MasterWrapper)(nil)
	_ KeyWrapper = (*AEKWrapper)(nil)
)

// AEKAAD 把 AEK 密文绑定到所属 Agent 与包裹层。
func AEKAAD(agentID string) []byte {
	return []byte("agentvault/aek/v1|" + agentID)
}

// SigningKeyAAD 把私钥密文绑定到所属 Agent 与包裹层。
func SigningKeyAAD(agentID string) []byte {
	return []byte("agentvault/signing-key/v1|" + agentID)
}

// MasterWrapper 用主密钥包裹 AEK。
type MasterWrapper struct {
	cipher *envelope.Cipher
	key    *MasterKey
}

// NewMasterWrapper 创建主密钥包裹层。
func NewMasterWrapper(cipher *envelope.Cipher, key *MasterKey) *MasterWrapper {
	return &MasterWrapper{cipher: cipher, key: key}
}

// KeyID 返回主密钥指纹。
func (w *MasterWrapper) KeyID() string {
	return w.key.ID()
}

// Wrap 加密 AEK 并记录主密钥指纹。
func (w *MasterWrapper) Wrap(plaintext, aad []byte) (envelope.Bundle, error) {
	bundle, err := w.cipher.Seal(w.key.bytes(), plaintext, aad)
	if err != nil {
		return envelope.Bundle{}, translate(err, "wrap AEK failed")
	}
	bundle.KeyID = w.key.ID()
	return bundle, nil
}

// Unwrap 解密 AEK。密文记录的主密钥指纹与当前不符时直接拒绝，不尝试其他密钥。
func (w *MasterWrapper) Unwrap(bundle envelope.Bundle, aad []byte) (*secret.Buffer, error) {
	if bundle.KeyID != "" && bundle.KeyID != w.key.ID() {
		return nil, xerrors.New(CodeAuthenticationFailure, "bundle was wrapped by a different master key",
			xerrors.WithMetadata("bundle_kid", bundle.KeyID),
			xerrors.WithMetadata("loaded_kid", w.key.ID()))
	}
	return openInto(w.cipher, w.key.bytes(), bundle, aad, "unwrap AEK failed")
}

// AEKWrapper 用某个 Agent 的 AEK 包裹签名私钥。它不拥有 AEK 缓冲区。
type AEKWrapper struct {
	cipher *envelope.Cipher
	aek    *secret.Buffer
}

// NewAEKWrapper 创建 AEK 包裹层。
func NewAEKWrapper(cipher *envelope.Cipher, aek *secret.Buffer) *AEKWrapper {
	return &AEKWrapper{cipher: cipher, aek: aek}
}

// KeyID 对 AEK 层无意义，返回空串。
func (w *AEKWrapper) KeyID() string { return "" }

// Wrap 加密签名私钥。
func (w *AEKWrapper) Wrap(plaintext, aad []byte) (envelope.Bundle, error) {
	bundle, err := w.cipher.Seal(w.aek.Bytes(), plaintext, aad)
	if err != nil {
		return envelope.Bundle{}, translate(err, "wrap signing key failed")
	}
	return bundle, nil
}

// Unwrap 解密签名私钥。
func (w *AEKWrapper) Unwrap(bundle envelope.Bundle, aad []byte) (*secret.Buffer, error) {
	return openInto(w.cipher, w.aek.Bytes(), bundle, aad, "unwrap signing key failed")
}

// openInto 直接解密到 secret.Buffer，明文不经过 Go 堆。
func openInto(cipher *envelope.Cipher, key []byte, bundle envelope.Bundle, aad []byte, message string) (*secret.Buffer, error) {
	if len(bundle.Ciphertext) == 0 {
		return nil, xerrors.Wrap(CodeAuthenticationFailure, envelope.ErrAuthentication, message)
	}
	buf, err := secret.New(len(bundle.Ciphertext))
	if err != nil {
		return nil, translate(err, message)
	}
	if _, err := cipher.OpenTo(buf.Bytes(), key, bundle, aad); err != nil {
		buf.Close()
		return nil, translate(err, message)
	}
	return buf, nil
}
