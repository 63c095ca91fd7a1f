package custody

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"AgentVault/internal/envelope"
	"AgentVault/internal/secret"
)

// DefaultMasterKeyEnv 是默认读取主密钥的环境变量。
const DefaultMasterKeyEnv = "AGENTVAULT_MASTER_KEY"

var (
	// ErrMasterKeyMissing 表示未配置主密钥。
	ErrMasterKeyMissing = errors.New("custody: master key is not configured")
	// ErrMasterKeyMalformed 表示主密钥无法解码为 32 字节。
	ErrMasterKeyMalformed = errors.New("custody: master key must be 32 bytes encoded as hex or base64")
)

// MasterKeySource 描述主密钥的来源。Env 优先于 File。
type MasterKeySource struct {
	Env  string
	File string
}

// MasterKey 持有进程级主密钥。格式化输出只包含指纹。
type MasterKey struct {
	buf *secret.Buffer
	id  string
}

// LoadMasterKey 在启动时读取主密钥，缺失或格式错误时返回错误。
func LoadMasterKey(src MasterKeySource) (*MasterKey, error) {
	env := src.Env
	if env == "" {
		env = DefaultMasterKeyEnv
	}
	if value, ok := os.LookupEnv(env); ok && strings.TrimSpace(value) != "" {
		return ParseMasterKey(value)
	}
	if src.File != "" {
		raw, err := os.ReadFile(src.File)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s not found", ErrMasterKeyMissing, src.File)
			}
			return nil, fmt.Errorf("custody: read master key file: %w", err)
		}
		defer secret.Wipe(raw)
		return ParseMasterKey(string(raw))
	}
	return nil, fmt.Errorf("%w: set %s or custody.master_key_file", ErrMasterKeyMissing, env)
}

// ParseMasterKey 解码 64 位十六进制（可带 0x 前缀）或标准/URL base64 编码的密钥。
func ParseMasterKey(encoded string) (*MasterKey, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, ErrMasterKeyMissing
	}
	raw, err := decodeKey(encoded)
	if err != nil {
		return nil, err
	}
	return NewMasterKey(raw)
}

// NewMasterKey 接管 raw 并将其清零。
func NewMasterKey(raw []byte) (*MasterKey, error) {
	if len(raw) != envelope.KeySize {
		secret.Wipe(raw)
		return nil, ErrMasterKeyMalformed
	}
	id := envelope.Fingerprint(raw)
	buf, err := secret.FromBytes(raw)
	if err != nil {
		return nil, err
	}
	return &MasterKey{buf: buf, id: id}, nil
}

func decodeKey(encoded string) ([]byte, error) {
	hexForm := strings.TrimPrefix(strings.TrimPrefix(encoded, "0x"), "0X")
	if len(hexForm) == hex.EncodedLen(envelope.KeySize) {
		if raw, err := hex.DecodeString(hexForm); err == nil {
			return raw, nil
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		raw, err := enc.DecodeString(encoded)
		if err == nil {
			if len(raw) == envelope.KeySize {
				return raw, nil
			}
			secret.Wipe(raw)
		}
	}
	return nil, ErrMasterKeyMalformed
}

// ID 返回主密钥指纹。
func (k *MasterKey) ID() string {
	return k.id
}

// Close 清零主密钥。
func (k *MasterKey) Close() error {
	if k == nil {
		return nil
	}
	return k.buf.Close()
}

func (k *MasterKey) bytes() []byte {
	return k.buf.Bytes()
}

func (k *MasterKey) String() string {
	return "MasterKey(" + k.id + ")"
}

// GoString 覆盖 %#v，避免打印内部缓冲区。
func (k *MasterKey) GoString() string {
	return k.String()
}

// LogValue 实现 slog.LogValuer。
func (k *MasterKey) LogValue() slog.Value {
	return slog.StringValue(k.id)
}
