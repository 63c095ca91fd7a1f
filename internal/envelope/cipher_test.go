package envelope

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
)

func newKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return key
}

func newCipher(t *testing.T, alg Algorithm) *Cipher {
	t.Helper()
	c, err := New(WithAlgorithm(alg))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	return c
}

func TestSealOpenRoundTrip(t *testing.T) {
	t.Parallel()

	for _, alg := range []Algorithm{AlgorithmAESGCM, AlgorithmChaCha20Poly1305} {
		c := newCipher(t, alg)
		key := newKey(t)
		plaintext := []byte("ed25519 secret key bytes go here")
		aad := []byte("agentvault/signing-key/v1|agent-1")

		bundle, err := c.Seal(key, plaintext, aad)
		if err != nil {
			t.Fatalf("%s seal: %v", alg, err)
		}
		if bundle.Algorithm != alg || len(bundle.Nonce) != NonceSize || len(bundle.Tag) != TagSize {
			t.Fatalf("%s unexpected bundle shape %+v", alg, bundle)
		}
		if len(bundle.Ciphertext) != len(plaintext) {
			t.Fatalf("%s ciphertext should exclude the tag", alg)
		}

		got, err := c.Open(key, bundle, aad)
		if err != nil {
			t.Fatalf("%s open: %v", alg, err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("%s round trip mismatch", alg)
		}
	}
}

func TestOpenRejectsEverySingleByteMutation(t *testing.T) {
	t.Parallel()

	c := newCipher(t, AlgorithmAESGCM)
	key := newKey(t)
	bundle, err := c.Seal(key, []byte("agent encryption key material!!!"), nil)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	fields := map[string]func(b *Bundle) []byte{
		"ciphertext": func(b *Bundle) []byte { return b.Ciphertext },
		"nonce":      func(b *Bundle) []byte { return b.Nonce },
		"tag":        func(b *Bundle) []byte { return b.Tag },
	}
	for name, field := range fields {
		for i := range field(&bundle) {
			mutated := bundle.Clone()
			field(&mutated)[i] ^= 0x01
			plaintext, err := c.Open(key, mutated, nil)
			if !errors.Is(err, ErrAuthentication) {
				t.Fatalf("%s[%d]: expected authentication failure, got %v", name, i, err)
			}
			if plaintext != nil {
				t.Fatalf("%s[%d]: plaintext returned on failure", name, i)
			}
		}
	}
}

func TestOpenWithWrongKeyOrAAD(t *testing.T) {
	t.Parallel()

	c := newCipher(t, AlgorithmChaCha20Poly1305)
	key := newKey(t)
	bundle, err := c.Seal(key, []byte("secret"), []byte("agent-a"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	_, err = c.Open(newKey(t), bundle, []byte("agent-a"))
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("wrong key: expected authentication failure, got %v", err)
	}
	if strings.Contains(err.Error(), hex.EncodeToString(key)) {
		t.Fatal("error message leaks key material")
	}

	if _, err := c.Open(key, bundle, []byte("agent-b")); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("swapped aad: expected authentication failure, got %v", err)
	}
}

func TestOpenRejectsUnknownAlgorithmAndBadKeys(t *testing.T) {
	t.Parallel()

	c := newCipher(t, AlgorithmAESGCM)
	key := newKey(t)
	bundle, err := c.Seal(key, []byte("secret"), nil)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	bundle.Algorithm = "rot13"
	if _, err := c.Open(key, bundle, nil); !errors.Is(err, ErrUnsupported) || !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected unsupported authentication failure, got %v", err)
	}

	if _, err := c.Seal(key[:16], []byte("x"), nil); !errors.Is(err, ErrKeySize) {
		t.Fatalf("expected key size error, got %v", err)
	}
}

func TestNoncesNeverRepeat(t *testing.T) {
	t.Parallel()

	c := newCipher(t, AlgorithmAESGCM)
	key := newKey(t)
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		bundle, err := c.Seal(key, []byte("same plaintext"), nil)
		if err != nil {
			t.Fatalf("seal %d: %v", i, err)
		}
		nonce := string(bundle.Nonce)
		if _, dup := seen[nonce]; dup {
			t.Fatalf("nonce repeated after %d seals", i)
		}
		seen[nonce] = struct{}{}
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("device unavailable") }

func TestSealFailsOnEntropyFailure(t *testing.T) {
	t.Parallel()

	for _, src := range []io.Reader{failingReader{}, bytes.NewReader([]byte{1, 2, 3})} {
		c, err := New(WithEntropy(src))
		if err != nil {
			t.Fatalf("new cipher: %v", err)
		}
		if _, err := c.Seal(newKey(t), []byte("secret"), nil); !errors.Is(err, ErrEntropy) {
			t.Fatalf("expected entropy failure, got %v", err)
		}
	}
}

func TestOpenToUsesDestination(t *testing.T) {
	t.Parallel()

	c := newCipher(t, AlgorithmAESGCM)
	key := newKey(t)
	bundle, err := c.Seal(key, []byte("0123456789abcdef"), nil)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	dst := make([]byte, 16)
	out, err := c.OpenTo(dst, key, bundle, nil)
	if err != nil {
		t.Fatalf("open to: %v", err)
	}
	if &out[0] != &dst[0] {
		t.Fatal("expected plaintext to be written into dst")
	}
}

func TestBundleJSONAndFingerprint(t *testing.T) {
	t.Parallel()

	c := newCipher(t, AlgorithmAESGCM)
	key := newKey(t)
	bundle, err := c.Seal(key, []byte("secret"), nil)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	bundle.KeyID = Fingerprint(key)

	raw, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"alg":"aes-256-gcm"`) || !strings.Contains(string(raw), `"nonce":"0x`) {
		t.Fatalf("unexpected layout %s", raw)
	}
	var decoded Bundle
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, err := c.Open(key, decoded, nil); err != nil {
		t.Fatalf("open decoded: %v", err)
	}

	if Fingerprint(key) != decoded.KeyID || Fingerprint(newKey(t)) == decoded.KeyID {
		t.Fatal("fingerprint should be stable per key and differ across keys")
	}
	if strings.Contains(decoded.KeyID, hex.EncodeToString(key)[:16]) {
		t.Fatal("fingerprint must not embed key bytes")
	}
}
