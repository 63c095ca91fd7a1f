package solana

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"math/big"
	"testing"

	"github.com/mr-tron/base58"

	"AgentVault/internal/chain"
)

func testBlockhash() string {
	return base58.Encode(bytes.Repeat([]byte{7}, 32))
}

func TestGenerateKeyRoundTrip(t *testing.T) {
	t.Parallel()

	scheme := NewScheme()
	pub, priv, err := scheme.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(priv) != ed25519.PrivateKeySize {
		t.Fatalf("unexpected private key length %d", len(priv))
	}
	derived, err := scheme.PublicKey(priv)
	if err != nil || derived != pub {
		t.Fatalf("derived %q, %v; want %q", derived, err, pub)
	}
	if _, err := scheme.PublicKey(priv[:32]); !errors.Is(err, chain.ErrInvalidPrivateKey) {
		t.Fatalf("expected invalid key for truncated input, got %v", err)
	}
}

func TestParseAddress(t *testing.T) {
	t.Parallel()

	scheme := NewScheme()
	if got, err := scheme.ParseAddress(" " + SystemProgramID + " "); err != nil || got != SystemProgramID {
		t.Fatalf("ParseAddress(system program) = %q, %v", got, err)
	}
	for _, bad := range []string{"", "0OIl", "abc", "0x52908400098527886E0F7030069857D2E4169EE7"} {
		if _, err := scheme.ParseAddress(bad); !errors.Is(err, chain.ErrInvalidAddress) {
			t.Fatalf("ParseAddress(%q): expected invalid address, got %v", bad, err)
		}
	}
}

func TestBuildTransferMessageLayout(t *testing.T) {
	t.Parallel()

	scheme := NewScheme()
	from, _, _ := scheme.GenerateKey(rand.Reader)
	to, _, _ := scheme.GenerateKey(rand.Reader)

	tx, err := scheme.BuildTransfer(from, to, big.NewInt(1_500_000_000), chain.Marker{Reference: testBlockhash()})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	msg := tx.Payload
	// header(3) + count(1) + keys(96) + blockhash(32) + ixcount(1) + program(1)
	// + accounts(1+2) + data(1+12)
	if len(msg) != 3+1+96+32+1+1+3+13 {
		t.Fatalf("unexpected message length %d", len(msg))
	}
	if !bytes.Equal(msg[:4], []byte{1, 0, 1, 3}) {
		t.Fatalf("unexpected header %v", msg[:4])
	}
	fromRaw, _ := base58.Decode(from)
	toRaw, _ := base58.Decode(to)
	if !bytes.Equal(msg[4:36], fromRaw) || !bytes.Equal(msg[36:68], toRaw) || !bytes.Equal(msg[68:100], make([]byte, 32)) {
		t.Fatal("account keys are not [from, to, system program]")
	}
	data := msg[len(msg)-12:]
	if binary.LittleEndian.Uint32(data[:4]) != 2 || binary.LittleEndian.Uint64(data[4:]) != 1_500_000_000 {
		t.Fatalf("unexpected instruction data %x", data)
	}
}

func TestBuildTransferRejections(t *testing.T) {
	t.Parallel()

	scheme := NewScheme()
	from, _, _ := scheme.GenerateKey(rand.Reader)
	to, _, _ := scheme.GenerateKey(rand.Reader)
	marker := chain.Marker{Reference: testBlockhash()}

	if _, err := scheme.BuildTransfer(from, from, big.NewInt(1), marker); !errors.Is(err, chain.ErrSelfTransfer) {
		t.Fatalf("expected self transfer rejection, got %v", err)
	}
	tooLarge := new(big.Int).Lsh(big.NewInt(1), 64)
	if _, err := scheme.BuildTransfer(from, to, tooLarge, marker); !errors.Is(err, chain.ErrAmountRange) {
		t.Fatalf("expected amount range rejection, got %v", err)
	}
	if _, err := scheme.BuildTransfer(from, "nope", big.NewInt(1), marker); !errors.Is(err, chain.ErrInvalidAddress) {
		t.Fatalf("expected invalid address, got %v", err)
	}
	if _, err := scheme.BuildTransfer(from, to, big.NewInt(1), chain.Marker{}); err == nil {
		t.Fatal("expected missing blockhash to be rejected")
	}
}

func TestSignProducesVerifiableTransaction(t *testing.T) {
	t.Parallel()

	scheme := NewScheme()
	from, priv, _ := scheme.GenerateKey(rand.Reader)
	to, otherPriv, _ := scheme.GenerateKey(rand.Reader)

	tx, err := scheme.BuildTransfer(from, to, big.NewInt(10), chain.Marker{Reference: testBlockhash()})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	signed, err := scheme.Sign(tx, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if signed.Raw[0] != 1 {
		t.Fatalf("expected one signature, got %d", signed.Raw[0])
	}
	sig := signed.Raw[1:65]
	pub, _ := base58.Decode(from)
	if !ed25519.Verify(pub, signed.Raw[65:], sig) {
		t.Fatal("signature does not verify against the message")
	}
	if signed.ID != base58.Encode(sig) {
		t.Fatal("transaction id should be the base58 signature")
	}

	if _, err := scheme.Sign(tx, otherPriv); err == nil {
		t.Fatal("expected signing with a different key to fail")
	}
}
