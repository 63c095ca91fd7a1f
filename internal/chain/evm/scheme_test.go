package evm

import (
	"bytes"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"

	"AgentVault/internal/chain"
)

func testMarker() chain.Marker {
	return chain.Marker{
		Nonce:     3,
		ChainID:   big.NewInt(1337),
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(3_000_000_000),
	}
}

func TestSchemeKeysAndAddresses(t *testing.T) {
	t.Parallel()

	scheme := NewScheme("")
	addr, priv, err := scheme.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(priv) != 32 || !strings.HasPrefix(addr, "0x") {
		t.Fatalf("unexpected key material shape %q/%d", addr, len(priv))
	}
	derived, err := scheme.PublicKey(priv)
	if err != nil || derived != addr {
		t.Fatalf("derived %q, %v; want %q", derived, err, addr)
	}

	canonical, err := scheme.ParseAddress(strings.ToLower(addr))
	if err != nil || canonical != addr {
		t.Fatalf("ParseAddress lower-case = %q, %v", canonical, err)
	}
	for _, bad := range []string{"", "0x123", "0x0000000000000000000000000000000000000000", "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"} {
		if _, err := scheme.ParseAddress(bad); !errors.Is(err, chain.ErrInvalidAddress) {
			t.Fatalf("ParseAddress(%q): expected invalid, got %v", bad, err)
		}
	}
	if scheme.Symbol() != "ETH" || NewScheme("MATIC").Symbol() != "MATIC" {
		t.Fatal("unexpected symbol handling")
	}
}

func TestGenerateKeyFailsOnShortEntropy(t *testing.T) {
	t.Parallel()

	if _, _, err := NewScheme("").GenerateKey(bytes.NewReader(make([]byte, 10))); err == nil {
		t.Fatal("expected short entropy to fail")
	}
	// An all-zero scalar is not a valid key and never terminates on its own.
	if _, _, err := NewScheme("").GenerateKey(bytes.NewReader(make([]byte, 32*maxKeyAttempts))); err == nil {
		t.Fatal("expected zero entropy to be rejected")
	}
}

func TestBuildAndSignDynamicFeeTx(t *testing.T) {
	t.Parallel()

	scheme := NewScheme("")
	from, priv, _ := scheme.GenerateKey(rand.Reader)
	to, otherPriv, _ := scheme.GenerateKey(rand.Reader)

	utx, err := scheme.BuildTransfer(from, to, big.NewInt(42), testMarker())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if utx.Marker.GasLimit != TransferGas {
		t.Fatalf("unexpected gas limit %d", utx.Marker.GasLimit)
	}

	signed, err := scheme.Sign(utx, priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(signed.Raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tx.Type() != types.DynamicFeeTxType || tx.Nonce() != 3 || tx.Value().Int64() != 42 {
		t.Fatalf("unexpected transaction %+v", tx)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1337)), tx)
	if err != nil || sender.Hex() != from {
		t.Fatalf("recovered sender %s, %v; want %s", sender.Hex(), err, from)
	}

	if _, err := scheme.Sign(utx, otherPriv); err == nil {
		t.Fatal("expected signing with a foreign key to fail")
	}
	if _, err := scheme.BuildTransfer(from, to, big.NewInt(0), testMarker()); !errors.Is(err, chain.ErrAmountRange) {
		t.Fatalf("expected zero amount rejection, got %v", err)
	}
	if _, err := scheme.BuildTransfer(from, to, big.NewInt(1), chain.Marker{}); err == nil {
		t.Fatal("expected incomplete marker to be rejected")
	}
}
