// Package chain defines the boundary between the wallet pipeline and a
// blockchain family: a pure local Scheme (keys, addresses, transaction
// encoding, signing) and a network RPC (recency marker, dry run, submission,
// balance).
package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
)

// Family identifies a chain family.
type Family string

const (
	FamilySolana Family = "solana"
	FamilyEVM    Family = "evm"
)

var (
	// ErrInvalidAddress is returned by ParseAddress for malformed recipients.
	ErrInvalidAddress = errors.New("chain: invalid address")
	// ErrInvalidPrivateKey is returned when key bytes do not form a key for
	// the scheme.
	ErrInvalidPrivateKey = errors.New("chain: invalid private key")
	// ErrAmountRange reports an amount the chain's transfer encoding cannot
	// represent.
	ErrAmountRange = errors.New("chain: amount out of range")
	// ErrSelfTransfer rejects transfers whose recipient is the sender when
	// the chain cannot encode them.
	ErrSelfTransfer = errors.New("chain: recipient equals sender")
)

// Marker carries the recency data a transaction must embed. Solana uses
// Reference (recent blockhash) and LastValidHeight; EVM uses Nonce, ChainID,
// the fee caps and Reference (head block hash).
type Marker struct {
	Reference       string
	Height          uint64
	LastValidHeight uint64
	Nonce           uint64
	ChainID         *big.Int
	GasTipCap       *big.Int
	GasFeeCap       *big.Int
	GasLimit        uint64
}

// UnsignedTx is a fully built native transfer awaiting a signature. Payload
// is the chain-native encoding that gets signed.
type UnsignedTx struct {
	Family  Family
	From    string
	To      string
	Amount  *big.Int
	Marker  Marker
	Payload []byte
}

// SignedTx is ready for submission.
type SignedTx struct {
	Family Family
	// ID is the chain-native transaction identifier (signature or hash).
	ID  string
	Raw []byte
}

// Scheme performs all local, deterministic work for a chain family.
type Scheme interface {
	Family() Family
	Symbol() string
	Decimals() int
	// GenerateKey draws a new keypair from entropy. The caller owns and must
	// wipe the returned private key bytes.
	GenerateKey(entropy io.Reader) (publicKey string, privateKey []byte, err error)
	PublicKey(privateKey []byte) (string, error)
	// ParseAddress returns the canonical form of a recipient or
	// ErrInvalidAddress.
	ParseAddress(address string) (string, error)
	BuildTransfer(from, to string, amount *big.Int, marker Marker) (*UnsignedTx, error)
	Sign(tx *UnsignedTx, privateKey []byte) (*SignedTx, error)
}

// RPC is the network collaborator for one chain.
type RPC interface {
	RecencyMarker(ctx context.Context, from string) (Marker, error)
	// Simulate dry-runs tx. An execution failure reported by the node is a
	// *SimulationError; any other error means the node could not be asked.
	Simulate(ctx context.Context, tx *UnsignedTx) error
	Submit(ctx context.Context, tx *SignedTx) (string, error)
	Balance(ctx context.Context, address string) (*big.Int, error)
	Close()
}

// SimulationError carries the reason a dry run rejected a transaction.
type SimulationError struct {
	Reason string
	Logs   []string
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation failed: %s", e.Reason)
}

// Network binds a configured chain name to its scheme and RPC.
type Network struct {
	Name        string
	Description string
	Scheme      Scheme
	RPC         RPC
}
