// Package eip712 hashes station requests as EIP-712 typed data so wallets can
// sign them and the HTTP layer can recover the caller.
package eip712

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Domain identifies the signing context. Signatures for one station or chain
// do not verify against another.
type Domain struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	ChainID string `json:"chainId"`
	Station string `json:"station"`
}

// Request is the signed message. Body is the raw request body; it is hashed
// before encoding. Nonce lets a client send the same request twice within
// one second.
type Request struct {
	Operation string `json:"operation"`
	Body      []byte `json:"-"`
	IssuedAt  int64  `json:"issuedAt"`
	Nonce     string `json:"nonce"`
}

var (
	domainTypeHash  = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId,string station)"))
	requestTypeHash = crypto.Keccak256Hash([]byte("StationRequest(string operation,bytes32 bodyHash,uint256 issuedAt,string nonce)"))
)

// padLeft32 returns the 32-byte big-endian encoding of i.
func padLeft32(i *big.Int) []byte {
	return common.LeftPadBytes(i.Bytes(), 32)
}

func stringToBig(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid unsigned decimal %q", s)
	}
	return n, nil
}

// DomainSeparator computes
// keccak256(abi.encode(domainTypeHash, keccak256(name), keccak256(version), chainId, keccak256(station))).
func DomainSeparator(d Domain) (common.Hash, error) {
	if d.Name == "" || d.Version == "" || d.ChainID == "" || d.Station == "" {
		return common.Hash{}, errors.New("incomplete domain")
	}

	chainID, err := stringToBig(d.ChainID)
	if err != nil {
		return common.Hash{}, err
	}

	return crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		crypto.Keccak256([]byte(d.Name)),
		crypto.Keccak256([]byte(d.Version)),
		padLeft32(chainID),
		crypto.Keccak256([]byte(d.Station)),
	), nil
}

// HashRequest computes the struct hash of r.
func HashRequest(r Request) common.Hash {
	if r.IssuedAt < 0 {
		r.IssuedAt = 0
	}
	return crypto.Keccak256Hash(
		requestTypeHash.Bytes(),
		crypto.Keccak256([]byte(r.Operation)),
		crypto.Keccak256(r.Body),
		padLeft32(big.NewInt(r.IssuedAt)),
		crypto.Keccak256([]byte(r.Nonce)),
	)
}

// TypedDataHash returns keccak256("\x19\x01" || domainSeparator || structHash).
func TypedDataHash(domainSeparator, structHash common.Hash) common.Hash {
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domainSeparator.Bytes(), structHash.Bytes())
}

// Digest is the hash a wallet signs for r under d.
func Digest(d Domain, r Request) (common.Hash, error) {
	sep, err := DomainSeparator(d)
	if err != nil {
		return common.Hash{}, err
	}
	return TypedDataHash(sep, HashRequest(r)), nil
}

// RecoverSigner recovers the public key that signed digest. V may be 0/1 or
// 27/28; sig is not modified.
func RecoverSigner(digest common.Hash, sig []byte) (*ecdsa.PublicKey, error) {
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}

	s := make([]byte, crypto.SignatureLength)
	copy(s, sig)
	if s[crypto.RecoveryIDOffset] >= 27 {
		s[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(digest.Bytes(), s)
	if err != nil {
		return nil, fmt.Errorf("sig to pub failed: %w", err)
	}
	return pub, nil
}
