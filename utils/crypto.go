package utils

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vitwit/gasstation/types"
)

// AddressFromPublicKey maps a secp256k1 key to a station address: the 20-byte
// Ethereum address left padded to 32 bytes.
func AddressFromPublicKey(pub ecdsa.PublicKey) types.Address {
	var a types.Address
	copy(a[:], common.LeftPadBytes(crypto.PubkeyToAddress(pub).Bytes(), types.AddressLength))
	return a
}

// PrivateKeyFromHex parses a hex encoded secp256k1 private key.
func PrivateKeyFromHex(hexKey string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
}

// SignPersonalMessage produces an EIP-191 personal_sign signature.
func SignPersonalMessage(message []byte, privateKey *ecdsa.PrivateKey) (string, error) {
	signature, err := crypto.Sign(accounts.TextHash(message), privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	return hexutil.Encode(signature), nil
}

// RecoverPersonalMessage returns the address that produced an EIP-191
// signature over message.
func RecoverPersonalMessage(message []byte, signature string) (types.Address, error) {
	sigBytes, err := hexutil.Decode(signature)
	if err != nil {
		return types.Address{}, fmt.Errorf("failed to decode signature: %w", err)
	}

	if len(sigBytes) != crypto.SignatureLength {
		return types.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sigBytes))
	}

	// Wallets emit v as 27/28.
	if sigBytes[crypto.RecoveryIDOffset] >= 27 {
		sigBytes[crypto.RecoveryIDOffset] -= 27
	}

	pubKey, err := crypto.SigToPub(accounts.TextHash(message), sigBytes)
	if err != nil {
		return types.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}

	return AddressFromPublicKey(*pubKey), nil
}
