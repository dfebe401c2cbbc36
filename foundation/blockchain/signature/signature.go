// Package signature provides helper functions for handling the blockchain
// hashing and signature needs.
package signature

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// DigestLength is the number of bytes produced by the hash functions.
const DigestLength = 32

// ledgerID is an arbitrary number for signing messages. This will make it
// clear that the signature comes from the ledger. Ethereum and Bitcoin do
// this as well, but they use the value of 27.
const ledgerID = 29

// =============================================================================

// Hash returns the SHA3-256 digest of the concatenated data. This is the
// single hash used for transaction ids and merkle tree levels.
func Hash(data ...[]byte) [DigestLength]byte {
	h := sha3.New256()
	for _, d := range data {
		h.Write(d)
	}

	var digest [DigestLength]byte
	copy(digest[:], h.Sum(nil))
	return digest
}

// DoubleHash applies SHA3-256 twice over the concatenated data. Block headers
// are hashed this way.
func DoubleHash(data ...[]byte) [DigestLength]byte {
	first := Hash(data...)
	return Hash(first[:])
}

// Sign uses the specified private key to sign the digest. The signature is
// returned in the 65 byte [R|S|V] format with the ledger id added to V.
func Sign(digest [DigestLength]byte, privateKey *ecdsa.PrivateKey) ([]byte, error) {

	// Prepare the data for signing.
	data := stamp(digest)

	// Sign the hash with the private key to produce a signature.
	sig, err := crypto.Sign(data, privateKey)
	if err != nil {
		return nil, err
	}

	// Extract the public key from the data and the signature.
	publicKey, err := crypto.SigToPub(data, sig)
	if err != nil {
		return nil, err
	}

	// Check the public key extracted from the data and signature.
	rs := sig[:crypto.RecoveryIDOffset]
	if !crypto.VerifySignature(crypto.FromECDSAPub(publicKey), data, rs) {
		return nil, errors.New("invalid signature")
	}

	sig[crypto.RecoveryIDOffset] += ledgerID

	return sig, nil
}

// VerifySignature verifies the signature conforms to our standards.
func VerifySignature(sig []byte) error {
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("invalid signature length, got %d, exp %d", len(sig), crypto.SignatureLength)
	}

	// Check the recovery id is either 0 or 1.
	v := sig[crypto.RecoveryIDOffset] - ledgerID
	if v != 0 && v != 1 {
		return errors.New("invalid recovery id")
	}

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])

	// Check the signature values are valid.
	if !crypto.ValidateSignatureValues(v, r, s, false) {
		return errors.New("invalid signature values")
	}

	return nil
}

// FromAddress extracts the address for the account that signed the digest.
func FromAddress(digest [DigestLength]byte, sig []byte) (common.Address, error) {
	if err := VerifySignature(sig); err != nil {
		return common.Address{}, err
	}

	// Remove the ledger id so the go-ethereum recovery code accepts it.
	raw := make([]byte, crypto.SignatureLength)
	copy(raw, sig)
	raw[crypto.RecoveryIDOffset] -= ledgerID

	// Capture the public key associated with this data and signature.
	publicKey, err := crypto.SigToPub(stamp(digest), raw)
	if err != nil {
		return common.Address{}, err
	}

	return crypto.PubkeyToAddress(*publicKey), nil
}

// PublicKeyToAddress converts the public key to an owner address.
func PublicKeyToAddress(pk ecdsa.PublicKey) common.Address {
	return crypto.PubkeyToAddress(pk)
}

// =============================================================================

// stamp returns a hash of 32 bytes that represents this digest with
// the ledger stamp embedded into the final hash.
func stamp(digest [DigestLength]byte) []byte {

	// This stamp is used so signatures we produce when signing data
	// are always unique to the ledger.
	stamp := []byte("\x19Ledger Signed Message:\n32")

	return crypto.Keccak256(stamp, digest[:])
}
