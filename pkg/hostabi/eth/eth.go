/*
   Copyright The containerd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package eth implements the Ethereum-style cryptographic primitives of the
// host-ABI library: key generation, address derivation, recoverable ECDSA
// signing/recovery, Keccak-256 and ECDH.
package eth

import (
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

// Hash is a 32-byte Keccak-256 digest.
type Hash [32]byte

// Address is the last 20 bytes of the Keccak-256 digest of an uncompressed
// public key, minus its leading format byte.
type Address [20]byte

// String renders the address as 0x-prefixed lowercase hex.
func (a Address) String() string {
	return "0x" + hexEncode(a[:])
}

// HexString renders the address as lowercase hex without a "0x" prefix,
// the form the host-ABI library's eth.prvToAddress/eth.pubToAddress hand
// back to the guest.
func (a Address) HexString() string {
	return hexEncode(a[:])
}

// Keccak256 hashes data with Keccak-256 (not NIST SHA3-256: no padding-byte
// change, matching Ethereum's variant).
func Keccak256(data ...[]byte) Hash {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// PersonalMessage prefixes msg the way "personal_sign" does, so signatures
// can't be replayed against a raw transaction hash.
func PersonalMessage(msg []byte) Hash {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return Keccak256([]byte(prefix), msg)
}

// GenerateKeyPair creates a new secp256k1 key pair.
func GenerateKeyPair() (*secp256k1.PrivateKey, *secp256k1.PublicKey, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("eth: generating key: %w", err)
	}
	return priv, priv.PubKey(), nil
}

// ParseSecret parses a 32-byte raw secret key, as decoded by
// memview.View.DecodeSecret.
func ParseSecret(b []byte) (*secp256k1.PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("eth: secret key must be 32 bytes, got %d", len(b))
	}
	return secp256k1.PrivKeyFromBytes(b), nil
}

// ParsePubKey parses a 64-byte raw public key (x||y, no format byte), the
// form memview.View.DecodePubKey hands back and the only form the host-ABI
// library's eth.* functions exchange with the guest.
func ParsePubKey(b []byte) (*secp256k1.PublicKey, error) {
	if len(b) != 64 {
		return nil, fmt.Errorf("eth: public key must be 64 bytes, got %d", len(b))
	}
	sec1 := make([]byte, 65)
	sec1[0] = 0x04
	copy(sec1[1:], b)
	pub, err := secp256k1.ParsePubKey(sec1)
	if err != nil {
		return nil, fmt.Errorf("eth: parsing public key: %w", err)
	}
	return pub, nil
}

// SerializePubKey renders pub as the 64-byte raw x||y form ParsePubKey
// accepts, stripping the standard uncompressed encoding's leading format
// byte.
func SerializePubKey(pub *secp256k1.PublicKey) []byte {
	return pub.SerializeUncompressed()[1:]
}

// ToAddress derives the Ethereum-style address of a public key.
func ToAddress(pub *secp256k1.PublicKey) Address {
	uncompressed := pub.SerializeUncompressed()
	digest := Keccak256(uncompressed[1:]) // drop the 0x04 format byte
	var addr Address
	copy(addr[:], digest[len(digest)-20:])
	return addr
}

// PrivToAddress derives the address controlled by a private key.
func PrivToAddress(priv *secp256k1.PrivateKey) Address {
	return ToAddress(priv.PubKey())
}

// RecoverableSignature is a 65-byte r||s||v signature, v = recovery_id+27.
type RecoverableSignature [65]byte

// Sign produces a recoverable signature over hash using priv.
func Sign(priv *secp256k1.PrivateKey, hash Hash) (RecoverableSignature, error) {
	compact := ecdsa.SignCompact(priv, hash[:], false)
	// compact[0] = 27 + recovery_id (+4 if the recovered key should be
	// treated as compressed, which we never request here).
	recID := compact[0] - 27

	var sig RecoverableSignature
	copy(sig[0:32], compact[1:33])
	copy(sig[32:64], compact[33:65])
	sig[64] = recID + 27
	return sig, nil
}

// normalizeRecoveryID accepts either the raw 0/1 recovery id or the RPC-style
// tag (27+, or 35+ with chain-id EIP-155 encoding collapsed by the caller),
// returning the bare recovery id reduced modulo 4 (0..3); RecoverPubKey adds
// 27 back before handing it to RecoverCompact.
func normalizeRecoveryID(v byte) byte {
	if v >= 27 {
		return (v - 27) % 4
	}
	return v % 4
}

// RecoverPubKey recovers the signer's public key from a signature over hash.
func RecoverPubKey(sig RecoverableSignature, hash Hash) (*secp256k1.PublicKey, error) {
	recID := normalizeRecoveryID(sig[64])

	compact := make([]byte, 65)
	compact[0] = 27 + recID
	copy(compact[1:33], sig[0:32])
	copy(compact[33:65], sig[32:64])

	pub, _, err := ecdsa.RecoverCompact(compact, hash[:])
	if err != nil {
		return nil, fmt.Errorf("eth: ecrecover: %w", err)
	}
	return pub, nil
}

// Ecrecover recovers the signer's address directly.
func Ecrecover(sig RecoverableSignature, hash Hash) (Address, error) {
	pub, err := RecoverPubKey(sig, hash)
	if err != nil {
		return Address{}, err
	}
	return ToAddress(pub), nil
}

// SharedSecret performs an ECDH exchange between priv and peer, hashing the
// resulting point's x-coordinate with SHA-256.
func SharedSecret(priv *secp256k1.PrivateKey, peer *secp256k1.PublicKey) [32]byte {
	var peerPoint, result secp256k1.JacobianPoint
	peer.AsJacobian(&peerPoint)

	secp256k1.ScalarMultNonConst(&priv.Key, &peerPoint, &result)
	result.ToAffine()

	x := result.X.Bytes()
	return sha256.Sum256(x[:])
}

// HexEncode renders b as lowercase hex without a "0x" prefix, the form
// eth.bytesToHex hands back to the guest.
func HexEncode(b []byte) string {
	return hexEncode(b)
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[2*i] = digits[c>>4]
		out[2*i+1] = digits[c&0xf]
	}
	return string(out)
}
