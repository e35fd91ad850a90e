package core

import (
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Thin wrappers around golang.org/x/crypto's curve25519,
 *		blake2b and chacha20poly1305 packages, standing in for
 *		original_source's monocypher bindings (crypto_x25519,
 *		crypto_blake2b, crypto_aead_lock/unlock). The secure link,
 *		ratchet, and group channel build on these rather than
 *		calling the x/crypto packages directly, so the handshake
 *		and AEAD conventions live in one place.
 *
 *------------------------------------------------------------------*/

// X25519PublicKey derives the public key for a 32-byte scalar private key.
func X25519PublicKey(private [32]byte) [32]byte {
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &private)
	return pub
}

// X25519Shared computes the Diffie-Hellman shared secret.
func X25519Shared(private, peerPublic [32]byte) [32]byte {
	var shared [32]byte
	curve25519.ScalarMult(&shared, &private, &peerPublic)
	return shared
}

// Blake2bSum hashes data to an outLen-byte digest (outLen <= 64).
func Blake2bSum(outLen int, data ...[]byte) []byte {
	h, err := blake2b.New(outLen, nil)
	if err != nil {
		// outLen out of [1,64] is a programmer error, never a runtime one.
		panic(err)
	}
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// AEADSeal encrypts plaintext with ChaCha20-Poly1305, binding aad, and
// appends the 16-byte tag. nonce must be 12 bytes.
func AEADSeal(key [32]byte, nonce []byte, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// AEADOpen authenticates and decrypts ciphertext produced by AEADSeal.
func AEADOpen(key [32]byte, nonce []byte, aad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return pt, nil
}

// AEADSealXChaCha and AEADOpenXChaCha use the 24-byte extended-nonce
// construction the secure link's per-packet framing relies on so a
// sequence number can seed the nonce directly without a counter
// collision risk across re-handshakes.
func AEADSealXChaCha(key [32]byte, nonce24 []byte, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce24, plaintext, aad), nil
}

func AEADOpenXChaCha(key [32]byte, nonce24 []byte, aad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, nonce24, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return pt, nil
}

// Wipe zeroes a key-sized buffer in place, mirroring the original
// firmware's crypto_wipe calls on link teardown.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
