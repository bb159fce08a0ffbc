// Copyright (c) 2023-2025 RapidaAI
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package cipher

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// Seal encrypts plaintext under key using the nonce scheme for mode, per
// spec.md §4.3:
//
//   - Full:   nonce = 12-byte RTP header, zero-padded to 24. Tail = full nonce.
//   - Suffix: nonce = 24 random bytes. Tail = full nonce.
//   - Lite:   nonce = 4-byte big-endian counter, zero-padded to 24. Tail = counter only.
//
// dst is the scratch buffer to append the sealed ciphertext and nonce tail
// to (typically the packet buffer, sliced to its length-so-far); the
// returned slice is dst grown by len(ciphertext)+len(tail).
func Seal(mode Mode, header [12]byte, liteCounter uint32, plaintext []byte, key *[32]byte, dst []byte) ([]byte, error) {
	var nonce [24]byte

	switch mode {
	case Full:
		copy(nonce[:12], header[:])
	case Suffix:
		if _, err := rand.Read(nonce[:]); err != nil {
			return nil, fmt.Errorf("cipher: generating suffix nonce: %w", err)
		}
	case Lite:
		binary.BigEndian.PutUint32(nonce[:4], liteCounter)
	default:
		return nil, fmt.Errorf("cipher: unknown mode %v", mode)
	}

	sealed := secretbox.Seal(dst, plaintext, &nonce, key)

	switch mode {
	case Full, Suffix:
		sealed = append(sealed, nonce[:]...)
	case Lite:
		sealed = append(sealed, nonce[:4]...)
	}

	return sealed, nil
}

// Open decrypts a datagram's ciphertext+tail under key for mode, the
// inverse of Seal. header is the 12-byte RTP header from the same datagram
// (needed to reconstruct the nonce in Full mode).
func Open(mode Mode, header [12]byte, ciphertextAndTail []byte, key *[32]byte) ([]byte, error) {
	var nonce [24]byte
	var tailLen int

	switch mode {
	case Full, Suffix:
		tailLen = 24
	case Lite:
		tailLen = 4
	default:
		return nil, fmt.Errorf("cipher: unknown mode %v", mode)
	}

	if len(ciphertextAndTail) < tailLen {
		return nil, fmt.Errorf("cipher: datagram too short for mode %v nonce tail", mode)
	}

	tail := ciphertextAndTail[len(ciphertextAndTail)-tailLen:]
	ciphertext := ciphertextAndTail[:len(ciphertextAndTail)-tailLen]

	switch mode {
	case Full:
		copy(nonce[:12], header[:])
	case Suffix:
		copy(nonce[:], tail)
	case Lite:
		copy(nonce[:4], tail)
	}

	opened, ok := secretbox.Open(nil, ciphertext, &nonce, key)
	if !ok {
		return nil, fmt.Errorf("cipher: decryption failed")
	}
	return opened, nil
}
