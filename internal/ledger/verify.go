package ledger

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"

	"ferroci/internal/security"
)

var ErrTampered = errors.New("ledger tampered")

// VerifyChain recomputes every hash, link, index and signature to detect tampering.
// Signatures are checked against the key each entry carries, so a chain
// re-signed end to end with another key still passes; use VerifyChainWith
// to pin the signer.
func (l *Ledger) VerifyChain() error {
	return l.verify(nil)
}

// VerifyChainWith is VerifyChain with every entry required to be signed by pub.
func (l *Ledger) VerifyChainWith(pub ed25519.PublicKey) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: trusted key has length %d", security.ErrInvalidKey, len(pub))
	}
	return l.verify(pub)
}

func (l *Ledger) verify(trusted ed25519.PublicKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	trustedHex := hex.EncodeToString(trusted)
	for i, e := range l.entries {
		if e.Index != i {
			return fmt.Errorf("%w: index mismatch: expected %d got %d", ErrTampered, i, e.Index)
		}
		h, err := e.ComputeHash()
		if err != nil {
			return err
		}
		if h != e.Hash {
			return fmt.Errorf("%w: hash mismatch at index %d", ErrTampered, i)
		}
		if i > 0 && e.PrevHash != l.entries[i-1].Hash {
			return fmt.Errorf("%w: prev hash mismatch at index %d", ErrTampered, i)
		}
		pubHex := e.PubKey
		if trusted != nil {
			if e.PubKey != trustedHex {
				return fmt.Errorf("%w: entry %d signed by untrusted key", ErrTampered, i)
			}
			pubHex = trustedHex
		}
		ok, err := security.VerifySignatureFromHex(pubHex, []byte(e.Hash), e.Signature)
		if err != nil {
			return fmt.Errorf("%w: signature at index %d: %v", ErrTampered, i, err)
		}
		if !ok {
			return fmt.Errorf("%w: bad signature at index %d", ErrTampered, i)
		}
	}
	return nil
}
