// Package ledger keeps an append-only, hash-chained and signed JSONL record of
// pipeline job outcomes so a finished run can be audited later.
package ledger

import (
	"bufio"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"ferroci/internal/security"
)

// Ledger is safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	entries []*Entry
	path    string
}

// OpenLedger loads an existing ledger file or starts an empty one.
// File format: JSON lines, one entry per line.
func OpenLedger(path string) (*Ledger, error) {
	l := &Ledger{path: path}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: open: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(bufio.NewReader(f))
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("ledger: decode entry %d: %w", len(l.entries), err)
		}
		l.entries = append(l.entries, &e)
	}
	return l, nil
}

// Path returns the backing file.
func (l *Ledger) Path() string { return l.path }

// Append chains e after the last entry, signs its hash with priv and persists it.
func (l *Ledger) Append(e *Entry, priv ed25519.PrivateKey) error {
	if len(priv) != ed25519.PrivateKeySize {
		return fmt.Errorf("ledger: %w: private key required to sign entries", security.ErrInvalidKey)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e.Index = len(l.entries)
	e.PrevHash = ""
	if n := len(l.entries); n > 0 {
		e.PrevHash = l.entries[n-1].Hash
	}
	h, err := e.ComputeHash()
	if err != nil {
		return err
	}
	e.Hash = h
	e.Signature = security.SignData(priv, []byte(e.Hash))
	e.PubKey = hex.EncodeToString(priv.Public().(ed25519.PublicKey))

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("ledger: open file: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(e); err != nil {
		return fmt.Errorf("ledger: write entry: %w", err)
	}

	l.entries = append(l.entries, e)
	return nil
}

// Entries returns a copy of the entries in chain order.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = *e
	}
	return out
}

// RunEntries returns the entries written for one run.
func (l *Ledger) RunEntries(runID string) []Entry {
	var out []Entry
	for _, e := range l.Entries() {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
