package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// RunEntryJob is the Job value of the summary entry written when a run ends.
const RunEntryJob = "*run*"

// Entry is a tamper-evident record of one finished job, or of a whole run.
type Entry struct {
	Index      int    `json:"index"`
	Timestamp  string `json:"timestamp"`
	RunID      string `json:"runId"`
	Job        string `json:"job"`
	Status     string `json:"status"`
	FailedStep *int   `json:"failedStep,omitempty"`
	Reason     string `json:"reason,omitempty"`
	LogHash    string `json:"logHash,omitempty"`
	PrevHash   string `json:"prevHash"`
	Hash       string `json:"hash"`
	Signature  string `json:"signature"`
	PubKey     string `json:"pubKey"`
}

// NewEntry creates an unchained entry; Append fills index, links and signature.
func NewEntry(runID, job, status string) *Entry {
	return &Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RunID:     runID,
		Job:       job,
		Status:    status,
	}
}

// canonicalData returns the JSON bytes used to compute the entry hash.
// Hash, Signature and PubKey are excluded.
func (e *Entry) canonicalData() ([]byte, error) {
	view := struct {
		Index      int    `json:"index"`
		Timestamp  string `json:"timestamp"`
		RunID      string `json:"runId"`
		Job        string `json:"job"`
		Status     string `json:"status"`
		FailedStep *int   `json:"failedStep,omitempty"`
		Reason     string `json:"reason,omitempty"`
		LogHash    string `json:"logHash,omitempty"`
		PrevHash   string `json:"prevHash"`
	}{
		Index:      e.Index,
		Timestamp:  e.Timestamp,
		RunID:      e.RunID,
		Job:        e.Job,
		Status:     e.Status,
		FailedStep: e.FailedStep,
		Reason:     e.Reason,
		LogHash:    e.LogHash,
		PrevHash:   e.PrevHash,
	}
	return json.Marshal(view)
}

// ComputeHash calculates SHA256 over canonicalData.
func (e *Entry) ComputeHash() (string, error) {
	data, err := e.canonicalData()
	if err != nil {
		return "", fmt.Errorf("ledger: encode entry: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
