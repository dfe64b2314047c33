package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Note is a single tamper-evident audit note. Each note's hash covers the
// previous note's hash, so any rewrite of history breaks the chain.
type Note struct {
	Timestamp    string `json:"timestamp"`
	PreviousHash string `json:"previous_hash"`
	Reference    string `json:"reference"`
	Detail       string `json:"detail"`
	Hash         string `json:"hash"`
}

// ChainLogger records hash-chained audit notes for ledger mutations.
type ChainLogger struct {
	mu           sync.Mutex
	previousHash string
	notes        []*Note
}

// NewChainLogger creates a ChainLogger initialized with a zero hash.
func NewChainLogger() *ChainLogger {
	return &ChainLogger{
		previousHash: strings.Repeat("0", 64),
	}
}

// Append adds a note to the chain. Reference identifies the entity the note
// is about (installment id, payment reference); detail is free text.
func (c *ChainLogger) Append(reference, detail string) *Note {
	c.mu.Lock()
	defer c.mu.Unlock()

	note := &Note{
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		PreviousHash: c.previousHash,
		Reference:    reference,
		Detail:       detail,
	}

	hashInput := fmt.Sprintf("%s|%s|%s|%s", note.PreviousHash, note.Timestamp, note.Reference, note.Detail)
	hash := sha256.Sum256([]byte(hashInput))
	note.Hash = hex.EncodeToString(hash[:])

	c.previousHash = note.Hash
	c.notes = append(c.notes, note)
	return note
}

// Notes returns a snapshot of the chain in append order.
func (c *ChainLogger) Notes() []*Note {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Note, len(c.notes))
	copy(out, c.notes)
	return out
}

// VerifyChain checks that a slice of notes forms a valid hash chain.
func VerifyChain(notes []*Note) bool {
	for i, note := range notes {
		prevHash := note.PreviousHash
		if i > 0 && prevHash != notes[i-1].Hash {
			return false
		}

		hashInput := fmt.Sprintf("%s|%s|%s|%s", prevHash, note.Timestamp, note.Reference, note.Detail)
		hash := sha256.Sum256([]byte(hashInput))
		if hex.EncodeToString(hash[:]) != note.Hash {
			return false
		}
	}
	return true
}
