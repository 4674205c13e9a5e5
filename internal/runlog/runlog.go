// v2
// internal/runlog/runlog.go

// Package runlog is the append-only event journal of a habitat run: emergency
// openings and resolutions, mode transitions, redistribution results,
// shutdowns. One JSON record per line, hash-chained so post-hoc edits are
// detectable. The journal is an audit artifact; the control loop never reads
// it back.
package runlog

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Record types written by the daemon.
const (
	TypeEmergencyOpened   = "emergency_opened"
	TypeEmergencyResolved = "emergency_resolved"
	TypeModeTransition    = "mode_transition"
	TypeRedistribution    = "redistribution"
	TypeShutdown          = "shutdown"
)

var ErrNotFound = errors.New("runlog: not found")

// Record is one journal line. SimTime is simulation seconds; WrittenAt is the
// wall clock at append.
type Record struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Dome      string          `json:"dome,omitempty"`
	SimTime   float64         `json:"simTime"`
	WrittenAt time.Time       `json:"writtenAt"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	PrevHash  string          `json:"prevHash,omitempty"`
	Hash      string          `json:"hash"`
}

// ComputeHash hashes the record with its own Hash field blanked.
func (r Record) ComputeHash() (string, error) {
	r.Hash = ""
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// RunLog owns the journal file. Append is safe for concurrent use; the dome
// goroutines and the coordinator all write through one instance.
type RunLog struct {
	mu       sync.RWMutex
	path     string
	log      *slog.Logger
	file     *os.File
	writer   *bufio.Writer
	lastID   int64
	lastHash string
	records  []*Record
}

// Open loads an existing journal (validating the chain) or creates a new one.
func Open(path string, log *slog.Logger) (*RunLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	rl := &RunLog{
		path:   path,
		log:    log.With(slog.String("component", "runlog")),
		file:   f,
		writer: bufio.NewWriter(f),
	}
	if err := rl.load(); err != nil {
		f.Close()
		return nil, err
	}
	return rl, nil
}

func (rl *RunLog) load() error {
	if _, err := rl.file.Seek(0, 0); err != nil {
		return err
	}
	scanner := bufio.NewScanner(rl.file)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("runlog line %d: %w", line, err)
		}
		if err := rl.validateChain(&rec); err != nil {
			return fmt.Errorf("runlog line %d: %w", line, err)
		}
		stored := rec
		rl.records = append(rl.records, &stored)
		rl.lastID = rec.ID
		rl.lastHash = rec.Hash
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	rl.log.Info("journal loaded", "path", rl.path, "records", len(rl.records))
	return nil
}

func (rl *RunLog) validateChain(rec *Record) error {
	expectedPrev := rl.lastHash
	if len(rl.records) == 0 {
		if rec.PrevHash != "" {
			return fmt.Errorf("prevHash mismatch id=%d", rec.ID)
		}
	} else if rec.PrevHash != expectedPrev {
		return fmt.Errorf("prevHash mismatch id=%d", rec.ID)
	}
	h, err := rec.ComputeHash()
	if err != nil {
		return err
	}
	if h != rec.Hash {
		return fmt.Errorf("hash mismatch id=%d", rec.ID)
	}
	return nil
}

// Append journals one event. The payload is marshalled as-is; nil payloads
// are allowed for events that carry no detail beyond their type.
func (rl *RunLog) Append(typ, dome string, simTime float64, payload any) (*Record, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if typ == "" {
		return nil, fmt.Errorf("runlog: record type must not be empty")
	}
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("runlog: marshal payload: %w", err)
		}
		raw = b
	}
	rl.lastID++
	rec := &Record{
		ID:        rl.lastID,
		Type:      typ,
		Dome:      dome,
		SimTime:   simTime,
		WrittenAt: time.Now().UTC(),
		Payload:   raw,
		PrevHash:  rl.lastHash,
	}
	hash, err := rec.ComputeHash()
	if err != nil {
		return nil, err
	}
	rec.Hash = hash

	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if _, err := rl.writer.Write(b); err != nil {
		return nil, err
	}
	if err := rl.writer.WriteByte('\n'); err != nil {
		return nil, err
	}
	if err := rl.writer.Flush(); err != nil {
		return nil, err
	}
	if err := rl.file.Sync(); err != nil {
		return nil, err
	}
	rl.lastHash = rec.Hash
	stored := *rec
	rl.records = append(rl.records, &stored)
	return rec, nil
}

// Records returns journal entries, optionally filtered by type and dome
// (empty filter matches everything).
func (rl *RunLog) Records(typ, dome string) []*Record {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	out := make([]*Record, 0, len(rl.records))
	for _, r := range rl.records {
		if typ != "" && !strings.EqualFold(r.Type, typ) {
			continue
		}
		if dome != "" && !strings.EqualFold(r.Dome, dome) {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	return out
}

// GetByID looks one record up.
func (rl *RunLog) GetByID(id int64) (*Record, error) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	for _, r := range rl.records {
		if r.ID == id {
			c := *r
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// Verify re-reads the file from disk and checks the whole hash chain. It
// reports the number of valid records.
func (rl *RunLog) Verify() (int, error) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	f, err := os.Open(rl.path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var (
		prevHash string
		count    int
		line     int
	)
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return count, fmt.Errorf("line %d: %w", line, err)
		}
		h, err := rec.ComputeHash()
		if err != nil {
			return count, fmt.Errorf("line %d: %w", line, err)
		}
		if h != rec.Hash {
			return count, fmt.Errorf("line %d: hash mismatch id=%d", line, rec.ID)
		}
		if rec.PrevHash != prevHash {
			return count, fmt.Errorf("line %d: prevHash mismatch id=%d", line, rec.ID)
		}
		prevHash = rec.Hash
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, err
	}
	return count, nil
}

// Close flushes and closes the journal file.
func (rl *RunLog) Close() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if err := rl.writer.Flush(); err != nil {
		rl.file.Close()
		return err
	}
	return rl.file.Close()
}
