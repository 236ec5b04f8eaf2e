// Package audit keeps an append-only record of every change edgectl submits
// for an account. The log is a JSON Lines file next to the job snapshots, and
// each entry carries a hash chained to the previous one so edits are detectable.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileName is the log's name inside the account's json directory.
const FileName = "audit.jsonl"

// EventType names the kind of change recorded.
type EventType string

const (
	EventVersionsCreated     EventType = "versions_created"
	EventPatchSubmitted      EventType = "patch_submitted"
	EventRulesUpdated        EventType = "rules_updated"
	EventActivationSubmitted EventType = "activation_submitted"
)

// Entry is one line of the log.
type Entry struct {
	Seq       int64           `json:"seq"`
	Timestamp string          `json:"timestamp"`
	Account   string          `json:"account"`
	Operator  string          `json:"operator"`
	Event     EventType       `json:"event"`
	Detail    json.RawMessage `json:"detail"`
	Hash      string          `json:"hash"`
}

// Logger appends entries to one account's log.
type Logger struct {
	path     string
	account  string
	operator string
	now      func() time.Time

	mu       sync.Mutex
	seq      int64
	lastHash string
}

// NewLogger resumes the chain stored at path. A missing file starts a new one.
func NewLogger(path, account, operator string) (*Logger, error) {
	l := &Logger{path: path, account: account, operator: operator, now: time.Now}

	entries, err := read(path)
	if err != nil {
		return nil, fmt.Errorf("recovering audit chain: %w", err)
	}
	if n := len(entries); n > 0 {
		l.seq = entries[n-1].Seq
		l.lastHash = entries[n-1].Hash
	}
	return l, nil
}

// Record appends one event. detail is stored as JSON.
func (l *Logger) Record(event EventType, detail any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	raw, err := json.Marshal(detail)
	if err != nil {
		raw, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	e := Entry{
		Seq:       l.seq + 1,
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		Account:   l.account,
		Operator:  l.operator,
		Event:     event,
		Detail:    raw,
	}
	e.Hash = chainHash(l.lastHash, e)

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding audit record: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating audit directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("writing audit record: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	l.seq = e.Seq
	l.lastHash = e.Hash
	return nil
}

// chainHash is SHA-256(previous + seq + timestamp + account + operator + event + detail).
func chainHash(previous string, e Entry) string {
	data := fmt.Sprintf("%s%d%s%s%s%s%s", previous, e.Seq, e.Timestamp, e.Account, e.Operator, e.Event, e.Detail)
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}

// Verify walks the chain at path and returns how many entries are intact
// before the first broken link.
func Verify(path string) (int, error) {
	entries, err := read(path)
	if err != nil {
		return 0, err
	}
	var previous string
	for i, e := range entries {
		if e.Seq != int64(i+1) || chainHash(previous, e) != e.Hash {
			return i, fmt.Errorf("audit chain broken at record %d", i+1)
		}
		previous = e.Hash
	}
	return len(entries), nil
}

// List returns the newest entries first. limit <= 0 means all.
func List(path string, limit int) ([]Entry, error) {
	entries, err := read(path)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, entries[i])
	}
	return out, nil
}

func read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("audit log line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}
