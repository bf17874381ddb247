package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditLog is the append-only session trail: one
// date <TAB> id <TAB> status line when a session starts and exactly one
// more on its terminal transition.
type AuditLog struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path, now: time.Now}
}

func (l *AuditLog) Record(id string, status CloseStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating audit log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}

	line := fmt.Sprintf("%s\t%s\t%s\n", l.now().Format(time.RFC3339), id, status)
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("writing audit log: %w", err)
	}
	return f.Close()
}
