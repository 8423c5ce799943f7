package signals

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileOutcomeLogger appends learning-log records as JSON lines. The
// downstream learning pipeline tails this file.
type FileOutcomeLogger struct {
	mu   sync.Mutex
	path string
}

// NewFileOutcomeLogger creates a logger appending to path.
func NewFileOutcomeLogger(path string) *FileOutcomeLogger {
	return &FileOutcomeLogger{path: path}
}

// LogOutcome appends one record. Callers treat failures as
// non-fatal; the trade already committed.
func (l *FileOutcomeLogger) LogOutcome(outcome TradeOutcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open outcome log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append outcome: %w", err)
	}
	return nil
}
