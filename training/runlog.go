package training

import (
	"fmt"
	"log"
	"os"
)

// Logf is the process logger hook. Tests may replace it to silence output.
var Logf = log.Printf

// RunLog mirrors every training log line to Logf and to a text file
// opened in append mode.
type RunLog struct {
	f *os.File
}

// OpenRunLog opens path for appending, creating it if needed.
func OpenRunLog(path string) (*RunLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open training log: %w", err)
	}
	return &RunLog{f: f}, nil
}

// Printf writes one line. A nil RunLog only logs.
func (l *RunLog) Printf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	Logf("%s", line)
	if l == nil || l.f == nil {
		return
	}
	if _, err := l.f.WriteString(line + "\n"); err != nil {
		Logf("training log write failed: %v", err)
		return
	}
	l.f.Sync()
}

// Close closes the file.
func (l *RunLog) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	return l.f.Close()
}
