package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/netwatch-nms/netwatch/pkg/util"
)

// Logger is the audit sink.
type Logger interface {
	Log(event *Event) error
	Close() error
}

// RotationConfig bounds the audit file's footprint.
type RotationConfig struct {
	MaxSize    int64 // bytes before rotation
	MaxBackups int   // old files retained
}

// FileLogger appends events as JSON lines, rotating when the file
// exceeds MaxSize.
type FileLogger struct {
	path     string
	file     *os.File
	encoder  *json.Encoder
	size     int64
	mu       sync.Mutex
	rotation RotationConfig
}

// NewFileLogger opens (or creates) the audit log at path.
func NewFileLogger(path string, rotation RotationConfig) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat audit log: %w", err)
	}
	return &FileLogger{
		path:     path,
		file:     file,
		encoder:  json.NewEncoder(file),
		size:     info.Size(),
		rotation: rotation,
	}, nil
}

// Log appends one event. Rotation happens before the write so a single
// event never splits across files.
func (l *FileLogger) Log(event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rotation.MaxSize > 0 && l.size >= l.rotation.MaxSize {
		if err := l.rotate(); err != nil {
			util.Warnf("audit rotation failed: %v", err)
		}
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding audit event: %w", err)
	}
	n, err := l.file.Write(append(line, '\n'))
	l.size += int64(n)
	if err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	return nil
}

// rotate renames the current file to path.1, shifting older backups
// up and dropping the oldest beyond MaxBackups.
func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}

	backups, _ := filepath.Glob(l.path + ".*")
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	for _, old := range backups {
		var idx int
		if _, err := fmt.Sscanf(old, l.path+".%d", &idx); err != nil {
			continue
		}
		if l.rotation.MaxBackups > 0 && idx >= l.rotation.MaxBackups {
			os.Remove(old)
			continue
		}
		os.Rename(old, fmt.Sprintf("%s.%d", l.path, idx+1))
	}
	if err := os.Rename(l.path, l.path+".1"); err != nil {
		return err
	}

	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	l.file = file
	l.encoder = json.NewEncoder(file)
	l.size = 0
	return nil
}

// Close flushes and closes the file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// NopLogger discards events; the default when auditing is not
// configured.
type NopLogger struct{}

func (NopLogger) Log(*Event) error { return nil }
func (NopLogger) Close() error     { return nil }
