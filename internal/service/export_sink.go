package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/repertory-sheet-server/internal/domain"
)

// FileExportSink writes exports into a directory
type FileExportSink struct {
	dir    string
	logger *logrus.Logger
}

// NewFileExportSink creates a sink rooted at dir. The directory is created on first write.
func NewFileExportSink(dir string, logger *logrus.Logger) *FileExportSink {
	return &FileExportSink{dir: dir, logger: logger}
}

// Write stores content under name and returns the full path
func (s *FileExportSink) Write(ctx context.Context, name string, content []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", wrapIO(err)
	}
	if name == "" || filepath.Base(name) != name {
		return "", wrapIO(fmt.Errorf("invalid export name %q", name))
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", wrapIO(fmt.Errorf("failed to create export directory: %w", err))
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return "", wrapIO(fmt.Errorf("failed to write export: %w", err))
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", wrapIO(fmt.Errorf("failed to finalize export: %w", err))
	}

	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"path":  path,
			"bytes": len(content),
		}).Info("Export written")
	}

	return path, nil
}

func wrapIO(err error) error {
	if errors.Is(err, domain.ErrIO) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrIO, err)
}
