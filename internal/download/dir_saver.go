// Package download saves masked images chosen for download.
package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/pii-mask/internal/handles"
)

// ErrExists is returned when the target file exists and overwriting is off.
var ErrExists = errors.New("file already exists")

// replaced in tests to simulate a failing disk
var writeData = func(f *os.File, data []byte) error {
	_, err := f.Write(data)
	return err
}

// DirSaver writes downloads into Dir.
type DirSaver struct {
	Dir         string
	DefaultName string
	Overwrite   bool

	// LastPath is the path of the most recent successful save.
	LastPath string
}

// SafeName reduces name to a plain file name. Names that end up empty, "." or ".."
// are replaced with fallback.
func SafeName(name, fallback string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimSpace(filepath.Base(filepath.FromSlash(name)))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return fallback
	}
	return name
}

func (s *DirSaver) Save(ctx context.Context, name string, blob handles.Blob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}

	path := filepath.Join(s.Dir, SafeName(name, s.DefaultName))
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !s.Overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s: %w", path, ErrExists)
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	if err := writeData(f, blob.Data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close %s: %w", path, err)
	}
	s.LastPath = path
	return nil
}
