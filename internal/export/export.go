// Package export writes generated UI components into the project tree.
package export

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/spf13/afero"

	"github.com/ronai/codegate/internal/config"
)

// ErrInvalidName is returned for component names that are not a single
// path segment.
var ErrInvalidName = errors.New("invalid component name")

var componentNameRe = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// Exporter writes components below a fixed directory.
type Exporter struct {
	fs  afero.Fs
	dir string
	ext string
}

// NewExporter creates an exporter on fs. Pass afero.NewOsFs() in production.
func NewExporter(fs afero.Fs, cfg config.ExportConfig) *Exporter {
	ext := cfg.Extension
	if ext == "" {
		ext = ".tsx"
	}
	return &Exporter{fs: fs, dir: cfg.ComponentsDir, ext: ext}
}

// ValidateName checks that name can be used as a file name in the
// components directory.
func ValidateName(name string) error {
	if !componentNameRe.MatchString(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Export writes code to <dir>/<name><ext>, creating the directory and
// replacing any existing file. It returns the written path.
func (e *Exporter) Export(name, code string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	if err := e.fs.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating components directory: %w", err)
	}

	path := filepath.Join(e.dir, name+e.ext)
	if err := afero.WriteFile(e.fs, path, []byte(code), 0o644); err != nil {
		return "", fmt.Errorf("writing component: %w", err)
	}
	return path, nil
}
