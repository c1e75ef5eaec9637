package policy

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LoadRegoFiles collects the policy modules under dir, recursing into subdirectories.
// Modules are keyed by their slash-separated path relative to dir. Rego unit tests
// (*_test.rego) are skipped.
func LoadRegoFiles(dir string) (map[string]string, error) {
	fsys := os.DirFS(dir)
	modules := make(map[string]string)
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".rego" || strings.HasSuffix(path, "_test.rego") {
			return nil
		}
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		modules[path] = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return modules, nil
}
