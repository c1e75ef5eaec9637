// Package blob keeps uploaded dataset files and generated images on local disk.
package blob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrInvalidName = errors.New("invalid blob name")

var mimeExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Disk stores blobs under two directories. Names are generated and never taken from user input.
type Disk struct {
	uploadDir    string
	generatedDir string
}

func NewDisk(uploadDir, generatedDir string) (*Disk, error) {
	for _, dir := range []string{uploadDir, generatedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create blob dir %s: %w", dir, err)
		}
	}
	return &Disk{uploadDir: uploadDir, generatedDir: generatedDir}, nil
}

// resolve joins name onto dir after rejecting anything that is not a bare file name.
func resolve(dir, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(dir, name), nil
}

func write(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// SaveUpload stores an uploaded file and returns its stored name, which keeps the original extension.
func (d *Disk) SaveUpload(filename string, data []byte) (string, error) {
	name := uuid.NewString() + strings.ToLower(filepath.Ext(filename))
	if err := write(filepath.Join(d.uploadDir, name), data); err != nil {
		return "", fmt.Errorf("save upload %s: %w", filename, err)
	}
	return name, nil
}

func (d *Disk) ReadUpload(name string) ([]byte, error) {
	path, err := resolve(d.uploadDir, name)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// DeleteUpload removes a stored upload. Missing files are not an error.
func (d *Disk) DeleteUpload(name string) error {
	path, err := resolve(d.uploadDir, name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete upload %s: %w", name, err)
	}
	return nil
}

// SaveGenerated stores a generated image and returns its public name.
func (d *Disk) SaveGenerated(data []byte, mime string) (string, error) {
	ext, ok := mimeExtensions[mime]
	if !ok {
		ext = ".png"
	}
	name := "generated_" + uuid.NewString() + ext
	if err := write(filepath.Join(d.generatedDir, name), data); err != nil {
		return "", fmt.Errorf("save generated image: %w", err)
	}
	return name, nil
}

// GeneratedPath returns the on-disk path of a generated image.
func (d *Disk) GeneratedPath(name string) (string, error) {
	return resolve(d.generatedDir, name)
}

// UploadPath returns the on-disk path of a stored upload.
func (d *Disk) UploadPath(name string) (string, error) {
	return resolve(d.uploadDir, name)
}
