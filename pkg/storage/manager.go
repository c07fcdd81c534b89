package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Extensions are probed in this order when checking whether an image already exists
var Extensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// DefaultExtension is used when a transfer carries no recognisable extension
const DefaultExtension = ".jpg"

// Existing describes an image already present in the download directory
type Existing struct {
	Path string
	Size int64
}

// ErrInvalidID is returned for entry IDs that cannot name a file inside the
// download directory
var ErrInvalidID = errors.New("invalid entry id")

// ValidateID rejects IDs that are empty, contain a path separator or would
// resolve outside the download directory.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidID)
	case id == "." || id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	case strings.ContainsAny(id, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidID, id)
	case !filepath.IsLocal(id):
		return fmt.Errorf("%w: %q is not a local file name", ErrInvalidID, id)
	}
	return nil
}

// Manager handles the download directory: existence probes and atomic placement
type Manager struct {
	fs  afero.Fs
	dir string
}

// NewManager creates a storage manager rooted at dir. It touches nothing on disk.
func NewManager(fs afero.Fs, dir string) *Manager {
	return &Manager{
		fs:  fs,
		dir: dir,
	}
}

// Fs returns the filesystem the manager works on
func (m *Manager) Fs() afero.Fs {
	return m.fs
}

// Dir returns the download directory
func (m *Manager) Dir() string {
	return m.dir
}

// EnsureDir creates the download directory
func (m *Manager) EnsureDir() error {
	if err := m.fs.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}
	return nil
}

// Scan counts the non-empty images already in the directory
func (m *Manager) Scan() (int, error) {
	entries, err := afero.ReadDir(m.fs, m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read directory: %w", err)
	}

	ids := make(map[string]struct{})
	for _, entry := range entries {
		if entry.IsDir() || entry.Size() == 0 {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !isKnownExtension(ext) {
			continue
		}
		ids[strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))] = struct{}{}
	}

	return len(ids), nil
}

// Find probes {id}.jpg, .jpeg, .png and .webp in that order and returns the
// first non-empty match.
func (m *Manager) Find(id string) (Existing, bool, error) {
	for _, ext := range Extensions {
		path, err := m.Path(id, ext)
		if err != nil {
			return Existing{}, false, err
		}
		info, err := m.fs.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Existing{}, false, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if info.IsDir() || info.Size() == 0 {
			continue
		}

		return Existing{Path: path, Size: info.Size()}, true, nil
	}

	return Existing{}, false, nil
}

// Path returns the destination for id with the given extension. IDs that
// fail ValidateID are refused.
func (m *Manager) Path(id, ext string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(m.dir, id+NormalizeExtension(ext)), nil
}

// Remove deletes a file that should not count as downloaded
func (m *Manager) Remove(path string) error {
	if err := m.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// NormalizeExtension lowercases ext, adds the dot and maps unknown values to .jpg
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if !isKnownExtension(ext) {
		return DefaultExtension
	}
	return ext
}

// ExtensionOf returns the normalised extension of a file name
func ExtensionOf(name string) string {
	return NormalizeExtension(filepath.Ext(name))
}

func isKnownExtension(ext string) bool {
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Move renames src to dst, falling back to copy and delete when a rename is
// not possible, and returns the size of dst.
func Move(fs afero.Fs, src, dst string) (int64, error) {
	if err := fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, fmt.Errorf("failed to create destination directory: %w", err)
	}

	if err := fs.Rename(src, dst); err != nil {
		if cerr := copyFile(fs, src, dst); cerr != nil {
			return 0, fmt.Errorf("failed to move %s to %s: %w", src, dst, errors.Join(err, cerr))
		}
		_ = fs.Remove(src)
	}

	info, err := fs.Stat(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", dst, err)
	}
	return info.Size(), nil
}

func copyFile(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	return WriteAtomic(fs, dst, in, 0644)
}

// WriteAtomic writes r to a temporary file next to path and renames it into place
func WriteAtomic(fs afero.Fs, path string, r io.Reader, perm os.FileMode) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := path + ".tmp"
	out, err := fs.OpenFile(tempFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	_, err = io.Copy(out, r)
	closeErr := out.Close()

	if err != nil {
		_ = fs.Remove(tempFile)
		return fmt.Errorf("failed to write data: %w", err)
	}
	if closeErr != nil {
		_ = fs.Remove(tempFile)
		return fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := fs.Rename(tempFile, path); err != nil {
		_ = fs.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}
