// Package storage manages the download directory.
//
// Images are stored flat as {id}{ext}, where ext is one of .jpg, .jpeg, .png
// or .webp. Find probes those names in order and reports the first non-empty
// file, which is how already downloaded entries are skipped.
//
// All operations go through an afero.Fs so the coordinator can run against an
// in-memory filesystem in tests and a read-only view during dry runs.
//
// IDs that fail ValidateID never become paths, so no entry can name a file
// outside the directory.
//
// Writes are atomic: WriteAtomic writes to {path}.tmp and renames it into
// place, and Move renames a finished browser transfer to its final name,
// copying when the rename crosses devices.
//
//	m := storage.NewManager(afero.NewOsFs(), "./downloads")
//	if err := m.EnsureDir(); err != nil {
//	    return err
//	}
//	if existing, ok, _ := m.Find(id); ok {
//	    fmt.Println("already have", existing.Path)
//	}
package storage
