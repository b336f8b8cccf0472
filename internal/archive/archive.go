// Package archive assembles recorded or fetched audio into one zip container
// with an entry per unit.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrFinalized is returned when an archive is used after Finalize.
var ErrFinalized = errors.New("archive: already finalized")

// Archive maps entry names to payloads. Putting an existing name
// overwrites it. An Archive is safe for concurrent use.
type Archive struct {
	mu        sync.Mutex
	entries   map[string][]byte
	finalized bool
	modified  time.Time
}

// New creates an empty archive.
func New() *Archive {
	return &Archive{entries: make(map[string][]byte), modified: time.Now()}
}

// Put stores data under name.
func (a *Archive) Put(name string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return ErrFinalized
	}
	a.entries[name] = append([]byte(nil), data...)
	return nil
}

// Len returns the number of entries.
func (a *Archive) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Names returns the entry names in sorted order.
func (a *Archive) Names() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.namesLocked()
}

func (a *Archive) namesLocked() []string {
	names := make([]string, 0, len(a.entries))
	for name := range a.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Copy returns an unfinalized archive holding the same entries.
func (a *Archive) Copy() *Archive {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := &Archive{entries: make(map[string][]byte, len(a.entries)), modified: a.modified}
	for name, data := range a.entries {
		c.entries[name] = data
	}
	return c
}

// Finalize encodes the archive as a zip container. It can only be called
// once; an archive without entries yields a valid empty container.
func (a *Archive) Finalize() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return nil, ErrFinalized
	}
	a.finalized = true

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range a.namesLocked() {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: a.modified,
		})
		if err != nil {
			return nil, fmt.Errorf("create entry %s: %w", name, err)
		}
		if _, err := w.Write(a.entries[name]); err != nil {
			return nil, fmt.Errorf("write entry %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadNames lists the entry names of a zip container.
func ReadNames(data []byte) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names, nil
}
