package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// FileStorage provides methods to manage files in a specific directory.
// All names are bare filenames; callers never pass paths with separators.
type FileStorage struct {
	dir string
}

// Entry describes one file in the storage directory.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// NewFileStorage creates a new FileStorage instance with the given directory.
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{dir: dir}
}

// Path returns the absolute location of a stored file.
func (s *FileStorage) Path(filename string) string {
	return filepath.Join(s.dir, filename)
}

// CreateFile creates a new file with the given filename in the storage directory.
func (s *FileStorage) CreateFile(filename string) (*os.File, error) {
	return os.Create(s.Path(filename))
}

// OpenFile opens an existing file for reading.
func (s *FileStorage) OpenFile(filename string) (*os.File, error) {
	return os.Open(s.Path(filename))
}

// FileExists checks whether a file exists in the storage directory.
func (s *FileStorage) FileExists(filename string) bool {
	_, err := os.Stat(s.Path(filename))
	return err == nil
}

// FileSize returns the size of the file in bytes.
func (s *FileStorage) FileSize(filename string) (int64, error) {
	info, err := os.Stat(s.Path(filename))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// WriteFile writes the given data to a file with the specified filename.
func (s *FileStorage) WriteFile(filename string, data []byte) error {
	return os.WriteFile(s.Path(filename), data, 0644)
}

// CopyFile copies data from the provided reader to a file with the specified filename.
// Returns the number of bytes written and any error encountered.
func (s *FileStorage) CopyFile(src io.Reader, dstFilename string) (int64, error) {
	dst, err := s.CreateFile(dstFilename)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	defer dst.Close()

	return io.Copy(dst, src)
}

// Remove deletes a stored file. Removing a file that is already absent is
// not an error, so terminal-transition retries stay safe.
func (s *FileStorage) Remove(filename string) error {
	if err := os.Remove(s.Path(filename)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// Entries lists the regular files currently in the storage directory.
func (s *FileStorage) Entries() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:    de.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return entries, nil
}
