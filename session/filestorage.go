package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// FileStorage persists values in a JSON file shared by several profiles.
// Writes take a lock file and replace the file atomically, so concurrent
// CLI processes never lose each other's entries.
type FileStorage struct {
	path    string
	profile string
}

// fileContents is the on-disk layout: profile -> key -> value.
type fileContents struct {
	Profiles map[string]map[string]string `json:"profiles"`
}

// NewFileStorage returns a FileStorage for profile backed by path.
func NewFileStorage(path, profile string) *FileStorage {
	return &FileStorage{path: path, profile: profile}
}

// Path returns the backing file path.
func (f *FileStorage) Path() string { return f.path }

func (f *FileStorage) Load(key string) (string, error) {
	contents, err := f.read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}

	values, ok := contents.Profiles[f.profile]
	if !ok {
		return "", ErrNotFound
	}
	v, ok := values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *FileStorage) Save(key, value string) error {
	return f.update(func(values map[string]string) {
		values[key] = value
	})
}

func (f *FileStorage) Delete(key string) error {
	return f.update(func(values map[string]string) {
		delete(values, key)
	})
}

func (f *FileStorage) read() (*fileContents, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}

	var contents fileContents
	if err := json.Unmarshal(data, &contents); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	return &contents, nil
}

// update applies fn to this profile's values under the file lock
func (f *FileStorage) update(fn func(values map[string]string)) error {
	lock, err := acquireFileLock(f.path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		// release errors only leave a stale lock, which acquire cleans up
		_ = lock.release()
	}()

	// Load existing contents inside the lock; a corrupt file starts over
	contents, err := f.read()
	if err != nil {
		contents = &fileContents{}
	}
	if contents.Profiles == nil {
		contents.Profiles = make(map[string]map[string]string)
	}
	values := contents.Profiles[f.profile]
	if values == nil {
		values = make(map[string]string)
		contents.Profiles[f.profile] = values
	}

	fn(values)
	if len(values) == 0 {
		delete(contents.Profiles, f.profile)
	}

	data, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return err
	}

	tempFile := f.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, f.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
