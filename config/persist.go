package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/foreman/errors"
)

// FileStore writes dispatch tunables back to the user config file so that
// runtime changes survive a reinstall of the database. Writes go through
// rotating backups and are announced to the attached watcher to prevent
// reload loops.
type FileStore struct {
	path    string
	watcher *Watcher // optional, marked before own writes
}

// NewFileStore creates a file store for the given config path. An empty
// path falls back to the user config location.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = UserConfigPath()
	}
	return &FileStore{path: path}
}

// AttachWatcher couples the store with the watcher observing its file.
func (fs *FileStore) AttachWatcher(w *Watcher) {
	fs.watcher = w
}

// Path returns the file this store writes to.
func (fs *FileStore) Path() string {
	return fs.path
}

// WriteDispatch merges the dispatch section into the config file, keeping
// any other sections the operator has written by hand.
func (fs *FileStore) WriteDispatch(cfg DispatchConfig) error {
	if fs.path == "" {
		return errors.New("could not determine config file path")
	}

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(fs.path), 0750); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	// Load the existing document, or start fresh
	document := make(map[string]interface{})
	if data, err := os.ReadFile(fs.path); err == nil {
		if err := toml.Unmarshal(data, &document); err != nil {
			return errors.Wrap(err, "failed to parse config file")
		}
	}

	document["dispatch"] = dispatchValues(cfg)

	return fs.save(document)
}

// save writes the document with backup rotation.
func (fs *FileStore) save(document map[string]interface{}) error {
	// Create backup
	if err := createBackup(fs.path); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	// Marshal to TOML
	data, err := toml.Marshal(document)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	// Mark this as our own write to prevent reload loops
	if fs.watcher != nil {
		fs.watcher.MarkOwnWrite()
	}

	// Write to file
	if err := os.WriteFile(fs.path, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	// Check if file exists before backing up
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil // No file to backup
	}

	// Rotate backups: .back3 -> delete, .back2 -> .back3, .back1 -> .back2, current -> .back1
	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	// Delete oldest backup if exists
	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to delete old backup %s", back3)
	}

	// Rotate .back2 to .back3
	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}

	// Rotate .back1 to .back2
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	// Copy current to .back1
	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}
