// Package prefs persists the device identity and the last joined session.
package prefs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Prefs is the on-disk state. The file holds nothing else.
type Prefs struct {
	// AppUserID is generated on first run and reused on every later run.
	AppUserID string `yaml:"app_user_id"`

	// SavedSessionCode is the last session joined, empty after leaving.
	SavedSessionCode string `yaml:"saved_session_code"`
}

// Load reads the prefs file. A missing file yields empty prefs.
func Load(path string) (*Prefs, error) {
	if path == "" {
		return nil, errors.New("prefs path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Prefs{}, nil
		}
		return nil, fmt.Errorf("failed to read prefs: %w", err)
	}

	var p Prefs
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse prefs %s: %w", path, err)
	}
	return &p, nil
}

// Save writes the prefs atomically with 0600 permissions.
func Save(path string, p *Prefs) error {
	if path == "" {
		return errors.New("prefs path is empty")
	}
	if p == nil {
		return errors.New("prefs is nil")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".sharedcal-prefs-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// EnsureUserID returns the stored owner ID, generating and saving one on
// first use.
func EnsureUserID(path string) (string, error) {
	p, err := Load(path)
	if err != nil {
		return "", err
	}
	if p.AppUserID != "" {
		return p.AppUserID, nil
	}

	p.AppUserID = uuid.NewString()
	if err := Save(path, p); err != nil {
		return "", fmt.Errorf("failed to save new user id: %w", err)
	}
	return p.AppUserID, nil
}

// ResetIdentity replaces the owner ID with a fresh one and forgets the saved
// session. Records uploaded under the old ID are not touched.
func ResetIdentity(path string) (string, error) {
	p := &Prefs{AppUserID: uuid.NewString()}
	if err := Save(path, p); err != nil {
		return "", fmt.Errorf("failed to reset identity: %w", err)
	}
	return p.AppUserID, nil
}

// SaveSessionCode remembers the session to rejoin on the next run. An empty
// code clears it.
func SaveSessionCode(path, code string) error {
	p, err := Load(path)
	if err != nil {
		return err
	}
	p.SavedSessionCode = strings.TrimSpace(code)
	return Save(path, p)
}
