package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// tokenKey is the settings-file field holding the long-lived token.
const tokenKey = "oauth_token"

// Settings provides access to the collaborator-owned settings file that
// persists the long-lived token. Installers and template renderers keep their
// own fields in the same file, so writes go through sjson and leave
// unrecognized fields byte-for-byte untouched. Token values never reach the
// log through this type.
type Settings struct {
	path string
}

// NewSettings returns a Settings bound to the given file path. The file need
// not exist yet; a missing file reads as "no token configured".
func NewSettings(path string) *Settings {
	return &Settings{path: path}
}

// Path returns the settings file path.
func (s *Settings) Path() string {
	return s.path
}

// Token returns the long-lived token, or an empty string when the file does
// not exist or carries no token. A present-but-unreadable or corrupt file is
// an error: silently treating it as unauthenticated would send the user back
// through a device flow for nothing.
func (s *Settings) Token() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("unable to read settings file: %v", err)
	}
	if len(data) == 0 {
		return "", nil
	}
	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("settings file is not valid JSON: %s", s.path)
	}
	return gjson.GetBytes(data, tokenKey).String(), nil
}

// HasToken reports whether a non-empty token is configured.
func (s *Settings) HasToken() bool {
	token, err := s.Token()
	return err == nil && token != ""
}

// WriteToken persists the long-lived token, creating the file if needed. The
// write is staged to a temp file and renamed into place so the watcher and
// concurrent readers never observe a partially written file.
func (s *Settings) WriteToken(token string) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("unable to read settings file: %v", err)
		}
		data = []byte("{}")
	}
	if len(data) == 0 {
		data = []byte("{}")
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("settings file is not valid JSON: %s", s.path)
	}

	updated, err := sjson.SetBytes(data, tokenKey, token)
	if err != nil {
		return fmt.Errorf("unable to update settings: %v", err)
	}
	return s.replace(updated)
}

// ClearToken removes the token field, leaving the rest of the file intact.
func (s *Settings) ClearToken() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("unable to read settings file: %v", err)
	}
	if len(data) == 0 {
		return nil
	}
	updated, err := sjson.DeleteBytes(data, tokenKey)
	if err != nil {
		return fmt.Errorf("unable to update settings: %v", err)
	}
	return s.replace(updated)
}

func (s *Settings) replace(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("unable to create settings directory: %v", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*")
	if err != nil {
		return fmt.Errorf("unable to stage settings write: %v", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("unable to write settings: %v", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("unable to set settings permissions: %v", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("unable to finish settings write: %v", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("unable to replace settings file: %v", err)
	}
	return nil
}
