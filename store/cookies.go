// Package store persists the portal session cookies between runs.
package store

import (
	"encoding/json"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"portal-sync/models"
)

// DefaultCookiesPath is used when no cookie file is configured
const DefaultCookiesPath = "cookies.json"

// CookieStore reads and writes the cookie record. Failures are logged and
// never returned: a missing or broken record simply means "no session".
type CookieStore struct {
	fs     afero.Fs
	path   string
	logger *zap.Logger
}

// NewCookieStore creates a store for the record at path on fs
func NewCookieStore(fs afero.Fs, path string, logger *zap.Logger) *CookieStore {
	if path == "" {
		path = DefaultCookiesPath
	}

	return &CookieStore{
		fs:     fs,
		path:   path,
		logger: logger.Named("cookies"),
	}
}

// Path returns the location of the cookie record
func (s *CookieStore) Path() string {
	return s.path
}

// Load reads the cookie record. Any failure yields an empty jar.
func (s *CookieStore) Load() models.CookieJar {
	jar, err := s.read()
	if err != nil {
		s.logger.Warn("Could not load cookies", zap.String("path", s.path), zap.Error(err))
		return models.CookieJar{}
	}

	s.logger.Debug("Loaded cookies", zap.String("path", s.path), zap.Int("count", len(jar)))
	return jar
}

// Save overwrites the cookie record with jar
func (s *CookieStore) Save(jar models.CookieJar) {
	if err := s.write(jar); err != nil {
		s.logger.Error("Could not save cookies", zap.String("path", s.path), zap.Error(err))
		return
	}

	s.logger.Debug("Saved cookies", zap.String("path", s.path), zap.Int("count", len(jar)))
}

func (s *CookieStore) read() (models.CookieJar, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read cookie file")
	}

	var record map[string]models.Cookie
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, goerr.Wrap(err, "failed to decode cookie file")
	}

	jar := make(models.CookieJar, len(record))
	for name, c := range record {
		c.Name = name
		jar.Set(c)
	}
	return jar, nil
}

func (s *CookieStore) write(jar models.CookieJar) error {
	if jar == nil {
		jar = models.CookieJar{}
	}

	data, err := json.MarshalIndent(jar, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to encode cookies")
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0700); err != nil {
			return goerr.Wrap(err, "failed to create cookie directory", goerr.V("dir", dir))
		}
	}

	if err := afero.WriteFile(s.fs, s.path, data, 0600); err != nil {
		return goerr.Wrap(err, "failed to write cookie file")
	}
	return nil
}
