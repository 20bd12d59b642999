// Package profile persists the upstream session (cookies and headers) and the
// access token guarding the API.
package profile

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/atinyakov/cardsync/internal/apperr"
	"github.com/atinyakov/cardsync/internal/fetch"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Profile is the on-disk session document.
type Profile struct {
	Cookie  map[string]string `json:"cookie"`
	Token   string            `json:"token"`
	Headers map[string]string `json:"headers"`
}

// Service reads and writes the profile file. It is safe for concurrent use.
type Service struct {
	path     string
	log      *zap.Logger
	newToken func() string

	mu sync.Mutex
}

// New returns a Service backed by the file at path.
func New(path string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		path:     path,
		log:      log,
		newToken: func() string { return uuid.NewString() },
	}
}

// Load reads the profile. A missing file is replaced by an empty profile,
// which is written back. Undecodable content fails with
// apperr.ProfileCorruptedError.
func (s *Service) Load() (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Service) load() (Profile, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Warn("profile file not found, creating new profile", zap.String("path", s.path))
		p := Profile{Cookie: map[string]string{}, Headers: map[string]string{}}
		if err := s.save(p); err != nil {
			return Profile{}, err
		}
		return p, nil
	}
	if err != nil {
		return Profile{}, fmt.Errorf("read profile %s: %w", s.path, err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		s.log.Error("profile file corrupted", zap.String("path", s.path), zap.Error(err))
		return Profile{}, &apperr.ProfileCorruptedError{Path: s.path, Err: err}
	}
	return p, nil
}

// Save writes p to the profile file, replacing it atomically.
func (s *Service) Save(p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(p)
}

func (s *Service) save(p Profile) error {
	data, err := json.MarshalIndent(p, "", "    ")
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".profile-*.json")
	if err != nil {
		return fmt.Errorf("create temp profile: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close profile: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("chmod profile: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace profile: %w", err)
	}
	return nil
}

// CreateProfile stores a fresh session and returns the newly issued token.
// The light theme cookie is always added.
func (s *Service) CreateProfile(cookies map[string]string, csrfToken string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jar := make(map[string]string, len(cookies)+1)
	for k, v := range cookies {
		jar[k] = v
	}
	jar["theme"] = "light"

	token := s.newToken()
	p := Profile{
		Cookie:  jar,
		Token:   token,
		Headers: DefaultHeaders(csrfToken),
	}
	if err := s.save(p); err != nil {
		return "", err
	}

	s.log.Info("new profile created", zap.String("token_prefix", token[:min(8, len(token))]))
	return token, nil
}

// ValidateToken checks token against the stored one and returns the profile.
func (s *Service) ValidateToken(token string) (Profile, error) {
	p, err := s.Load()
	if err != nil {
		return Profile{}, err
	}
	if token == "" {
		s.log.Warn("token not provided")
		return Profile{}, &apperr.InvalidTokenError{Reason: "token not provided"}
	}
	if p.Token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(p.Token)) != 1 {
		s.log.Warn("invalid token provided")
		return Profile{}, &apperr.InvalidTokenError{Reason: "invalid token"}
	}
	return p, nil
}

// RequestCredentials returns the stored session for authenticated fetches.
// A profile without headers falls back to DefaultHeaders. The request timeout
// is left to the fetch configuration.
func (s *Service) RequestCredentials(_ context.Context) (fetch.Credentials, error) {
	p, err := s.Load()
	if err != nil {
		return fetch.Credentials{}, err
	}
	headers := p.Headers
	if len(headers) == 0 {
		headers = DefaultHeaders("")
	}
	return fetch.Credentials{
		Cookies: p.Cookie,
		Headers: headers,
	}, nil
}

// DefaultHeaders returns the browser-like headers sent upstream.
func DefaultHeaders(csrfToken string) map[string]string {
	return map[string]string{
		"Host":             "mangabuff.ru",
		"User-Agent":       "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:136.0) Gecko/20100101 Firefox/136.0",
		"Accept":           "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language":  "en-US,en;q=0.5",
		"Accept-Encoding":  "gzip, deflate, br, zstd",
		"Connection":       "keep-alive",
		"Sec-Fetch-Dest":   "document",
		"Sec-Fetch-Mode":   "navigate",
		"Sec-Fetch-Site":   "same-origin",
		"Sec-Fetch-User":   "?1",
		"Priority":         "u=0, i",
		"x-csrf-token":     csrfToken,
		"x-requested-with": "XMLHttpRequest",
	}
}
