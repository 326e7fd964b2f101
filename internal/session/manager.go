package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/rs/zerolog"

	"github.com/erauner12/wa-gateway/internal/store"
	"github.com/erauner12/wa-gateway/internal/upstream"
)

// ErrBadUsername rejects tenant names that are unsafe as directory names.
var ErrBadUsername = errors.New("session: invalid username")

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// Manager is the tenant registry: one Session per username, created on
// demand. The sessions directory doubles as the discovery source for
// restoring sessions after a restart.
type Manager struct {
	dialer      upstream.Dialer
	store       store.Store
	producer    Producer
	notifier    Notifier
	sessionsDir string
	opts        Options
	log         zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(dialer upstream.Dialer, st store.Store, producer Producer, notifier Notifier, sessionsDir string, opts Options, logger zerolog.Logger) *Manager {
	return &Manager{
		dialer:      dialer,
		store:       st,
		producer:    producer,
		notifier:    notifier,
		sessionsDir: sessionsDir,
		opts:        opts,
		log:         logger.With().Str("component", "session_manager").Logger(),
		sessions:    make(map[string]*Session),
	}
}

// GetOrCreate returns the tenant's session, creating an idle one if needed.
func (m *Manager) GetOrCreate(username string) (*Session, error) {
	if !usernameRe.MatchString(username) {
		return nil, ErrBadUsername
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[username]; ok {
		return s, nil
	}
	s := NewSession(username, filepath.Join(m.sessionsDir, username),
		m.dialer, m.store, m.producer, m.notifier, m.opts, m.log)
	m.sessions[username] = s
	return s, nil
}

// Get returns an existing session without creating one.
func (m *Manager) Get(username string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[username]
	return s, ok
}

// Connect initializes (or re-initializes) the tenant's session.
func (m *Manager) Connect(ctx context.Context, username string) (*Session, error) {
	s, err := m.GetOrCreate(username)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// AutoConnectAll restores every session with credentials on disk. Called
// once at startup; per-tenant failures are logged and skipped.
func (m *Manager) AutoConnectAll(ctx context.Context) {
	entries, err := os.ReadDir(m.sessionsDir)
	if err != nil {
		if !os.IsNotExist(err) {
			m.log.Error().Err(err).Str("dir", m.sessionsDir).Msg("reading sessions directory")
		}
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		username := e.Name()
		if !m.dialer.HasStoredCredentials(filepath.Join(m.sessionsDir, username)) {
			continue
		}
		s, err := m.GetOrCreate(username)
		if err != nil {
			m.log.Warn().Err(err).Str("username", username).Msg("skipping session directory")
			continue
		}
		if err := s.Connect(ctx); err != nil {
			m.log.Error().Err(err).Str("username", username).Msg("auto-connect failed")
			continue
		}
		m.log.Info().Str("username", username).Msg("session restored")
	}
}

// CloseAll tears down every session. Credentials stay on disk.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close()
		}(s)
	}
	wg.Wait()
}
