// Package pairing implements the Pairing Manager: short one-time codes
// exchanged for long-lived bearer tokens, with only salted hashes kept in
// memory so the manager is safe to log or dump for diagnostics.
package pairing

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	// CodeLength is the length of a generated pairing code.
	CodeLength = 6
	// CodeAlphabet excludes 0/O/I/1 to avoid operator transcription errors.
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// DefaultCodeTTL is how long an unexchanged code stays valid.
	DefaultCodeTTL = 10 * time.Minute
	// DefaultTokenTTL is how long an exchanged bearer token stays valid.
	DefaultTokenTTL = 30 * 24 * time.Hour
	// bcryptCost trades validateToken latency for resistance to a stolen
	// in-memory dump; acceptable here since tokens are opaque random strings,
	// not user-chosen passwords, and the client list is small.
	bcryptCost = bcrypt.DefaultCost
)

var (
	// ErrCodeNotFound is returned when a code doesn't exist or has expired.
	ErrCodeNotFound = errors.New("pairing code not found or expired")
	// ErrCodeAlreadyUsed is returned for a code marked consumed. ExchangeCode
	// deletes a code once exchanged, so a second exchange of the same code
	// returns ErrCodeNotFound.
	ErrCodeAlreadyUsed = errors.New("pairing code already used")
)

// Code describes an outstanding pairing code.
type Code struct {
	Code      string
	Label     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type pendingCode struct {
	label     string
	createdAt time.Time
	expiresAt time.Time
	consumed  bool
}

// Client describes a device that has exchanged a code for a token.
type Client struct {
	Label      string
	PairedAt   time.Time
	ExpiresAt  time.Time
	LastUsedAt time.Time
}

type pairedClient struct {
	tokenHash  []byte
	label      string
	pairedAt   time.Time
	expiresAt  time.Time
	lastUsedAt time.Time
}

// Stats summarizes the manager's outstanding state.
type Stats struct {
	ActiveCodes   int
	PairedClients int
}

// Manager issues pairing codes and exchanges them for bearer tokens. Storage
// is in-memory only; durability across restarts is a collaborator concern.
type Manager struct {
	mu       sync.Mutex
	codeTTL  time.Duration
	tokenTTL time.Duration
	codes    map[string]*pendingCode
	clients  []*pairedClient
}

// New creates a Manager with the spec's default TTLs.
func New() *Manager {
	return NewWithTTLs(DefaultCodeTTL, DefaultTokenTTL)
}

// NewWithTTLs creates a Manager with explicit code and token TTLs, for
// deployments that need shorter-lived pairing windows.
func NewWithTTLs(codeTTL, tokenTTL time.Duration) *Manager {
	return &Manager{
		codeTTL:  codeTTL,
		tokenTTL: tokenTTL,
		codes:    make(map[string]*pendingCode),
	}
}

func randomCode() (string, error) {
	b := make([]byte, CodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, CodeLength)
	for i, v := range b {
		out[i] = CodeAlphabet[int(v)%len(CodeAlphabet)]
	}
	return string(out), nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, len(b)*2)
	const hex = "0123456789abcdef"
	for i, v := range b {
		out[i*2] = hex[v>>4]
		out[i*2+1] = hex[v&0x0f]
	}
	return string(out), nil
}

// GenerateCode issues a new one-shot pairing code. label is an optional
// human-readable hint (e.g. "Sarah's laptop") carried through to the
// resulting Client once exchanged.
func (m *Manager) GenerateCode(label string) (Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneExpiredLocked()

	var code string
	for attempt := 0; attempt < 50; attempt++ {
		candidate, err := randomCode()
		if err != nil {
			return Code{}, err
		}
		if _, exists := m.codes[candidate]; !exists {
			code = candidate
			break
		}
	}
	if code == "" {
		return Code{}, errors.New("pairing: failed to allocate a unique code")
	}

	now := time.Now()
	expires := now.Add(m.codeTTL)
	m.codes[code] = &pendingCode{label: label, createdAt: now, expiresAt: expires}

	return Code{Code: code, Label: label, CreatedAt: now, ExpiresAt: expires}, nil
}

// ExchangeCode consumes a one-shot code and returns a bearer token. labelOverride,
// if non-empty, replaces the label set at generation time.
func (m *Manager) ExchangeCode(code string, labelOverride string) (string, error) {
	code = normalizeCode(code)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneExpiredLocked()

	pending, ok := m.codes[code]
	if !ok {
		return "", ErrCodeNotFound
	}
	if pending.consumed {
		return "", ErrCodeAlreadyUsed
	}
	delete(m.codes, code)

	label := pending.label
	if labelOverride != "" {
		label = labelOverride
	}

	token, err := randomToken()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcryptCost)
	if err != nil {
		return "", err
	}

	now := time.Now()
	m.clients = append(m.clients, &pairedClient{
		tokenHash:  hash,
		label:      label,
		pairedAt:   now,
		expiresAt:  now.Add(m.tokenTTL),
		lastUsedAt: now,
	})

	return token, nil
}

// ValidateToken reports whether token is a live, unexpired bearer token.
// Comparison happens via bcrypt's constant-time digest compare; a
// not-found or expired token is indistinguishable from an invalid one.
func (m *Manager) ValidateToken(token string) bool {
	if token == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for _, c := range m.clients {
		if now.After(c.expiresAt) {
			continue
		}
		if bcrypt.CompareHashAndPassword(c.tokenHash, []byte(token)) == nil {
			c.lastUsedAt = now
			return true
		}
	}
	return false
}

// ListCodes returns every outstanding, unexpired pairing code.
func (m *Manager) ListCodes() []Code {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneExpiredLocked()

	out := make([]Code, 0, len(m.codes))
	for code, p := range m.codes {
		out = append(out, Code{Code: code, Label: p.label, CreatedAt: p.createdAt, ExpiresAt: p.expiresAt})
	}
	return out
}

// ListClients returns every paired client with a live token.
func (m *Manager) ListClients() []Client {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	out := make([]Client, 0, len(m.clients))
	for _, c := range m.clients {
		if now.After(c.expiresAt) {
			continue
		}
		out = append(out, Client{Label: c.label, PairedAt: c.pairedAt, ExpiresAt: c.expiresAt, LastUsedAt: c.lastUsedAt})
	}
	return out
}

// RevokeCode invalidates an outstanding code before it's ever exchanged.
// Returns false if the code doesn't exist.
func (m *Manager) RevokeCode(code string) bool {
	code = normalizeCode(code)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.codes[code]; !ok {
		return false
	}
	delete(m.codes, code)
	return true
}

// RevokeToken invalidates a live bearer token. Returns false if the token
// doesn't match any paired client.
func (m *Manager) RevokeToken(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, c := range m.clients {
		if bcrypt.CompareHashAndPassword(c.tokenHash, []byte(token)) == nil {
			m.clients = append(m.clients[:i], m.clients[i+1:]...)
			return true
		}
	}
	return false
}

// Stats returns counts of active codes and paired clients.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneExpiredLocked()

	now := time.Now()
	live := 0
	for _, c := range m.clients {
		if now.Before(c.expiresAt) {
			live++
		}
	}
	return Stats{ActiveCodes: len(m.codes), PairedClients: live}
}

func (m *Manager) pruneExpiredLocked() {
	now := time.Now()
	for code, p := range m.codes {
		if now.After(p.expiresAt) {
			delete(m.codes, code)
		}
	}
	live := m.clients[:0]
	for _, c := range m.clients {
		if now.Before(c.expiresAt) {
			live = append(live, c)
		}
	}
	m.clients = live
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
