package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// CredentialStore verifies username/password pairs.
type CredentialStore interface {
	Verify(ctx context.Context, username, password string) (User, error)
}

type credential struct {
	user User
	hash []byte
}

// MemoryCredentialStore keeps bcrypt hashes in memory.
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	users map[string]credential
	cost  int
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		users: make(map[string]credential),
		cost:  bcrypt.DefaultCost,
	}
}

// Add hashes password and stores the user, replacing any previous entry.
func (s *MemoryCredentialStore) Add(u User, password string) error {
	if u.Username == "" || password == "" {
		return fmt.Errorf("username and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	s.mu.Lock()
	s.users[u.Username] = credential{user: u, hash: hash}
	s.mu.Unlock()
	return nil
}

func (s *MemoryCredentialStore) Verify(_ context.Context, username, password string) (User, error) {
	s.mu.RLock()
	cred, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(cred.hash, []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, fmt.Errorf("verify password: %w", err)
	}
	return cred.user, nil
}

// DemoUsers are the development accounts. They must never be loaded in
// production.
var DemoUsers = []struct {
	User     User
	Password string
}{
	{User{Username: "admin", Name: "Administrator", Role: RoleAdmin}, "admin123"},
	{User{Username: "doctor", Name: "Doctor", Role: RoleDoctor}, "doctor123"},
	{User{Username: "user", Name: "User", Role: RoleUser}, "user123"},
}

// LoadDemoUsers adds DemoUsers to s.
func LoadDemoUsers(s *MemoryCredentialStore) error {
	for _, d := range DemoUsers {
		if err := s.Add(d.User, d.Password); err != nil {
			return err
		}
	}
	return nil
}
