package identity

import (
	"context"
	"encoding/base64"
	"sort"
	"sync"
)

type memoryRepository struct {
	mu          sync.RWMutex
	users       map[string]User
	credentials map[string]Credential
}

// NewMemoryRepository builds an in-memory identity store.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		users:       make(map[string]User),
		credentials: make(map[string]Credential),
	}
}

func credentialKey(id []byte) string {
	return base64.RawURLEncoding.EncodeToString(id)
}

func (r *memoryRepository) CreateUser(_ context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[user.Email]; exists {
		return ErrExists
	}
	user.Instruments = append([]Instrument(nil), user.Instruments...)
	r.users[user.Email] = user
	return nil
}

func (r *memoryRepository) FindUserByEmail(_ context.Context, email string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[email]
	if !ok {
		return User{}, ErrNotFound
	}
	user.Instruments = append([]Instrument(nil), user.Instruments...)
	return user, nil
}

func (r *memoryRepository) AddCredential(_ context.Context, cred Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := credentialKey(cred.ID)
	if _, exists := r.credentials[key]; exists {
		return ErrCredentialExists
	}
	r.credentials[key] = cred
	return nil
}

func (r *memoryRepository) FindCredential(_ context.Context, id []byte) (Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cred, ok := r.credentials[credentialKey(id)]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return cred, nil
}

func (r *memoryRepository) ListCredentials(_ context.Context, email string) ([]Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var creds []Credential
	for _, cred := range r.credentials {
		if cred.Email == email {
			creds = append(creds, cred)
		}
	}
	sort.Slice(creds, func(i, j int) bool { return creds[i].CreatedAt.Before(creds[j].CreatedAt) })
	return creds, nil
}

func (r *memoryRepository) UpdateSignCount(_ context.Context, id []byte, count uint32, cloneWarning bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := credentialKey(id)
	cred, ok := r.credentials[key]
	if !ok {
		return ErrCredentialNotFound
	}
	cred.SignCount = count
	cred.CloneWarning = cloneWarning
	r.credentials[key] = cred
	return nil
}
