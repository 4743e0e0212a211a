package repository

import (
	"context"
	"slices"
	"sync"

	"github.com/atinyakov/koracockpit/internal/models"
)

// MemoryUserRepository keeps users and wallets in process memory.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	users   map[string]models.User
	byEmail map[string]string
	wallets map[string]int64
}

// NewMemoryUserRepository returns an empty repository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		users:   map[string]models.User{},
		byEmail: map[string]string{},
		wallets: map[string]int64{},
	}
}

func (r *MemoryUserRepository) CreateUser(_ context.Context, u models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; ok {
		return ErrConflict
	}
	if _, ok := r.byEmail[u.Email]; ok && u.Email != "" {
		return ErrConflict
	}
	r.put(u)
	r.wallets[u.ID] = 0
	return nil
}

func (r *MemoryUserRepository) UpsertUser(_ context.Context, u models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.users[u.ID]; ok && old.Email != "" {
		delete(r.byEmail, old.Email)
	}
	r.put(u)
	if _, ok := r.wallets[u.ID]; !ok {
		r.wallets[u.ID] = 0
	}
	return nil
}

func (r *MemoryUserRepository) put(u models.User) {
	u.PasswordHash = slices.Clone(u.PasswordHash)
	r.users[u.ID] = u
	if u.Email != "" {
		r.byEmail[u.Email] = u.ID
	}
}

func (r *MemoryUserRepository) GetUserByID(_ context.Context, id string) (models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return u, nil
}

func (r *MemoryUserRepository) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	r.mu.RLock()
	id, ok := r.byEmail[email]
	r.mu.RUnlock()
	if !ok {
		return models.User{}, ErrNotFound
	}
	return r.GetUserByID(ctx, id)
}

func (r *MemoryUserRepository) GetWallet(_ context.Context, userID string) (models.Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cents, ok := r.wallets[userID]
	if !ok {
		return models.Wallet{}, ErrNotFound
	}
	return models.Wallet{UserID: userID, BalanceCents: cents}, nil
}

// SetBalance overwrites a wallet balance. It creates the wallet if needed.
func (r *MemoryUserRepository) SetBalance(userID string, cents int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wallets[userID] = cents
}
