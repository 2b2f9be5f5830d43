// Package fakeuserrepo is an in-memory users.UserRepo for the dev backend and tests.
package fakeuserrepo

import (
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/jrsteele09/citycard-gateway/internal/errors"
	"github.com/jrsteele09/citycard-gateway/users"
)

var _ users.UserRepo = (*FakeUserRepo)(nil)

// FakeUserRepo keeps private copies of the stored principals: callers never
// share a pointer with the repository.
type FakeUserRepo struct {
	mu      sync.RWMutex
	byID    map[string]*users.User
	byEmail map[string]string
}

func NewFakeUserRepo() *FakeUserRepo {
	return &FakeUserRepo{
		byID:    make(map[string]*users.User),
		byEmail: make(map[string]string),
	}
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Upsert stores a copy of user, assigning an ID to user when it has none.
// A second account with the same email is a conflict.
func (r *FakeUserRepo) Upsert(user *users.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := emailKey(user.Email)
	if owner, ok := r.byEmail[key]; ok && owner != user.ID {
		return apperrors.New(apperrors.KindConflict, "email already registered")
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if prev, ok := r.byID[user.ID]; ok && emailKey(prev.Email) != key {
		delete(r.byEmail, emailKey(prev.Email))
	}
	r.byID[user.ID] = user.Clone()
	r.byEmail[key] = user.ID
	return nil
}

func (r *FakeUserRepo) Delete(email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := emailKey(email)
	id, ok := r.byEmail[key]
	if !ok {
		return errNotFound()
	}
	delete(r.byEmail, key)
	delete(r.byID, id)
	return nil
}

func (r *FakeUserRepo) GetByEmail(email string) (*users.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.byEmail[emailKey(email)]; ok {
		return r.byID[id].Clone(), nil
	}
	return nil, errNotFound()
}

func (r *FakeUserRepo) GetByID(id string) (*users.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.byID[id]; ok {
		return u.Clone(), nil
	}
	return nil, errNotFound()
}

// List pages through the accounts ordered by creation time, then ID. A
// non-positive limit returns everything from offset on.
func (r *FakeUserRepo) List(offset, limit int) ([]*users.User, error) {
	r.mu.RLock()
	all := make([]*users.User, 0, len(r.byID))
	for _, u := range r.byID {
		all = append(all, u.Clone())
	}
	r.mu.RUnlock()

	slices.SortFunc(all, func(a, b *users.User) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if offset >= len(all) {
		return nil, nil
	}
	end := len(all)
	if limit > 0 {
		end = min(offset+limit, end)
	}
	return all[offset:end], nil
}

func (r *FakeUserRepo) SetVerified(email string, verified bool) error {
	return r.modify(email, func(u *users.User) { u.EmailVerified = verified })
}

func (r *FakeUserRepo) SetActive(email string, active bool) error {
	return r.modify(email, func(u *users.User) { u.Active = active })
}

func (r *FakeUserRepo) modify(email string, fn func(*users.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[r.byEmail[emailKey(email)]]
	if !ok {
		return errNotFound()
	}
	fn(u)
	return nil
}

func errNotFound() error {
	return apperrors.New(apperrors.KindNotFound, "user not found")
}
