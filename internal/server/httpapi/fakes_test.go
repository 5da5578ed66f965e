package httpapi

import (
	"context"
	"errors"
	"sync"

	"github.com/dmitrijs2005/mmarket/internal/server/models"
	"github.com/dmitrijs2005/mmarket/internal/server/services"
)

var errNotScripted = errors.New("not scripted")

// fakeUsers records calls and answers with the scripted funcs.
type fakeUsers struct {
	mu sync.Mutex

	authenticate func(password string, props models.UniqueProperties, ua string) (*services.AuthResult, error)
	create       func(in services.NewUser, ua string) (*services.AuthResult, error)
	update       func(id int64, in services.UpdateUser, ua string) (*services.AuthResult, error)
	refresh      func(token, ua string) (*services.AuthResult, error)
	resolve      func(token, ua string) (*models.Session, error)
	administrate func(id int64, in services.AdministrateUser) (*models.User, error)
	getByID      func(id int64) (*models.User, error)

	users     []*models.User
	addresses map[int64][]*models.Address

	resolvedUA []string
	loggedOut  []int64
	removed    []int64
	deleted    []int64
	scopes     []models.Scope
	pages      [][2]int
}

func (f *fakeUsers) Create(_ context.Context, in services.NewUser, ua string) (*services.AuthResult, error) {
	if f.create == nil {
		return nil, errNotScripted
	}
	return f.create(in, ua)
}

func (f *fakeUsers) Authenticate(_ context.Context, password string, props models.UniqueProperties, ua string) (*services.AuthResult, error) {
	if f.authenticate == nil {
		return nil, errNotScripted
	}
	return f.authenticate(password, props, ua)
}

func (f *fakeUsers) Update(_ context.Context, id int64, in services.UpdateUser, ua string) (*services.AuthResult, error) {
	if f.update == nil {
		return nil, errNotScripted
	}
	return f.update(id, in, ua)
}

func (f *fakeUsers) RefreshToken(_ context.Context, token, ua string) (*services.AuthResult, error) {
	if f.refresh == nil {
		return nil, errNotScripted
	}
	return f.refresh(token, ua)
}

func (f *fakeUsers) Logout(_ context.Context, id int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = append(f.loggedOut, id)
	return nil
}

func (f *fakeUsers) ResolveSession(_ context.Context, token, ua string) (*models.Session, error) {
	f.mu.Lock()
	f.resolvedUA = append(f.resolvedUA, ua)
	f.mu.Unlock()
	if f.resolve == nil {
		return nil, errNotScripted
	}
	return f.resolve(token, ua)
}

func (f *fakeUsers) Administrate(_ context.Context, id int64, in services.AdministrateUser) (*models.User, error) {
	if f.administrate == nil {
		return nil, errNotScripted
	}
	return f.administrate(id, in)
}

func (f *fakeUsers) Remove(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeUsers) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeUsers) GetAll(context.Context) ([]*models.User, error) {
	return f.users, nil
}

func (f *fakeUsers) GetSome(_ context.Context, limit, offset int) ([]*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = append(f.pages, [2]int{limit, offset})
	return f.users, nil
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*models.User, error) {
	if f.getByID == nil {
		return nil, errNotScripted
	}
	return f.getByID(id)
}

func (f *fakeUsers) GetByScope(_ context.Context, scope models.Scope) ([]*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scopes = append(f.scopes, scope)
	return f.users, nil
}

func (f *fakeUsers) CreateAddress(_ context.Context, userID int64, a *models.Address) (*models.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addresses == nil {
		f.addresses = make(map[int64][]*models.Address)
	}
	a.ID = int64(len(f.addresses[userID]) + 1)
	f.addresses[userID] = append(f.addresses[userID], a)
	return a, nil
}

func (f *fakeUsers) UpdateAddress(context.Context, int64, *models.Address) error { return nil }

func (f *fakeUsers) RemoveAddress(context.Context, int64, int64) error { return nil }

func (f *fakeUsers) GetAddresses(_ context.Context, userID int64) ([]*models.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addresses[userID], nil
}
