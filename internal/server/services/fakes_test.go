package services

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/mmarket/internal/common"
	"github.com/dmitrijs2005/mmarket/internal/dbx"
	"github.com/dmitrijs2005/mmarket/internal/server/credentials"
	"github.com/dmitrijs2005/mmarket/internal/server/models"
	"github.com/dmitrijs2005/mmarket/internal/server/repositories/addresses"
	"github.com/dmitrijs2005/mmarket/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/mmarket/internal/server/repositories/users"
)

// --- users ---

type fakeUsersRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*models.User

	hashUpdates int
	createErr   error
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{rows: make(map[int64]*models.User)}
}

func clone(u *models.User) *models.User {
	c := *u
	return &c
}

func sameStr(a, b *string) bool { return a != nil && b != nil && *a == *b }

func (f *fakeUsersRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return nil, f.createErr
	}
	for _, r := range f.rows {
		if sameStr(r.Username, u.Username) || sameStr(r.Email, u.Email) || sameStr(r.Phonenumber, u.Phonenumber) {
			return nil, common.ErrorAlreadyExists
		}
	}
	f.nextID++
	u.ID = f.nextID
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	f.rows[u.ID] = clone(u)
	return u, nil
}

func (f *fakeUsersRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return clone(u), nil
}

func (f *fakeUsersRepo) GetByUniqueProperties(_ context.Context, p models.UniqueProperties) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.rows {
		switch {
		case p.Username != nil:
			if sameStr(u.Username, p.Username) {
				return clone(u), nil
			}
		case p.Phonenumber != nil:
			if sameStr(u.Phonenumber, p.Phonenumber) {
				return clone(u), nil
			}
		case p.Email != nil:
			if sameStr(u.Email, p.Email) {
				return clone(u), nil
			}
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) sorted(keep func(*models.User) bool) []*models.User {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*models.User, 0, len(f.rows))
	for _, u := range f.rows {
		if keep(u) {
			out = append(out, clone(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeUsersRepo) GetAll(context.Context) ([]*models.User, error) {
	return f.sorted(func(*models.User) bool { return true }), nil
}

func (f *fakeUsersRepo) GetSome(_ context.Context, limit, offset int) ([]*models.User, error) {
	all := f.sorted(func(*models.User) bool { return true })
	if offset >= len(all) {
		return []*models.User{}, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

func (f *fakeUsersRepo) GetByScope(_ context.Context, scope models.Scope) ([]*models.User, error) {
	switch scope {
	case models.ScopeAll:
		return f.sorted(func(*models.User) bool { return true }), nil
	case models.ScopeDeleted:
		return f.sorted(func(u *models.User) bool { return u.IsDeleted() }), nil
	default:
		return f.sorted(func(u *models.User) bool { return string(u.Rights) == string(scope) && !u.IsDeleted() }), nil
	}
}

func (f *fakeUsersRepo) Update(_ context.Context, id int64, p models.UserPatch) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	if p.Username != nil {
		u.Username = p.Username
	}
	if p.Email != nil {
		u.Email = p.Email
	}
	if p.Phonenumber != nil {
		u.Phonenumber = p.Phonenumber
	}
	if p.Name != nil {
		u.Name = p.Name
	}
	if p.Birthdate != nil {
		u.Birthdate = p.Birthdate
	}
	return clone(u), nil
}

func (f *fakeUsersRepo) mutate(id int64, fn func(*models.User)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.rows[id]
	if !ok {
		return common.ErrorNotFound
	}
	fn(u)
	return nil
}

func (f *fakeUsersRepo) UpdateRights(_ context.Context, id int64, r models.Rights) error {
	return f.mutate(id, func(u *models.User) { u.Rights = r })
}

func (f *fakeUsersRepo) UpdateLookupHash(_ context.Context, id int64, hash string, noise int64) error {
	return f.mutate(id, func(u *models.User) {
		f.hashUpdates++
		u.LookupHash = hash
		u.LookupNoise = noise
	})
}

func (f *fakeUsersRepo) Remove(_ context.Context, id int64) error {
	now := time.Now()
	return f.mutate(id, func(u *models.User) { u.DeletedAt = &now })
}

func (f *fakeUsersRepo) Restore(_ context.Context, id int64) error {
	return f.mutate(id, func(u *models.User) { u.DeletedAt = nil })
}

func (f *fakeUsersRepo) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.rows[id]; !ok {
		return common.ErrorNotFound
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeUsersRepo) RemoveAll(_ context.Context, keepPhone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, u := range f.rows {
		if models.StringValue(u.Phonenumber) != keepPhone {
			delete(f.rows, id)
		}
	}
	return nil
}

// --- addresses ---

type fakeAddressesRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*models.Address
	links  map[int64]map[int64]bool

	removeForUserErr error
}

func newFakeAddressesRepo() *fakeAddressesRepo {
	return &fakeAddressesRepo{
		rows:  make(map[int64]*models.Address),
		links: make(map[int64]map[int64]bool),
	}
}

func (f *fakeAddressesRepo) Create(_ context.Context, a *models.Address) (*models.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	a.ID = f.nextID
	c := *a
	f.rows[a.ID] = &c
	return a, nil
}

func (f *fakeAddressesRepo) Update(_ context.Context, a *models.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[a.ID]; !ok {
		return common.ErrorNotFound
	}
	c := *a
	f.rows[a.ID] = &c
	return nil
}

func (f *fakeAddressesRepo) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return common.ErrorNotFound
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeAddressesRepo) Link(_ context.Context, userID, addressID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.links[userID] == nil {
		f.links[userID] = make(map[int64]bool)
	}
	f.links[userID][addressID] = true
	return nil
}

func (f *fakeAddressesRepo) Unlink(_ context.Context, userID, addressID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.links[userID], addressID)
	return nil
}

func (f *fakeAddressesRepo) IsLinked(_ context.Context, userID, addressID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links[userID][addressID], nil
}

func (f *fakeAddressesRepo) GetForUser(_ context.Context, userID int64) ([]*models.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Address, 0)
	for id := range f.links[userID] {
		c := *f.rows[id]
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeAddressesRepo) RemoveForUser(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeForUserErr != nil {
		return f.removeForUserErr
	}
	for id := range f.links[userID] {
		delete(f.rows, id)
	}
	delete(f.links, userID)
	return nil
}

// --- repo manager ---

type fakeRepoManager struct {
	u *fakeUsersRepo
	a *fakeAddressesRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository              { return m.u }
func (m *fakeRepoManager) Addresses(dbx.DBTX) addresses.Repository      { return m.a }

// --- sessions ---

// failingSessions wraps a real session store and fails Remove.
type failingSessions struct {
	sessions.Repository
	removeErr error
}

func (f *failingSessions) Remove(context.Context, sessions.RemoveFilter) error {
	return f.removeErr
}

// --- credential store ---

// fakeStore replays scripted authority answers.
type fakeStore struct {
	mu sync.Mutex

	creates     []credentials.Result
	createErr   error
	createCalls int

	grant      credentials.Result
	verify     credentials.Verification
	update     credentials.Result
	refresh    credentials.Result
	remove     credentials.Result
	local      credentials.Result
	localErr   error
	lastHashes []string
}

func (f *fakeStore) CreateCredential(_ context.Context, id int64, hash, _ string, _ time.Duration) (credentials.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createCalls++
	f.lastHashes = append(f.lastHashes, hash)
	if f.createErr != nil {
		return credentials.Result{}, f.createErr
	}
	if len(f.creates) == 0 {
		return credentials.Result{ID: id, Token: "tok"}, nil
	}
	res := f.creates[0]
	if len(f.creates) > 1 {
		f.creates = f.creates[1:]
	}
	return res, nil
}

func (f *fakeStore) UpdateCredential(context.Context, int64, string, string, string, time.Duration) (credentials.Result, error) {
	return f.update, nil
}

func (f *fakeStore) GrantCredential(context.Context, int64, string, string, time.Duration) (credentials.Result, error) {
	return f.grant, nil
}

func (f *fakeStore) VerifyCredential(context.Context, string, string) (credentials.Verification, error) {
	return f.verify, nil
}

func (f *fakeStore) RefreshCredential(context.Context, string, time.Duration) (credentials.Result, error) {
	return f.refresh, nil
}

func (f *fakeStore) RemoveCredential(context.Context, string) (credentials.Result, error) {
	return f.remove, nil
}

func (f *fakeStore) VerifyTokenLocal(string) (credentials.Result, error) {
	return f.local, f.localErr
}

func failed(f credentials.Failure, msg string) credentials.Result {
	return credentials.Result{Failure: f, Message: msg}
}
