package authstub

import (
	"sync"

	"github.com/dmitrijs2005/mmarket/internal/server/credentials"
	"golang.org/x/crypto/bcrypt"
)

// foreignOwner marks records planted by ForceCollision.
const foreignOwner int64 = -1

type record struct {
	id       int64
	verifier []byte
}

// store keeps verifiers keyed by lookup hash. Lookup hashes are unique
// here, which is what makes collisions visible to the backend.
type store struct {
	mu      sync.Mutex
	records map[string]record
	cost    int
}

func newStore(cost int) *store {
	return &store{records: make(map[string]record), cost: cost}
}

func (s *store) create(id int64, hash, password string) error {
	verifier, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.records[hash]; taken {
		return errTaken
	}
	s.records[hash] = record{id: id, verifier: verifier}
	return nil
}

// check returns the owner id of hash when password matches.
func (s *store) check(hash, password string) (int64, error) {
	s.mu.Lock()
	rec, ok := s.records[hash]
	s.mu.Unlock()

	if !ok {
		return 0, errNotFound
	}
	if err := bcrypt.CompareHashAndPassword(rec.verifier, []byte(password)); err != nil {
		return 0, errInvalidPassword
	}
	return rec.id, nil
}

func (s *store) replace(hash, oldPassword, newPassword string) (int64, error) {
	id, err := s.check(hash, oldPassword)
	if err != nil {
		return 0, err
	}
	verifier, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[hash] = record{id: id, verifier: verifier}
	return id, nil
}

func (s *store) remove(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[hash]; !ok {
		return errNotFound
	}
	delete(s.records, hash)
	return nil
}

func (s *store) plant(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[hash]; !ok {
		s.records[hash] = record{id: foreignOwner}
	}
}

func (s *store) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]record)
}

func (s *store) snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int64, len(s.records))
	for h, r := range s.records {
		out[h] = r.id
	}
	return out
}

type stubError string

func (e stubError) Error() string { return string(e) }

const (
	errInvalidPassword = stubError(credentials.MsgInvalidPassword)
	errNotFound        = stubError(credentials.MsgLookupHashNotFound)
	errTaken           = stubError(credentials.MsgLookupHashTaken)
)
