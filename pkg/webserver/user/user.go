// Package user holds registered accounts in memory.
package user

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrDuplicateUser is returned by Create when the ID is taken.
	ErrDuplicateUser = errors.New("user: duplicate user id")

	// ErrInvalidUser is returned by Create when a required field is empty.
	ErrInvalidUser = errors.New("user: invalid user")

	// ErrInvalidCredentials is returned by Authenticate for an unknown ID
	// or a wrong password. The two cases are not distinguished.
	ErrInvalidCredentials = errors.New("user: invalid credentials")

	// ErrNotFound is returned by Get for an unknown ID.
	ErrNotFound = errors.New("user: not found")
)

// User is a registered account. The password hash never leaves the store.
type User struct {
	ID    string `json:"userId"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Registration carries the fields submitted on signup.
type Registration struct {
	ID       string `json:"userId" validate:"notblank,max=64"`
	Password string `json:"password" validate:"required,maxbytes=72"`
	Name     string `json:"name" validate:"notblank,max=64"`
	Email    string `json:"email" validate:"notblank,max=254"`
}

var validate = newValidator()

// newValidator reports fields by their JSON names, which are also the form
// field names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	rules := map[string]validator.Func{
		"notblank": func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		},
		// maxbytes bounds the UTF-8 length, where max counts characters.
		"maxbytes": func(fl validator.FieldLevel) bool {
			n, err := strconv.Atoi(fl.Param())
			return err == nil && len(fl.Field().String()) <= n
		},
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(err)
		}
	}
	return v
}

// Validate reports the first invalid field, wrapped in ErrInvalidUser.
// Passwords are limited to 72 bytes, the most bcrypt accepts.
func (r Registration) Validate() error {
	err := validate.Struct(r)
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return err
	}

	f := fields[0]
	switch f.Tag() {
	case "max":
		return fmt.Errorf("%w: %s is longer than %s characters", ErrInvalidUser, f.Field(), f.Param())
	case "maxbytes":
		return fmt.Errorf("%w: %s is longer than %s bytes", ErrInvalidUser, f.Field(), f.Param())
	}
	return fmt.Errorf("%w: %s is required", ErrInvalidUser, f.Field())
}

type record struct {
	user User
	hash []byte
}

// MemoryStore is a concurrency-safe user store. List returns users in
// registration order.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]int
	records []record
	cost    int
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithCost sets the bcrypt cost. Tests use bcrypt.MinCost.
func WithCost(cost int) Option {
	return func(s *MemoryStore) {
		s.cost = cost
	}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		byID: make(map[string]int),
		cost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new user.
func (s *MemoryStore) Create(reg Registration) (User, error) {
	if err := reg.Validate(); err != nil {
		return User{}, err
	}

	// Hash outside the lock; bcrypt is deliberately slow.
	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), s.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return User{}, fmt.Errorf("%w: %w", ErrInvalidUser, err)
	}
	if err != nil {
		return User{}, fmt.Errorf("user: hash password: %w", err)
	}

	u := User{ID: reg.ID, Name: reg.Name, Email: reg.Email}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[u.ID]; ok {
		return User{}, fmt.Errorf("%w: %s", ErrDuplicateUser, u.ID)
	}
	s.byID[u.ID] = len(s.records)
	s.records = append(s.records, record{user: u, hash: hash})
	return u, nil
}

// Authenticate checks id and password and returns the matching user.
func (s *MemoryStore) Authenticate(id, password string) (User, error) {
	s.mu.RLock()
	idx, ok := s.byID[id]
	var rec record
	if ok {
		rec = s.records[idx]
	}
	s.mu.RUnlock()

	if !ok {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(rec.hash, []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return rec.user, nil
}

// Get returns the user with the given ID.
func (s *MemoryStore) Get(id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.records[idx].user, nil
}

// List returns every user in registration order.
func (s *MemoryStore) List() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]User, len(s.records))
	for i, rec := range s.records {
		users[i] = rec.user
	}
	return users
}

// Len returns the number of registered users.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
