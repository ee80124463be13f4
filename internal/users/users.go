// Package users holds the JSON-file user directory, password checks and
// the session cookie that carries the signed-in actor.
package users

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/keithlinneman/flatcms/internal/content"
)

var (
	ErrUnknownUser        = errors.New("users: unknown user")
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	ErrUnknownRole        = errors.New("users: unknown role")
)

// User is one entry of the users file. Password is a bcrypt hash.
type User struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Directory is the user list backed by an optional JSON file. It is safe
// for concurrent use.
type Directory struct {
	mu    sync.RWMutex
	path  string
	users []User
	cost  int
}

// Load reads the users file. An empty path gives an empty in-memory
// directory in which everybody is Guest.
func Load(path string) (*Directory, error) {
	d := &Directory{path: path, cost: bcrypt.DefaultCost}
	if path == "" {
		return d, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}
	var list []User
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("parse users file %s: %w", path, err)
	}
	if err := validate(list); err != nil {
		return nil, fmt.Errorf("users file %s: %w", path, err)
	}
	d.users = list
	return d, nil
}

// New builds an in-memory directory, mostly for tests and the CLI.
func New(list []User) (*Directory, error) {
	if err := validate(list); err != nil {
		return nil, err
	}
	return &Directory{users: slices.Clone(list), cost: bcrypt.MinCost}, nil
}

func validate(list []User) error {
	seen := make(map[string]bool, len(list))
	for i, u := range list {
		if u.Username == "" {
			return fmt.Errorf("entry %d: empty username", i)
		}
		if seen[u.Username] {
			return fmt.Errorf("duplicate user %q", u.Username)
		}
		seen[u.Username] = true
		if !slices.Contains(content.Roles(), u.Role) {
			return fmt.Errorf("user %q: %w %q", u.Username, ErrUnknownRole, u.Role)
		}
	}
	return nil
}

// Users returns a copy of the directory in file order.
func (d *Directory) Users() []User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.users)
}

// Find looks a user up by name.
func (d *Directory) Find(username string) (User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i := d.index(username)
	if i < 0 {
		return User{}, false
	}
	return d.users[i], true
}

func (d *Directory) index(username string) int {
	return slices.IndexFunc(d.users, func(u User) bool { return u.Username == username })
}

// Authenticate checks a password and returns the matching actor. Unknown
// users and wrong passwords both yield ErrInvalidCredentials.
func (d *Directory) Authenticate(username, password string) (content.Actor, error) {
	u, ok := d.Find(username)
	if !ok || u.Password == "" {
		return content.GuestActor, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		return content.GuestActor, ErrInvalidCredentials
	}
	return content.Actor{Username: u.Username, Role: u.Role}, nil
}

// ChangePassword replaces the password after checking the old one.
func (d *Directory) ChangePassword(username, oldPassword, newPassword string) error {
	if _, err := d.Authenticate(username, oldPassword); err != nil {
		return err
	}
	return d.SetPassword(username, newPassword)
}

// SetPassword hashes and stores a new password, then saves the file.
func (d *Directory) SetPassword(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return d.modify(username, func(u *User) { u.Password = string(hash) })
}

// SetRole changes a user's role, then saves the file.
func (d *Directory) SetRole(username, role string) error {
	if !slices.Contains(content.Roles(), role) {
		return fmt.Errorf("%w %q", ErrUnknownRole, role)
	}
	return d.modify(username, func(u *User) { u.Role = role })
}

func (d *Directory) modify(username string, fn func(u *User)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.index(username)
	if i < 0 {
		return fmt.Errorf("%w %q", ErrUnknownUser, username)
	}
	next := slices.Clone(d.users)
	fn(&next[i])
	if err := d.save(next); err != nil {
		return err
	}
	d.users = next
	return nil
}

// save replaces the users file atomically via rename.
func (d *Directory) save(list []User) error {
	if d.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encode users: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(d.path), ".users-*.json")
	if err != nil {
		return fmt.Errorf("save users: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(bytes.TrimSpace(raw), '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("save users: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save users: %w", err)
	}
	if err := os.Rename(tmp.Name(), d.path); err != nil {
		return fmt.Errorf("save users: %w", err)
	}
	return nil
}

// CurrentUser returns the actor the session middleware put on ctx, or
// Guest. A user removed from the directory since sign-in is Guest again.
func (d *Directory) CurrentUser(ctx context.Context) content.Actor {
	a, ok := ActorFrom(ctx)
	if !ok {
		return content.GuestActor
	}
	u, found := d.Find(a.Username)
	if !found {
		return content.GuestActor
	}
	return content.Actor{Username: u.Username, Role: u.Role}
}

// IsGranted ranks actor's role against minRole.
func (d *Directory) IsGranted(minRole string, actor content.Actor) bool {
	if minRole == "" {
		minRole = content.RoleGuest
	}
	return content.RoleGranted(minRole, actor.Role)
}

type ctxKey struct{}

// WithActor stores the signed-in actor on ctx.
func WithActor(ctx context.Context, a content.Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// ActorFrom returns the actor stored by WithActor.
func ActorFrom(ctx context.Context) (content.Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(content.Actor)
	return a, ok
}
