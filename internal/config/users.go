package config

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when the user does not exist so unknown and
// known names take roughly the same time.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("fshare-unknown-user"), bcrypt.MinCost)

// Users holds bcrypt hashes by user name. Immutable after construction.
type Users struct {
	hashes map[string][]byte
}

// NewUsers builds the credential table. Values that already look like bcrypt
// hashes are kept; anything else is treated as a plain password and hashed.
func NewUsers(entries map[string]string, cost int) (*Users, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	u := &Users{hashes: make(map[string][]byte, len(entries))}
	for name, secret := range entries {
		if isBcryptHash(secret) {
			if _, err := bcrypt.Cost([]byte(secret)); err != nil {
				return nil, fmt.Errorf("invalid password hash for user %s: %w", name, err)
			}
			u.hashes[name] = []byte(secret)
			continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password for user %s: %w", name, err)
		}
		u.hashes[name] = hash
	}
	return u, nil
}

func isBcryptHash(s string) bool {
	return len(s) == 60 && (strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$"))
}

// Verify reports whether password matches the stored hash for name.
func (u *Users) Verify(name, password string) bool {
	hash, ok := u.hashes[name]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

// Names returns the user names in sorted order.
func (u *Users) Names() []string {
	names := make([]string, 0, len(u.hashes))
	for name := range u.hashes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of users.
func (u *Users) Len() int {
	return len(u.hashes)
}
