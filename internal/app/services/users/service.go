// Package users manages the contact profiles purchase confirmations are sent
// to.
package users

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/sailfish-mobile/storefront/internal/app/domain/user"
	"github.com/sailfish-mobile/storefront/internal/app/storage"
	"github.com/sailfish-mobile/storefront/pkg/logger"
)

var (
	// ErrInvalidEmail is returned for addresses that do not parse.
	ErrInvalidEmail = errors.New("users: invalid email address")
	// ErrUnknownUser is returned for users without a profile.
	ErrUnknownUser = errors.New("users: unknown user")
)

// Service stores user profiles.
type Service struct {
	store storage.UserStore
	log   *logger.Logger
}

// New constructs a users service.
func New(store storage.UserStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("users")
	}
	return &Service{store: store, log: log}
}

// Update replaces the user's addresses. The preferred address, when given,
// is added to the known addresses if missing.
func (s *Service) Update(ctx context.Context, userID, preferred string, emails []string) (user.Profile, error) {
	if strings.TrimSpace(userID) == "" {
		return user.Profile{}, fmt.Errorf("%w: empty user id", ErrUnknownUser)
	}
	seen := make(map[string]bool, len(emails)+1)
	var known []string
	candidates := append(append([]string(nil), emails...), preferred)
	for _, e := range candidates {
		addr, err := normalize(e)
		if err != nil {
			return user.Profile{}, err
		}
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		known = append(known, addr)
	}
	pref, _ := normalize(preferred)

	profile, err := s.store.SaveUser(ctx, user.Profile{ID: userID, PreferredEmail: pref, Emails: known})
	if err != nil {
		return user.Profile{}, fmt.Errorf("save user %s: %w", userID, err)
	}
	s.log.Infof("updated profile for user %s (%d addresses)", userID, len(known))
	return profile, nil
}

// Get returns the user's profile.
func (s *Service) Get(ctx context.Context, userID string) (user.Profile, error) {
	p, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.Profile{}, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
		}
		return user.Profile{}, err
	}
	return p, nil
}

func normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, raw)
	}
	return strings.ToLower(addr.Address), nil
}
