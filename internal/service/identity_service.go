package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"photovault/internal/domain"
	"photovault/internal/repository"
)

// ErrNotAuthenticated is returned when no valid identity backs a request.
// Upload and accounting operations fail fast on it; there is no anonymous
// prefix fallback.
var ErrNotAuthenticated = errors.New("not authenticated")

// IdentityService resolves authenticated principals and owns their storage
// prefixes.
type IdentityService interface {
	ResolveIdentity(ctx context.Context, userID string) (domain.Identity, error)
	GetOrCreatePrefix(ctx context.Context, identity domain.Identity) (string, error)
	ForgetPrefix(ctx context.Context, identityID string) error
}

type identityService struct {
	users    UserService
	prefixes repository.PrefixRepository
	logger   *logrus.Logger

	mu    sync.Mutex
	cache map[string]string
}

func NewIdentityService(users UserService, prefixes repository.PrefixRepository, logger *logrus.Logger) IdentityService {
	if logger == nil {
		logger = logrus.New()
	}
	return &identityService{
		users:    users,
		prefixes: prefixes,
		logger:   logger,
		cache:    make(map[string]string),
	}
}

func (s *identityService) ResolveIdentity(ctx context.Context, userID string) (domain.Identity, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Identity{}, ErrNotAuthenticated
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return domain.Identity{}, ErrNotAuthenticated
	}
	return user.Identity(), nil
}

// GetOrCreatePrefix returns the stable prefix for an identity. The prefix
// is computed once, persisted, and reused on every later call; it is never
// re-derived from a different identity without an explicit ForgetPrefix.
func (s *identityService) GetOrCreatePrefix(ctx context.Context, identity domain.Identity) (string, error) {
	if identity.Email == "" {
		return "", ErrNotAuthenticated
	}

	cacheKey := identity.ID
	if cacheKey == "" {
		cacheKey = identity.Email
	}

	s.mu.Lock()
	if prefix, ok := s.cache[cacheKey]; ok {
		s.mu.Unlock()
		return prefix, nil
	}
	s.mu.Unlock()

	if identity.ID != "" {
		stored, err := s.prefixes.Get(ctx, identity.ID)
		if err != nil {
			return "", err
		}
		if stored != nil {
			s.remember(cacheKey, stored.Prefix)
			return stored.Prefix, nil
		}
	}

	identityID := identity.ID
	if identityID == "" {
		// degraded mode: the auth collaborator gave us no id, so the
		// prefix will not survive a reinstall
		identityID = uuid.NewString()
		s.logger.WithField("email", identity.Email).
			Warn("identity id unavailable, generating random prefix id")
	}

	prefix := domain.BuildPrefix(identity.Email, identityID)
	if err := s.prefixes.Save(ctx, &domain.StoredPrefix{
		IdentityID: identityID,
		Prefix:     prefix,
	}); err != nil {
		return "", err
	}

	s.remember(cacheKey, prefix)
	return prefix, nil
}

func (s *identityService) ForgetPrefix(ctx context.Context, identityID string) error {
	s.mu.Lock()
	delete(s.cache, identityID)
	s.mu.Unlock()
	return s.prefixes.Delete(ctx, identityID)
}

func (s *identityService) remember(key, prefix string) {
	s.mu.Lock()
	s.cache[key] = prefix
	s.mu.Unlock()
}
