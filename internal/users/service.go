package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrInvalidEmail indicates the supplied address cannot identify an account.
	ErrInvalidEmail = errors.New("users: invalid email")
	// ErrUserNotFound indicates no account exists for the identifier.
	ErrUserNotFound = errors.New("users: user not found")
)

// IDProvider issues identifiers for new accounts.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required for account provisioning.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
}

// Service provisions and looks up demo-login accounts keyed by email.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider IDProvider
	cache      sync.Map
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("users: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:         cfg.Database,
		now:        clock,
		idProvider: cfg.IDProvider,
	}, nil
}

// EnsureUser returns the account registered under the email, creating it on
// first login. A blank name defaults to the local part of the address.
func (s *Service) EnsureUser(ctx context.Context, email, name string) (User, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" || !strings.Contains(normalized, "@") {
		return User{}, ErrInvalidEmail
	}

	if cached, ok := s.cache.Load(normalized); ok {
		if user, ok := cached.(User); ok {
			return user, nil
		}
	}

	var user User
	err := s.db.WithContext(ctx).Where("email = ?", normalized).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		id, idErr := s.idProvider.NewID()
		if idErr != nil {
			return User{}, idErr
		}
		displayName := strings.TrimSpace(name)
		if displayName == "" {
			displayName, _, _ = strings.Cut(normalized, "@")
		}
		user = User{
			ID:        id,
			Email:     normalized,
			Name:      displayName,
			CreatedAt: s.now(),
			UpdatedAt: s.now(),
		}
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			return User{}, err
		}
	} else if err != nil {
		return User{}, err
	}

	s.cache.Store(normalized, user)
	return user, nil
}

// GetByID loads one account by identifier.
func (s *Service) GetByID(ctx context.Context, id string) (User, error) {
	if strings.TrimSpace(id) == "" {
		return User{}, ErrUserNotFound
	}
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}
