package wiki

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"wikid/internal/model"
)

// Authenticate resolves a session token to its user. An empty or unknown
// token yields a nil user, which downstream permission checks treat as
// the anonymous reader.
func (s *Service) Authenticate(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, nil
	}
	user, err := s.store.GetSessionUser(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("resolving session: %w", err)
	}
	return user, nil
}

// Login verifies a username and password and mints a session. Unknown
// users and wrong passwords both return ErrPermissionDenied; the caller
// cannot tell which.
func (s *Service) Login(ctx context.Context, username, password string) (*model.Session, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("login: %w", ErrPermissionDenied)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("login: %w", ErrPermissionDenied)
	}

	session, err := s.store.CreateSession(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	s.logger.Info("user logged in", "username", username)
	return session, nil
}

// RegisterUser creates a user with a bcrypt-hashed password and assigns
// the given roles. Only a site admin may call it; a nil actor is allowed
// so local tooling can bootstrap the first account.
func (s *Service) RegisterUser(ctx context.Context, actor *model.User, username, password string, roles []string) (*model.User, error) {
	if actor != nil {
		if err := s.requireSiteAdmin(ctx, actor); err != nil {
			return nil, err
		}
	}
	if username == "" || password == "" {
		return nil, fmt.Errorf("username and password are required: %w", ErrValidation)
	}
	existing, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("user %q already exists: %w", username, ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	user, err := s.store.CreateUser(ctx, username, string(hash))
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	for _, roleName := range roles {
		role, err := s.store.GetRoleByName(ctx, roleName)
		if err != nil {
			return nil, err
		}
		if role == nil {
			return nil, fmt.Errorf("role %q: %w", roleName, ErrNotFound)
		}
		if err := s.store.AssignRole(ctx, user.ID, role.ID); err != nil {
			return nil, fmt.Errorf("assigning role %q: %w", roleName, err)
		}
	}
	s.logger.Info("user registered", "username", username, "roles", roles)
	return user, nil
}
