package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"cmsapi/internal/auth"
	"cmsapi/internal/model"
	"cmsapi/internal/repository"
)

var (
	// ErrInvalidCredentials is returned when email or password is incorrect.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrUserAlreadyExists is returned when trying to register an existing user.
	ErrUserAlreadyExists = errors.New("user already exists")
)

// RegisterInput carries the fields of a new account.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Lastname string
}

// LoginResult is a signed session token together with the user it was issued for.
type LoginResult struct {
	Token  string
	Claims *auth.Claims
	User   *model.User
}

// AuthService handles authentication operations.
type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*model.User, error)
	Login(ctx context.Context, email, password string) (*LoginResult, error)
}

type authService struct {
	userRepo    repository.UserRepository
	roleRepo    repository.RoleRepository
	jwtService  *auth.JWTService
	defaultRole string
}

// NewAuthService creates a new authentication service. New users get defaultRole when it exists.
func NewAuthService(userRepo repository.UserRepository, roleRepo repository.RoleRepository, jwtService *auth.JWTService, defaultRole string) AuthService {
	return &authService{
		userRepo:    userRepo,
		roleRepo:    roleRepo,
		jwtService:  jwtService,
		defaultRole: defaultRole,
	}
}

// Register creates a user with a hashed password and the default role.
func (s *authService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err == nil && existing != nil {
		return nil, ErrUserAlreadyExists
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("check user existence: %w", err)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Email:        email,
		PasswordHash: hash,
		Name:         in.Name,
		Lastname:     in.Lastname,
	}

	if s.defaultRole != "" {
		role, err := s.roleRepo.FindBySlug(ctx, s.defaultRole)
		switch {
		case err == nil:
			user.Roles = []model.Role{*role}
		case errors.Is(err, gorm.ErrRecordNotFound):
			// no default role seeded; the user starts without permissions
		default:
			return nil, fmt.Errorf("find default role: %w", err)
		}
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login checks the password and issues a session token carrying the user's current roles.
func (s *authService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.userRepo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	ok, err := auth.CheckPassword(user.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	token, claims, err := s.jwtService.Issue(auth.IdentityFromUser(user), 0)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &LoginResult{Token: token, Claims: claims, User: user}, nil
}
