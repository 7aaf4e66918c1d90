package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"user-service/internal/domain"
	"user-service/internal/repository"
)

// MinPasswordLength is the shortest password, in characters, accepted on
// create and update.
const MinPasswordLength = 8

const (
	msgCredentialsRequired = "Username and password are required"
	msgIDRequired          = "User ID is required"
	msgWeakPassword        = "Password must be at least 8 characters long"
	msgPasswordTooLong     = "Password must be at most 72 bytes long"
	msgUsernameExists      = "Username already exists"
	msgUpdateFailed        = "An error occurred while updating the user"
)

// UserInput is the validated-on-use payload for create and update. Nil
// pointers mark fields the caller did not send.
type UserInput struct {
	Username *string
	Password *string
	Active   *bool
}

// UserView is the public projection of a user; it never carries the hash.
type UserView struct {
	ID       int64
	Username string
	Active   bool
}

// UserService describes user lifecycle operations.
type UserService interface {
	Create(ctx context.Context, in UserInput) (*UserView, error)
	List(ctx context.Context) ([]UserView, error)
	Get(ctx context.Context, id int64) (*UserView, error)
	Update(ctx context.Context, id int64, in UserInput) error
	Delete(ctx context.Context, id int64) error
}

// Config tunes the user service.
type Config struct {
	HashCost int
	Logger   logrus.FieldLogger
}

type userService struct {
	users    repository.UserRepository
	hashCost int
	logger   logrus.FieldLogger
}

func NewUserService(users repository.UserRepository, cfg Config) UserService {
	if cfg.HashCost == 0 {
		cfg.HashCost = bcrypt.DefaultCost
	}
	if cfg.Logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		cfg.Logger = discard
	}
	return &userService{
		users:    users,
		hashCost: cfg.HashCost,
		logger:   cfg.Logger,
	}
}

func (s *userService) Create(ctx context.Context, in UserInput) (*UserView, error) {
	username, password, err := validateCredentials(in)
	if err != nil {
		return nil, err
	}

	hash, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Username:     username,
		PasswordHash: hash,
		Active:       true,
	}
	if in.Active != nil {
		user.Active = *in.Active
	}

	if _, err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUniqueViolation) {
			return nil, &Error{Kind: ErrUsernameTaken, Message: msgUsernameExists, Err: err}
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"user_id": user.ID, "username": user.Username}).Info("user created")
	return toView(user), nil
}

func (s *userService) List(ctx context.Context) ([]UserView, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]UserView, len(users))
	for i := range users {
		views[i] = *toView(&users[i])
	}
	return views, nil
}

func (s *userService) Get(ctx context.Context, id int64) (*UserView, error) {
	user, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return toView(user), nil
}

// Update checks existence first, then validates the payload, then the
// username pre-check. A conflict that slips past the pre-check surfaces from
// the store as ErrUpdateFailed.
func (s *userService) Update(ctx context.Context, id int64, in UserInput) error {
	user, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}

	username, password, err := validateCredentials(in)
	if err != nil {
		return err
	}

	holder, err := s.users.GetByUsername(ctx, username)
	switch {
	case err == nil && holder.ID != id:
		return newError(ErrUsernameTaken, fmt.Sprintf("Username %s is already taken by another user", username))
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return err
	}

	hash, err := s.hashPassword(password)
	if err != nil {
		return err
	}

	user.Username = username
	user.PasswordHash = hash
	if in.Active != nil {
		user.Active = *in.Active
	}

	if err := s.users.Update(ctx, user); err != nil {
		s.logger.WithError(err).WithField("user_id", id).Error("update user")
		return &Error{Kind: ErrUpdateFailed, Message: msgUpdateFailed, Err: err}
	}

	s.logger.WithField("user_id", id).Info("user updated")
	return nil
}

func (s *userService) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return newError(ErrMissingField, msgIDRequired)
	}
	if err := s.users.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &Error{Kind: ErrNotFound, Message: notFoundMessage(id), Err: err}
		}
		return err
	}
	s.logger.WithField("user_id", id).Info("user deleted")
	return nil
}

func (s *userService) lookup(ctx context.Context, id int64) (*domain.User, error) {
	if id <= 0 {
		return nil, newError(ErrMissingField, msgIDRequired)
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &Error{Kind: ErrNotFound, Message: notFoundMessage(id), Err: err}
		}
		return nil, err
	}
	return user, nil
}

func (s *userService) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", &Error{Kind: ErrWeakPassword, Message: msgPasswordTooLong, Err: err}
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether plain matches the stored bcrypt hash.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

func validateCredentials(in UserInput) (string, string, error) {
	if in.Username == nil || *in.Username == "" {
		return "", "", newError(ErrMissingField, msgCredentialsRequired)
	}
	if in.Password == nil || *in.Password == "" {
		return "", "", newError(ErrMissingField, msgCredentialsRequired)
	}
	if utf8.RuneCountInString(*in.Password) < MinPasswordLength {
		return "", "", newError(ErrWeakPassword, msgWeakPassword)
	}
	return *in.Username, *in.Password, nil
}

func notFoundMessage(id int64) string {
	return fmt.Sprintf("User with ID %d does not exist", id)
}

func toView(user *domain.User) *UserView {
	return &UserView{
		ID:       user.ID,
		Username: user.Username,
		Active:   user.Active,
	}
}
