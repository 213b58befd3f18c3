package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"heartpsalm/backend/internal/logging"
	"heartpsalm/backend/internal/store"
)

const InvalidCredentialsMessage = "Username and password did not match! Please try again."

var ErrInvalidCredentials = errors.New("invalid credentials")

// ValidationError carries per-field messages keyed by form field name.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+strings.Join(e.Fields[name], "; "))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

type RegisterInput struct {
	Username  string `form:"username" json:"username" validate:"required,min=2,max=30"`
	Email     string `form:"email_address" json:"email_address" validate:"required,email,max=120"`
	Password1 string `form:"password1" json:"password1" validate:"required,min=6"`
	Password2 string `form:"password2" json:"password2" validate:"required,eqfield=Password1"`
}

var formFieldNames = map[string]string{
	"Username":  "username",
	"Email":     "email_address",
	"Password1": "password1",
	"Password2": "password2",
}

type Service struct {
	users    store.UserRepository
	validate *validator.Validate
	cost     int
	now      func() time.Time
}

type Option func(*Service)

// WithBcryptCost overrides bcrypt.DefaultCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

func NewService(users store.UserRepository, opts ...Option) *Service {
	s := &Service{
		users:    users,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		cost:     bcrypt.DefaultCost,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (store.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	verr := &ValidationError{}
	if err := s.validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return store.User{}, fmt.Errorf("validate registration: %w", err)
		}
		for _, fe := range fieldErrs {
			verr.add(formFieldNames[fe.StructField()], fieldMessage(fe))
		}
	}

	if in.Username != "" {
		if _, err := s.users.GetUserByUsername(ctx, in.Username); err == nil {
			verr.add("username", "Username already exists! Try another name")
		} else if !errors.Is(err, store.ErrNotFound) {
			return store.User{}, fmt.Errorf("lookup username: %w", err)
		}
	}
	if in.Email != "" {
		if _, err := s.users.GetUserByEmail(ctx, in.Email); err == nil {
			verr.add("email_address", "Email Address already exists! Try another.")
		} else if !errors.Is(err, store.ErrNotFound) {
			return store.User{}, fmt.Errorf("lookup email: %w", err)
		}
	}
	if len(verr.Fields) > 0 {
		return store.User{}, verr
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password1), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		var dup *store.DuplicateUserError
		if errors.As(err, &dup) {
			if dup.Field == "email" {
				verr.add("email_address", "Email Address already exists! Try another.")
			} else {
				verr.add("username", "Username already exists! Try another name")
			}
			return store.User{}, verr
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}

	l := logging.Ctx(ctx)
	l.Info().Str(logging.FieldUserID, user.ID).Msg("user registered")
	return user, nil
}

// Authenticate returns ErrInvalidCredentials for an unknown user and for a
// wrong password alike.
func (s *Service) Authenticate(ctx context.Context, username, password string) (store.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.users.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func (s *Service) User(ctx context.Context, id string) (store.User, error) {
	return s.users.GetUserByID(ctx, id)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Invalid email address."
	case "eqfield":
		return "Field must be equal to password1."
	case "min":
		if fe.StructField() == "Username" {
			return "Field must be between 2 and 30 characters long."
		}
		return fmt.Sprintf("Field must be at least %s characters long.", fe.Param())
	case "max":
		if fe.StructField() == "Username" {
			return "Field must be between 2 and 30 characters long."
		}
		return fmt.Sprintf("Field cannot be longer than %s characters.", fe.Param())
	}
	return "Invalid value."
}
