package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"chatrelay/internal/constants"
	"chatrelay/internal/database"
	"chatrelay/internal/errors"
	"chatrelay/internal/models"
	"chatrelay/internal/privacy"
	"chatrelay/internal/validation"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const tokenIssuer = "chatrelay"

// UserStore is the account storage contract implemented by the durable
// storage collaborator.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// Service implements the identity/auth collaborator: account
// registration, credential verification, and opaque bearer tokens. The
// routing core never sees any of this; it only receives the
// authenticated identity the token resolves to.
type Service struct {
	store      UserStore
	secret     []byte
	tokenTTL   time.Duration
	bcryptCost int
	logger     *logrus.Logger
}

func NewService(store UserStore, secret string, tokenTTL time.Duration, bcryptCost int, logger *logrus.Logger) *Service {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = constants.DefaultBcryptCost
	}
	return &Service{
		store:      store,
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		bcryptCost: bcryptCost,
		logger:     logger,
	}
}

// Register creates a new account with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, username, password string) (*models.User, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := validation.ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to hash password")
	}

	user := &models.User{
		Username:     username,
		PasswordHash: string(hash),
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if stderrors.Is(err, database.ErrUserExists) {
			return nil, errors.New(errors.ErrCodeValidationFailed, "username already taken")
		}
		return nil, errors.WrapRetryable(err, errors.ErrCodeStorageFailure, "failed to store user")
	}

	s.logger.WithField("username", privacy.MaskIdentity(username)).Info("Registered new user")
	return user, nil
}

// Login verifies credentials and issues a signed bearer token whose
// subject is the account's identity. Unknown users and bad passwords are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return "", errors.WrapRetryable(err, errors.ErrCodeStorageFailure, "failed to load user")
	}

	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		s.logger.WithField("username", privacy.MaskIdentity(username)).Warn("Login failed")
		return "", errors.New(errors.ErrCodeAuthentication, "invalid credentials")
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   user.Username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		ID:        uuid.NewString(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternalError, "failed to sign token")
	}

	return token, nil
}

// Verify validates a bearer token and returns the identity it names.
func (s *Service) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", errors.New(errors.ErrCodeAuthentication, "missing token")
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", errors.Wrap(err, errors.ErrCodeAuthentication, "invalid token")
	}

	if claims.Subject == "" {
		return "", errors.New(errors.ErrCodeAuthentication, "token has no subject")
	}

	return claims.Subject, nil
}
