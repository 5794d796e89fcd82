package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stemsi/exot-sync/internal/model"
	"golang.org/x/crypto/bcrypt"
)

// Common auth errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// TokenType distinguishes desk device tokens from committee session tokens.
type TokenType string

const (
	TokenTypeDevice  TokenType = "device"
	TokenTypeSession TokenType = "session"
)

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType  `json:"token_type"`
	DeskID    string     `json:"desk_id,omitempty"` // Device only
	UserID    string     `json:"user_id,omitempty"` // Session only
	Name      string     `json:"name,omitempty"`    // Session only
	Role      model.Role `json:"role,omitempty"`    // Session only
}

// AuthService issues and validates tokens and hashes passwords.
type AuthService struct {
	secret     []byte
	bcryptCost int
	now        func() time.Time
}

// NewAuthService creates a new AuthService.
func NewAuthService(secret string, bcryptCost int) *AuthService {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &AuthService{secret: []byte(secret), bcryptCost: bcryptCost, now: time.Now}
}

// HashPassword hashes a password with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	return string(hash), err
}

// IsHashed reports whether stored looks like a bcrypt hash.
func IsHashed(stored string) bool {
	return strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$") || strings.HasPrefix(stored, "$2y$")
}

// CheckPassword compares a password against a stored value. Records created
// before hashing was introduced hold plaintext; needsRehash tells the caller
// to upgrade them.
func (s *AuthService) CheckPassword(stored, password string) (needsRehash bool, err error) {
	if !IsHashed(stored) {
		if stored != password {
			return false, ErrInvalidCredentials
		}
		return true, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)); err != nil {
		return false, ErrInvalidCredentials
	}
	return false, nil
}

// GenerateDeviceToken creates a long-lived token a desk uses for the sync API.
func (s *AuthService) GenerateDeviceToken(deskID string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.New().String(),
			Subject:  deskID,
			IssuedAt: jwt.NewNumericDate(now),
		},
		TokenType: TokenTypeDevice,
		DeskID:    deskID,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return s.sign(claims)
}

// GenerateSessionToken creates a token for a logged-in committee member that
// expires after the configured session timeout.
func (s *AuthService) GenerateSessionToken(user *model.User, timeout time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(timeout)),
		},
		TokenType: TokenTypeSession,
		UserID:    user.ID,
		Name:      user.Name,
		Role:      user.Role,
	}
	return s.sign(claims)
}

func (s *AuthService) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}
