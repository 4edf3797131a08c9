package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
)

const (
	RoleAdmin   = "admin"
	RoleLearner = "learner"
)

type User struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

// APIKey is a service credential. Hash is the bcrypt hash of the raw key;
// raw keys are never kept in config.
type APIKey struct {
	Name string `mapstructure:"name"`
	Role string `mapstructure:"role"`
	Hash string `mapstructure:"hash"`
}

type ServiceConfig struct {
	JWTSecret string
	JWTIssuer string
	APIKeys   []APIKey
	Now       func() time.Time
}

// Service verifies identities issued elsewhere: HS256 bearer tokens from the
// portal's login service and static API keys for automation.
type Service struct {
	secret []byte
	issuer string
	keys   []APIKey
	now    func() time.Time

	mu       sync.Mutex
	verified map[string]User
}

type claims struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	for _, k := range cfg.APIKeys {
		if !isValidRole(k.Role) {
			return nil, fmt.Errorf("api key %q: %w %q", k.Name, ErrInvalidRole, k.Role)
		}
		if strings.TrimSpace(k.Hash) == "" {
			return nil, fmt.Errorf("api key %q: hash is required", k.Name)
		}
	}
	return &Service{
		secret:   []byte(cfg.JWTSecret),
		issuer:   strings.TrimSpace(cfg.JWTIssuer),
		keys:     append([]APIKey(nil), cfg.APIKeys...),
		now:      cfg.Now,
		verified: make(map[string]User),
	}, nil
}

func (s *Service) AuthenticateToken(raw string) (*User, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(s.secret) == 0 {
		return nil, ErrUnauthorized
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(c.Subject) == "" || !isValidRole(c.Role) {
		return nil, ErrInvalidToken
	}
	return &User{ID: c.Subject, Role: c.Role, Name: c.Name}, nil
}

// IssueToken signs a token the way the login service does. Used by tests and
// local tooling.
func (s *Service) IssueToken(u User, ttl time.Duration) (string, error) {
	if !isValidRole(u.Role) {
		return "", ErrInvalidRole
	}
	now := s.now()
	c := claims{
		Role: u.Role,
		Name: u.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
}

func (s *Service) AuthenticateAPIKey(raw string) (*User, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrUnauthorized
	}
	digest := hashToken(raw)

	s.mu.Lock()
	u, ok := s.verified[digest]
	s.mu.Unlock()
	if ok {
		return &u, nil
	}

	for _, k := range s.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(raw)) != nil {
			continue
		}
		u := User{ID: "apikey:" + k.Name, Role: k.Role, Name: k.Name}
		s.mu.Lock()
		s.verified[digest] = u
		s.mu.Unlock()
		return &u, nil
	}
	return nil, ErrUnauthorized
}

// HashAPIKey produces the value to put in config for a raw key.
func HashAPIKey(raw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(b), nil
}

func isValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleLearner:
		return true
	}
	return false
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
