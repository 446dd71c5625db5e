// Package auth is the session layer in front of the ledger engine. It
// authenticates callers and hands the engine an account ID; the engine itself
// never checks credentials.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"pf-ledger/internal/db"
	"pf-ledger/internal/ident"
)

var (
	ErrNameTaken          = errors.New("account name already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type Service struct {
	pool   *pgxpool.Pool
	ids    *ident.Generator
	issuer string
	secret []byte
	ttl    time.Duration
}

func NewService(pool *pgxpool.Pool, ids *ident.Generator, issuer string, secret []byte, ttl time.Duration) *Service {
	return &Service{pool: pool, ids: ids, issuer: issuer, secret: secret, ttl: ttl}
}

// Register creates an account with a zero balance. The name-uniqueness check,
// the ID generation and the insert share one transaction.
func (s *Service) Register(ctx context.Context, name, password string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || password == "" {
		return "", errors.New("name and password required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	var accountID string
	err = db.WithinTx(ctx, s.pool, func(ctx context.Context) error {
		runner := db.RunnerFrom(ctx, s.pool)
		var taken bool
		if err := runner.QueryRow(ctx, `select exists(select 1 from accounts where name = $1)`, name).Scan(&taken); err != nil {
			return fmt.Errorf("auth - Register - QueryRow: %w", err)
		}
		if taken {
			return fmt.Errorf("%w: %q", ErrNameTaken, name)
		}
		accountID, err = s.ids.AccountID(ctx)
		if err != nil {
			return err
		}
		_, err = runner.Exec(ctx,
			`insert into accounts (account_id, name, password_hash) values ($1, $2, $3)`,
			accountID, name, string(hash))
		if err != nil {
			return fmt.Errorf("auth - Register - Exec: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return accountID, nil
}

// Login verifies credentials and returns a signed session token.
func (s *Service) Login(ctx context.Context, name, password string) (string, error) {
	var accountID, hash string
	err := s.pool.QueryRow(ctx,
		`select account_id, password_hash from accounts where name = $1`, name).Scan(&accountID, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("auth - Login - QueryRow: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.SignToken(accountID)
}

func (s *Service) SignToken(accountID string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   accountID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ParseToken validates a session token and returns the account ID it carries.
func (s *Service) ParseToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errors.New("invalid token claims")
	}
	return claims.Subject, nil
}
