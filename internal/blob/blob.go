// Package blob stores generated artifacts and mints short-lived download
// links for them.
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Store is the artifact persistence boundary. Locators are forward-slash
// relative paths scoped per session, e.g. "sessions/<id>/report.md".
type Store interface {
	Put(ctx context.Context, locator string, data []byte) error
	Get(ctx context.Context, locator string) ([]byte, error)
	Presign(locator string, ttl time.Duration) (string, error)
}

// Filesystem keeps artifacts under a root directory. Presigned links are
// HS256 tokens carrying the locator and expiry, verified by the HTTP layer.
type Filesystem struct {
	root      string
	secret    []byte
	publicURL string
}

func NewFilesystem(root string, secret []byte, publicURL string) (*Filesystem, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("blob root directory required")
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("blob signing secret required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob root: %w", err)
	}
	return &Filesystem{root: root, secret: secret, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

func (f *Filesystem) path(locator string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(locator))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid locator %q", locator)
	}
	return filepath.Join(f.root, clean), nil
}

func (f *Filesystem) Put(_ context.Context, locator string, data []byte) error {
	p, err := f.path(locator)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating artifact dir: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing artifact %s: %w", locator, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("publishing artifact %s: %w", locator, err)
	}
	return nil
}

func (f *Filesystem) Get(_ context.Context, locator string) ([]byte, error) {
	p, err := f.path(locator)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading artifact %s: %w", locator, err)
	}
	return data, nil
}

// Presign returns a download URL valid for ttl.
func (f *Filesystem) Presign(locator string, ttl time.Duration) (string, error) {
	if _, err := f.path(locator); err != nil {
		return "", err
	}
	claims := jwt.RegisteredClaims{
		Subject:   locator,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(f.secret)
	if err != nil {
		return "", fmt.Errorf("signing download token: %w", err)
	}
	return f.publicURL + "/artifacts/download?token=" + token, nil
}

// VerifyToken checks a presigned token and returns the locator it grants.
func (f *Filesystem) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return f.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid download token: %w", err)
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("invalid download token")
	}
	return claims.Subject, nil
}
