package server

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/tabrecall/tabrecall/internal/storage"
)

// tokenTTL is how long an access token lives. Refresh tokens outlive it
// and rotate the pair.
const tokenTTL = 30 * 24 * time.Hour

const minPasswordLen = 8

var (
	errBadCredentials = errors.New("invalid email or password")
	errTokenExpired   = errors.New("token expired")
	errTokenUnknown   = errors.New("unknown token")
)

// Credentials is an issued access/refresh token pair. Raw tokens are
// returned to the client once; only keyed hashes are stored.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// authService registers users and issues opaque bearer tokens.
type authService struct {
	store  storage.Store
	secret []byte
}

func newAuthService(store storage.Store, secret string) *authService {
	return &authService{store: store, secret: []byte(secret)}
}

// hashToken derives the stored form of a token. HMAC keyed with the
// server secret, so a leaked database alone cannot forge tokens.
func (a *authService) hashToken(token string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (a *authService) register(ctx context.Context, email, password string) (*storage.User, *Credentials, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, nil, fmt.Errorf("invalid email address")
	}
	if len(password) < minPasswordLen {
		return nil, nil, fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := a.store.CreateUser(ctx, email, string(hash))
	if err != nil {
		return nil, nil, fmt.Errorf("create user: %w", err)
	}

	creds, err := a.issue(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, creds, nil
}

func (a *authService) login(ctx context.Context, email, password string) (*storage.User, *Credentials, error) {
	user, err := a.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, nil, errBadCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, nil, errBadCredentials
	}

	creds, err := a.issue(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, creds, nil
}

// issue mints a fresh token pair and stores its hashes.
func (a *authService) issue(ctx context.Context, userID int64) (*Credentials, error) {
	access, err := newToken()
	if err != nil {
		return nil, err
	}
	refresh, err := newToken()
	if err != nil {
		return nil, err
	}

	expires := time.Now().UTC().Add(tokenTTL)
	record := &storage.AuthToken{
		TokenHash:   a.hashToken(access),
		RefreshHash: a.hashToken(refresh),
		UserID:      userID,
		ExpiresAt:   expires,
	}
	if err := a.store.InsertToken(ctx, record); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}

	return &Credentials{AccessToken: access, RefreshToken: refresh, ExpiresAt: expires}, nil
}

// authenticate resolves a bearer token to the owning user id.
func (a *authService) authenticate(ctx context.Context, token string) (int64, error) {
	record, err := a.store.GetToken(ctx, a.hashToken(token))
	if err != nil {
		return 0, errTokenUnknown
	}
	if time.Now().UTC().After(record.ExpiresAt) {
		return 0, errTokenExpired
	}
	return record.UserID, nil
}

// refresh rotates the token pair. The old pair is revoked; an expired
// access token is fine here, only the refresh token's record must still
// exist.
func (a *authService) refresh(ctx context.Context, refreshToken string) (*Credentials, error) {
	record, err := a.store.GetTokenByRefresh(ctx, a.hashToken(refreshToken))
	if err != nil {
		return nil, errTokenUnknown
	}
	if err := a.store.DeleteToken(ctx, record.TokenHash); err != nil {
		return nil, fmt.Errorf("revoke token: %w", err)
	}
	return a.issue(ctx, record.UserID)
}
