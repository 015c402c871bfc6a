package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"kasirledger/backend/internal/domain"
)

var errInvalidCredentials = domain.Errorf(domain.KindUnauthenticated, "invalid credentials")

// UserStore is the authoritative account list.
type UserStore interface {
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}

// CredentialCache keeps account hashes on the edge node for offline logins.
type CredentialCache interface {
	PutCredentials(ctx context.Context, users []domain.UserAccount) error
	GetCredential(ctx context.Context, username string) (*domain.UserAccount, error)
}

type AuthManager struct {
	mu          sync.RWMutex
	secret      []byte
	tokenTTL    time.Duration
	userStore   UserStore
	credentials CredentialCache
	lookup      time.Duration
	log         zerolog.Logger
	users       map[string]domain.UserAccount
}

type posCustomClaims struct {
	jwtlib.RegisteredClaims
	Role     domain.Role `json:"role"`
	TenantID string      `json:"tenant_id"`
	Name     string      `json:"name,omitempty"`
	// Verified is false for tokens issued from cached credentials.
	Verified bool `json:"verified"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore, credentials CredentialCache, log zerolog.Logger) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:      []byte(secret),
		tokenTTL:    tokenTTL,
		userStore:   userStore,
		credentials: credentials,
		lookup:      3 * time.Second,
		log:         log,
		users:       make(map[string]domain.UserAccount),
	}
}

// Login checks the password against the authoritative accounts. When those
// cannot be read it falls back to the cached hashes and issues an unverified
// session, which settles sales on the local cache only.
func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" {
		return domain.LoginResponse{}, errInvalidCredentials
	}

	verified := true
	account, err := a.onlineAccount(ctx, username)
	if err != nil {
		verified = false
		account, err = a.cachedAccount(ctx, username)
		if err != nil {
			return domain.LoginResponse{}, err
		}
	}

	if !verifyPassword(account.Password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !account.Active {
		return domain.LoginResponse{}, domain.Errorf(domain.KindUnauthenticated, "account is inactive")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(*account, verified, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        account.Role,
		TenantID:    account.TenantID,
		Verified:    verified,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// onlineAccount refreshes the account list from the user store. Unknown
// usernames are a definitive answer and are not retried offline.
func (a *AuthManager) onlineAccount(ctx context.Context, username string) (*domain.UserAccount, error) {
	if err := a.bootstrapUsers(ctx); err != nil {
		return nil, err
	}
	a.mu.RLock()
	account, ok := a.users[username]
	a.mu.RUnlock()
	if !ok {
		return &domain.UserAccount{Username: username}, nil
	}
	return &account, nil
}

func (a *AuthManager) cachedAccount(ctx context.Context, username string) (*domain.UserAccount, error) {
	if a.credentials == nil {
		return nil, domain.Transient(errors.New("no credential cache"))
	}
	account, err := a.credentials.GetCredential(ctx, username)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, errInvalidCredentials
	}
	return account, err
}

// bootstrapUsers loads the account list into memory and mirrors it into the
// credential cache.
func (a *AuthManager) bootstrapUsers(ctx context.Context) error {
	if a.userStore == nil {
		return domain.Transient(errors.New("no user store"))
	}
	lookupCtx, cancel := context.WithTimeout(ctx, a.lookup)
	defer cancel()

	users, err := a.userStore.ListUsers(lookupCtx)
	if err != nil {
		return err
	}

	fresh := make(map[string]domain.UserAccount, len(users))
	cached := make([]domain.UserAccount, 0, len(users))
	for _, user := range users {
		user.Username = strings.ToLower(strings.TrimSpace(user.Username))
		if user.Username == "" || !isPasswordHash(user.Password) {
			continue
		}
		fresh[user.Username] = user
		cached = append(cached, user)
	}

	a.mu.Lock()
	a.users = fresh
	a.mu.Unlock()

	if a.credentials != nil {
		if err := a.credentials.PutCredentials(ctx, cached); err != nil {
			a.log.Warn().Err(err).Msg("credential cache not refreshed")
		}
	}
	return nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &posCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, domain.Errorf(domain.KindUnauthenticated, "invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" || claims.TenantID == "" {
		return domain.Actor{}, domain.Errorf(domain.KindUnauthenticated, "invalid token subject")
	}
	return domain.Actor{
		UID:           sub,
		TenantID:      claims.TenantID,
		Role:          claims.Role,
		DisplayName:   claims.Name,
		Authenticated: claims.Verified,
	}, nil
}

func (a *AuthManager) sign(account domain.UserAccount, verified bool, expiresAt time.Time) (string, error) {
	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   account.Username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "kasirledger",
		},
		Role:     account.Role,
		TenantID: account.TenantID,
		Name:     account.DisplayName,
		Verified: verified,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
