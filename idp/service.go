package idp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gearflow/session"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	resetTokenTTL     = time.Hour
	tokenTTL          = 24 * time.Hour
)

// ExchangeFunc completes an interactive consent flow (the OAuth popup stays
// outside this process) and yields the resulting profile.
type ExchangeFunc func(ctx context.Context, kind session.ProviderKind) (ExternalProfile, error)

// Service implements session.Provider on top of the account repository. It
// holds the single authenticated principal for this process and notifies the
// session observer on every change of it.
type Service struct {
	repo      Repository
	jwtSecret []byte
	exchange  ExchangeFunc
	logger    *slog.Logger
	now       func() time.Time
	tokenGen  func() string

	mu       sync.Mutex
	current  *session.Identity
	watching bool
	pending  []*session.Identity
	wake     chan struct{}
}

// NewService creates a provider service.
func NewService(repo Repository, jwtSecret string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		logger:    logger,
		now:       time.Now,
		tokenGen:  func() string { return uuid.NewString() },
	}
}

// WithInteractiveExchange wires the hook that finishes OAuth sign-ins.
func (s *Service) WithInteractiveExchange(fn ExchangeFunc) *Service {
	s.exchange = fn
	return s
}

// SessionChanges registers the single session observer. The channel carries
// the current identity immediately, then every change, in order. Only one
// subscription may be active at a time.
func (s *Service) SessionChanges(ctx context.Context) (<-chan *session.Identity, func(), error) {
	s.mu.Lock()
	if s.watching {
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("idp: session changes already subscribed")
	}
	s.watching = true
	s.pending = []*session.Identity{cloneIdentity(s.current)}
	s.wake = make(chan struct{}, 1)
	wake := s.wake
	s.mu.Unlock()

	out := make(chan *session.Identity)
	stop := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(stop) }) }

	go func() {
		defer func() {
			close(out)
			s.mu.Lock()
			s.watching = false
			s.pending = nil
			s.mu.Unlock()
		}()
		for {
			s.mu.Lock()
			var next *session.Identity
			have := len(s.pending) > 0
			if have {
				next = s.pending[0]
				s.pending = s.pending[1:]
			}
			s.mu.Unlock()

			if have {
				select {
				case out <- next:
					continue
				case <-stop:
					return
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-wake:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, cancel, nil
}

// CreateAccountPassword registers a password account and makes it the current
// principal.
func (s *Service) CreateAccountPassword(ctx context.Context, email, password string) (session.Identity, error) {
	email = normalizeEmail(email)
	if email == "" {
		return session.Identity{}, &session.CredentialError{Reason: "email is required"}
	}
	if len(password) < minPasswordLength {
		return session.Identity{}, &session.CredentialError{Reason: fmt.Sprintf("password must be at least %d characters", minPasswordLength)}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return session.Identity{}, &session.ProviderError{Op: "hash password", Err: err}
	}

	acct, err := s.repo.CreateAccount(ctx, CreateAccountParams{
		Email:        email,
		PasswordHash: string(hash),
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return session.Identity{}, &session.CredentialError{Reason: "email already registered", Err: err}
		}
		return session.Identity{}, &session.ProviderError{Op: "create account", Err: err}
	}

	ident := identityFromAccount(acct)
	s.setCurrent(&ident)
	return ident, nil
}

// AuthenticatePassword verifies credentials and makes that identity the
// current principal.
func (s *Service) AuthenticatePassword(ctx context.Context, email, password string) (session.Identity, error) {
	acct, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return session.Identity{}, &session.CredentialError{Reason: "invalid credentials"}
		}
		return session.Identity{}, &session.ProviderError{Op: "authenticate", Err: err}
	}

	// Accounts created through an interactive flow carry no password hash.
	if acct.PasswordHash == "" {
		return session.Identity{}, &session.CredentialError{Reason: "invalid credentials"}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return session.Identity{}, &session.CredentialError{Reason: "invalid credentials"}
	}

	ident := identityFromAccount(acct)
	s.setCurrent(&ident)
	return ident, nil
}

// AuthenticateInteractive finishes an OAuth sign-in through the configured
// exchange hook. First-time profiles get an account; returning ones reuse it.
func (s *Service) AuthenticateInteractive(ctx context.Context, kind session.ProviderKind) (session.Identity, error) {
	if s.exchange == nil {
		return session.Identity{}, &session.ProviderError{Op: "interactive sign-in", Err: errors.New("no interactive exchange configured")}
	}

	profile, err := s.exchange(ctx, kind)
	if err != nil {
		return session.Identity{}, &session.ProviderError{Op: "interactive sign-in", Err: err}
	}

	acct, err := s.repo.EnsureExternalAccount(ctx, EnsureExternalParams{
		Email:         normalizeEmail(profile.Email),
		DisplayName:   profile.DisplayName,
		EmailVerified: profile.EmailVerified,
		Provider:      string(kind),
	})
	if err != nil {
		return session.Identity{}, &session.ProviderError{Op: "interactive sign-in", Err: err}
	}

	ident := identityFromAccount(acct)
	s.setCurrent(&ident)
	return ident, nil
}

// SignOut clears the current principal and notifies the observer.
func (s *Service) SignOut(ctx context.Context) error {
	s.setCurrent(nil)
	return nil
}

// SendPasswordReset issues a single-use reset token for a known address.
func (s *Service) SendPasswordReset(ctx context.Context, email string) error {
	acct, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return &session.CredentialError{Reason: "email not recognized", Err: err}
		}
		return &session.ProviderError{Op: "password reset", Err: err}
	}

	token := s.tokenGen()
	if err := s.repo.CreateResetToken(ctx, acct.ID, token, s.now().Add(resetTokenTTL)); err != nil {
		return &session.ProviderError{Op: "password reset", Err: err}
	}

	// Mail delivery is owned by an external notifier; the token is logged so
	// operators can trace issuance.
	s.logger.Info("password reset issued", "account", acct.ID)
	return nil
}

// UpdateDisplayName replaces the profile display name on the account.
func (s *Service) UpdateDisplayName(ctx context.Context, uid, name string) error {
	if err := s.repo.UpdateDisplayName(ctx, uid, name); err != nil {
		return &session.ProviderError{Op: "update display name", Err: err}
	}

	s.mu.Lock()
	if s.current != nil && s.current.UID == uid {
		updated := *s.current
		updated.DisplayName = name
		s.current = &updated
	}
	s.mu.Unlock()
	return nil
}

// IssueToken mints an HS256 session token for the identity.
func (s *Service) IssueToken(ident session.Identity) (string, error) {
	claims := jwt.MapClaims{
		"uid":   ident.UID,
		"email": ident.Email,
		"exp":   s.now().Add(tokenTTL).Unix(),
		"iat":   s.now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("idp: sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a session token and returns the uid and email claims.
func (s *Service) VerifyToken(tokenString string) (string, string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("idp: parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", fmt.Errorf("idp: invalid token")
	}

	uid, ok := claims["uid"].(string)
	if !ok || uid == "" {
		return "", "", fmt.Errorf("idp: invalid uid in token")
	}
	email, _ := claims["email"].(string)
	return uid, email, nil
}

// setCurrent replaces the current principal and queues a notification for the
// session observer. Delivery order matches call order.
func (s *Service) setCurrent(ident *session.Identity) {
	s.mu.Lock()
	s.current = cloneIdentity(ident)
	var wake chan struct{}
	if s.watching {
		s.pending = append(s.pending, cloneIdentity(ident))
		wake = s.wake
	}
	s.mu.Unlock()

	if wake != nil {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

func identityFromAccount(acct Account) session.Identity {
	return session.Identity{
		UID:           acct.ID,
		Email:         acct.Email,
		DisplayName:   acct.DisplayName,
		EmailVerified: acct.EmailVerified,
	}
}

func cloneIdentity(ident *session.Identity) *session.Identity {
	if ident == nil {
		return nil
	}
	copied := *ident
	return &copied
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
