// Package identity unifies the three credential kinds accepted at login
// into one canonical user record.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/plantree-xyz/plantree-server/internal/app/domain/user"
	"github.com/plantree-xyz/plantree-server/internal/app/storage"
	"github.com/plantree-xyz/plantree-server/internal/auth"
	"github.com/plantree-xyz/plantree-server/pkg/logger"
)

// ErrAuthenticationFailed covers every credential rejection: bad signature,
// bad token, missing required fields. Callers must not see the distinction.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Credential is the tagged union of accepted login credentials.
type Credential interface {
	credentialKind() string
}

// WalletCredential is a wallet-signed sign-in message.
type WalletCredential struct {
	Message   string
	Signature string
	PublicKey string
}

// ProviderTokenCredential is an opaque token from the embedded wallet
// provider together with the wallet address it vouches for.
type ProviderTokenCredential struct {
	Token   string
	Address string
}

// GoogleCredential is a verified Google profile.
type GoogleCredential struct {
	Email   string
	OpenID  string
	Name    string
	Picture string
}

func (WalletCredential) credentialKind() string        { return "wallet" }
func (ProviderTokenCredential) credentialKind() string { return "provider" }
func (GoogleCredential) credentialKind() string        { return "google" }

// WalletVerifier validates wallet signatures.
type WalletVerifier interface {
	Verify(address, message, signature, publicKey string) bool
}

// Refresher updates on-chain subscription state for an address.
type Refresher interface {
	RefreshSubscriptions(ctx context.Context, address string) []user.Subscription
}

// Service resolves credentials into users.
type Service struct {
	users     storage.UserStore
	wallets   WalletVerifier
	tokens    auth.TokenVerifier
	refresher Refresher
	log       *logger.Logger
}

// New constructs an identity service. tokens and refresher may be nil; a nil
// token verifier rejects every provider credential.
func New(users storage.UserStore, wallets WalletVerifier, tokens auth.TokenVerifier, refresher Refresher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("identity")
	}
	return &Service{
		users:     users,
		wallets:   wallets,
		tokens:    tokens,
		refresher: refresher,
		log:       log,
	}
}

// Authenticate verifies the credential and returns the canonical user plus
// the chain id claimed by the credential (empty for non-wallet kinds).
// Every rejection maps to ErrAuthenticationFailed.
func (s *Service) Authenticate(ctx context.Context, cred Credential) (user.User, string, error) {
	switch c := cred.(type) {
	case WalletCredential:
		return s.authenticateWallet(ctx, c)
	case ProviderTokenCredential:
		return s.authenticateProviderToken(ctx, c)
	case GoogleCredential:
		return s.authenticateGoogle(ctx, c)
	default:
		return user.User{}, "", ErrAuthenticationFailed
	}
}

func (s *Service) authenticateWallet(ctx context.Context, c WalletCredential) (user.User, string, error) {
	parsed, err := auth.ParseSignInMessage(c.Message)
	if err != nil {
		s.log.WithError(err).Debug("sign-in message rejected")
		return user.User{}, "", ErrAuthenticationFailed
	}

	if !s.wallets.Verify(parsed.Address, c.Message, c.Signature, c.PublicKey) {
		return user.User{}, "", ErrAuthenticationFailed
	}

	u, err := s.findOrCreateByAddress(ctx, parsed.Address)
	if err != nil {
		return user.User{}, "", err
	}

	s.refreshAsync(parsed.Address)
	return u, parsed.ChainID, nil
}

func (s *Service) authenticateProviderToken(ctx context.Context, c ProviderTokenCredential) (user.User, string, error) {
	if c.Token == "" || c.Address == "" || s.tokens == nil {
		return user.User{}, "", ErrAuthenticationFailed
	}
	if err := s.tokens.VerifyToken(ctx, c.Token); err != nil {
		s.log.WithError(err).Debug("provider token rejected")
		return user.User{}, "", ErrAuthenticationFailed
	}

	u, err := s.findOrCreateByAddress(ctx, c.Address)
	if err != nil {
		return user.User{}, "", err
	}

	s.refreshAsync(c.Address)
	return u, "", nil
}

func (s *Service) authenticateGoogle(ctx context.Context, c GoogleCredential) (user.User, string, error) {
	if c.Email == "" || c.OpenID == "" {
		return user.User{}, "", ErrAuthenticationFailed
	}

	u, err := s.users.GetUserByOpenID(ctx, c.OpenID)
	if err == nil {
		return u, "", nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return user.User{}, "", fmt.Errorf("lookup user: %w", err)
	}

	created, err := s.createUser(ctx, user.User{
		OpenID: c.OpenID,
		Email:  c.Email,
		Name:   c.Name,
		Image:  c.Picture,
	})
	if err != nil {
		return user.User{}, "", err
	}
	return created, "", nil
}

func (s *Service) findOrCreateByAddress(ctx context.Context, address string) (user.User, error) {
	u, err := s.users.GetUserByAddress(ctx, address)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return user.User{}, fmt.Errorf("lookup user: %w", err)
	}
	return s.createUser(ctx, user.User{Address: address})
}

// createUser inserts a new user; the first user in the system becomes ADMIN,
// everyone after that READER. A concurrent insert racing on the same identity
// key resolves to the winner's record.
func (s *Service) createUser(ctx context.Context, u user.User) (user.User, error) {
	count, err := s.users.CountUsers(ctx)
	if err != nil {
		return user.User{}, fmt.Errorf("count users: %w", err)
	}
	if count == 0 {
		u.Role = user.RoleAdmin
	} else {
		u.Role = user.RoleReader
	}

	created, err := s.users.CreateUser(ctx, u)
	if errors.Is(err, storage.ErrDuplicate) {
		if u.Address != "" {
			return s.users.GetUserByAddress(ctx, u.Address)
		}
		return s.users.GetUserByOpenID(ctx, u.OpenID)
	}
	if err != nil {
		return user.User{}, fmt.Errorf("create user: %w", err)
	}

	s.log.WithField("user_id", created.ID).
		WithField("role", string(created.Role)).
		Info("user registered")
	return created, nil
}

// refreshAsync triggers a best-effort subscription refresh detached from the
// login; its failure never fails the login and is visible only in logs.
func (s *Service) refreshAsync(address string) {
	if s.refresher == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.refresher.RefreshSubscriptions(ctx, address)
	}()
}
