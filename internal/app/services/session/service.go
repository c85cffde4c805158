// Package session assembles and reconstitutes the signed session token that
// carries identity and subscription state between requests.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/plantree-xyz/plantree-server/internal/app/domain/user"
	"github.com/plantree-xyz/plantree-server/internal/app/storage"
	"github.com/plantree-xyz/plantree-server/internal/chain"
	"github.com/plantree-xyz/plantree-server/pkg/logger"
)

// SubscriptionReader reads on-chain subscription state.
type SubscriptionReader interface {
	GetSubscription(ctx context.Context, planIndex int64, address string) (*chain.SubscriptionRecord, error)
	ResolveName(ctx context.Context, address string) (string, error)
}

// Claims are the session token contents. They are a point-in-time snapshot
// of the user record; the token signature is the only trust boundary.
type Claims struct {
	UID           string              `json:"uid"`
	Address       string              `json:"address,omitempty"`
	ChainID       string              `json:"chainId,omitempty"`
	Name          string              `json:"name,omitempty"`
	EnsName       string              `json:"ensName,omitempty"`
	Role          user.Role           `json:"role"`
	Subscriptions []user.Subscription `json:"subscriptions"`
	jwt.RegisteredClaims
}

// Config holds token policy.
type Config struct {
	Secret    string
	TTL       time.Duration
	Issuer    string
	ChainID   string
	PlanIndex int64
}

// Service issues, parses and refreshes session tokens.
type Service struct {
	users  storage.UserStore
	reader SubscriptionReader
	cfg    Config
	secret []byte
	log    *logger.Logger
}

// New constructs a session service.
func New(users storage.UserStore, reader SubscriptionReader, cfg Config, log *logger.Logger) (*Service, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("session secret required")
	}
	if cfg.TTL == 0 {
		cfg.TTL = 30 * 24 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "plantree"
	}
	if log == nil {
		log = logger.NewDefault("session")
	}
	return &Service{
		users:  users,
		reader: reader,
		cfg:    cfg,
		secret: []byte(cfg.Secret),
		log:    log,
	}, nil
}

// Issue builds a signed token from the just-resolved user record.
func (s *Service) Issue(u user.User, chainID string) (string, error) {
	if chainID == "" {
		chainID = s.cfg.ChainID
	}
	now := time.Now()
	claims := &Claims{
		UID:           u.ID,
		Address:       u.Address,
		ChainID:       chainID,
		Name:          u.Name,
		EnsName:       u.EnsName,
		Role:          u.Role,
		Subscriptions: u.Subscriptions,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.cfg.Issuer,
		},
	}
	if claims.Subscriptions == nil {
		claims.Subscriptions = []user.Subscription{}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Parse validates the token signature and reconstitutes the session claims.
// No further validation happens here; claims are copied verbatim.
func (s *Service) Parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// RefreshSubscriptions reads the subscription record for the address at the
// configured plan index and overwrites the user's subscription list with
// the normalized single-element result. It never fails the caller: any
// read or write error is logged and an empty list returned.
func (s *Service) RefreshSubscriptions(ctx context.Context, address string) []user.Subscription {
	if address == "" || s.reader == nil {
		return []user.Subscription{}
	}

	record, err := s.reader.GetSubscription(ctx, s.cfg.PlanIndex, address)
	if err != nil {
		s.log.WithError(err).WithField("address", address).Warn("subscription read failed")
		return []user.Subscription{}
	}

	subs := []user.Subscription{{
		PlanID:    record.PlanID,
		StartTime: record.StartTime,
		Duration:  record.Duration,
		Amount:    record.Amount.String(),
	}}

	if err := s.users.UpdateSubscriptions(ctx, address, subs); err != nil {
		s.log.WithError(err).WithField("address", address).Warn("subscription write failed")
		return []user.Subscription{}
	}
	return subs
}

// Refresh re-reads on-chain subscription state and re-issues the token with
// an updated snapshot. The rest of the claims carry over unchanged.
func (s *Service) Refresh(ctx context.Context, claims *Claims) (string, error) {
	subs := s.RefreshSubscriptions(ctx, claims.Address)

	u := user.User{
		ID:            claims.UID,
		Address:       claims.Address,
		Name:          claims.Name,
		EnsName:       claims.EnsName,
		Role:          claims.Role,
		Subscriptions: subs,
	}
	return s.Issue(u, claims.ChainID)
}

// LookupEnsName resolves the name-service name for an address, best effort.
func (s *Service) LookupEnsName(ctx context.Context, address string) string {
	if s.reader == nil || address == "" {
		return ""
	}
	name, err := s.reader.ResolveName(ctx, address)
	if err != nil {
		s.log.WithError(err).WithField("address", address).Debug("name lookup failed")
		return ""
	}
	return name
}
