package identity_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"

	"github.com/plantree-xyz/plantree-server/internal/app/domain/user"
	"github.com/plantree-xyz/plantree-server/internal/app/services/identity"
	"github.com/plantree-xyz/plantree-server/internal/app/storage/memory"
	"github.com/plantree-xyz/plantree-server/internal/auth"
)

type fakeTokenVerifier struct {
	err error
}

func (f fakeTokenVerifier) VerifyToken(context.Context, string) error { return f.err }

type recordingRefresher struct {
	mu        sync.Mutex
	addresses []string
}

func (r *recordingRefresher) RefreshSubscriptions(_ context.Context, address string) []user.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addresses = append(r.addresses, address)
	return nil
}

func (r *recordingRefresher) called() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.addresses)
}

func walletCredential(t *testing.T) (identity.WalletCredential, string) {
	t.Helper()

	priv, err := keys.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey() error = %v", err)
	}
	address := priv.PublicKey().Address()
	message := fmt.Sprintf("plantree.xyz wants you to sign in with your wallet:\n%s\n\nChain ID: 894710606\nNonce: n1", address)

	digest := sha256.Sum256([]byte(message))
	return identity.WalletCredential{
		Message:   message,
		Signature: hex.EncodeToString(priv.Sign(digest[:])),
		PublicKey: hex.EncodeToString(priv.PublicKey().Bytes()),
	}, address
}

func TestAuthenticateWallet(t *testing.T) {
	store := memory.New()
	refresher := &recordingRefresher{}
	svc := identity.New(store, auth.WalletVerifier{}, nil, refresher, nil)

	cred, address := walletCredential(t)
	u, chainID, err := svc.Authenticate(context.Background(), cred)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if u.Address != address {
		t.Errorf("Address = %q, want %q", u.Address, address)
	}
	if chainID != "894710606" {
		t.Errorf("chainID = %q", chainID)
	}
	if u.Role != user.RoleAdmin {
		t.Errorf("first user role = %q, want ADMIN", u.Role)
	}

	// same credential resolves to the same user
	again, _, err := svc.Authenticate(context.Background(), cred)
	if err != nil {
		t.Fatalf("Authenticate() second call error = %v", err)
	}
	if again.ID != u.ID {
		t.Errorf("second login user = %q, want %q", again.ID, u.ID)
	}

	// a different wallet gets READER
	other, _, err := svc.Authenticate(context.Background(), mustWalletCredential(t))
	if err != nil {
		t.Fatalf("Authenticate() other wallet error = %v", err)
	}
	if other.Role != user.RoleReader {
		t.Errorf("second user role = %q, want READER", other.Role)
	}

	waitFor(t, func() bool { return refresher.called() >= 3 })
}

func mustWalletCredential(t *testing.T) identity.WalletCredential {
	t.Helper()
	cred, _ := walletCredential(t)
	return cred
}

func TestAuthenticateWalletBadSignature(t *testing.T) {
	store := memory.New()
	svc := identity.New(store, auth.WalletVerifier{}, nil, nil, nil)

	cred, _ := walletCredential(t)
	cred.Signature = "deadbeef"

	if _, _, err := svc.Authenticate(context.Background(), cred); !errors.Is(err, identity.ErrAuthenticationFailed) {
		t.Fatalf("Authenticate() error = %v, want ErrAuthenticationFailed", err)
	}
	if n, _ := store.CountUsers(context.Background()); n != 0 {
		t.Errorf("user count = %d, want 0 after rejected login", n)
	}
}

func TestAuthenticateProviderToken(t *testing.T) {
	store := memory.New()
	svc := identity.New(store, auth.WalletVerifier{}, fakeTokenVerifier{}, nil, nil)

	u, chainID, err := svc.Authenticate(context.Background(), identity.ProviderTokenCredential{
		Token:   "tok-1",
		Address: "NhGomBpYnKXArr85nt7ggWHx39rBnGEsvV",
	})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if chainID != "" {
		t.Errorf("chainID = %q, want empty", chainID)
	}
	if u.Address != "NhGomBpYnKXArr85nt7ggWHx39rBnGEsvV" {
		t.Errorf("Address = %q", u.Address)
	}
}

func TestAuthenticateProviderTokenRejected(t *testing.T) {
	store := memory.New()

	// verifier failure
	svc := identity.New(store, auth.WalletVerifier{}, fakeTokenVerifier{err: errors.New("expired")}, nil, nil)
	if _, _, err := svc.Authenticate(context.Background(), identity.ProviderTokenCredential{Token: "t", Address: "addr"}); !errors.Is(err, identity.ErrAuthenticationFailed) {
		t.Fatalf("error = %v, want ErrAuthenticationFailed", err)
	}

	// no verifier configured
	svc = identity.New(store, auth.WalletVerifier{}, nil, nil, nil)
	if _, _, err := svc.Authenticate(context.Background(), identity.ProviderTokenCredential{Token: "t", Address: "addr"}); !errors.Is(err, identity.ErrAuthenticationFailed) {
		t.Fatalf("error = %v, want ErrAuthenticationFailed", err)
	}
}

func TestAuthenticateGoogle(t *testing.T) {
	store := memory.New()
	svc := identity.New(store, auth.WalletVerifier{}, nil, nil, nil)

	cred := identity.GoogleCredential{
		Email:   "alice@example.com",
		OpenID:  "google-123",
		Name:    "Alice",
		Picture: "https://example.com/a.png",
	}

	u, _, err := svc.Authenticate(context.Background(), cred)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if u.OpenID != "google-123" || u.Email != "alice@example.com" {
		t.Errorf("user = %+v", u)
	}
	if u.Role != user.RoleAdmin {
		t.Errorf("first user role = %q", u.Role)
	}

	again, _, err := svc.Authenticate(context.Background(), cred)
	if err != nil {
		t.Fatalf("Authenticate() second call error = %v", err)
	}
	if again.ID != u.ID {
		t.Errorf("second login user = %q, want %q", again.ID, u.ID)
	}

	if _, _, err := svc.Authenticate(context.Background(), identity.GoogleCredential{Email: "x@y.z"}); !errors.Is(err, identity.ErrAuthenticationFailed) {
		t.Fatalf("missing openid: error = %v, want ErrAuthenticationFailed", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
