// Package auth verifies the credentials accepted by the login flow: wallet
// signatures over sign-in messages and embedded-wallet provider tokens.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
)

// SignInMessage is the parsed form of a wallet sign-in message.
type SignInMessage struct {
	Address string
	ChainID string
	Nonce   string
}

// ParseSignInMessage extracts the claimed address, chain id and nonce from a
// sign-in message. The message is a line-oriented statement of the form
//
//	<host> wants you to sign in with your wallet:
//	<address>
//
//	Chain ID: <id>
//	Nonce: <nonce>
//	Issued At: <timestamp>
func ParseSignInMessage(message string) (*SignInMessage, error) {
	lines := strings.Split(strings.ReplaceAll(message, "\r\n", "\n"), "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("malformed sign-in message")
	}

	parsed := &SignInMessage{Address: strings.TrimSpace(lines[1])}
	for _, line := range lines[2:] {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Chain ID:"):
			parsed.ChainID = strings.TrimSpace(strings.TrimPrefix(line, "Chain ID:"))
		case strings.HasPrefix(line, "Nonce:"):
			parsed.Nonce = strings.TrimSpace(strings.TrimPrefix(line, "Nonce:"))
		}
	}

	if parsed.Address == "" {
		return nil, fmt.Errorf("sign-in message has no address")
	}
	if parsed.ChainID == "" {
		return nil, fmt.Errorf("sign-in message has no chain id")
	}
	return parsed, nil
}

// WalletVerifier validates wallet signatures against claimed addresses.
type WalletVerifier struct{}

// Verify checks that publicKey hashes to the claimed address and that
// signature is a valid signature of message under that key. The signature
// covers the SHA-256 digest of the raw message bytes.
func (WalletVerifier) Verify(address, message, signature, publicKey string) bool {
	if address == "" || message == "" || signature == "" || publicKey == "" {
		return false
	}

	pub, err := keys.NewPublicKeyFromString(publicKey)
	if err != nil {
		return false
	}
	if pub.Address() != address {
		return false
	}

	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	digest := sha256.Sum256([]byte(message))
	return pub.Verify(sig, digest[:])
}
