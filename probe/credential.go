package probe

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// forgedBearerToken mints an HS256 access token signed with a random key that
// is discarded immediately. It is structurally valid (issuer, audience,
// expiry) so a server that only checks token shape, not signature, is caught.
func forgedBearerToken(audience string, now time.Time) (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate signing key: %w", err)
	}

	claims := jwt.RegisteredClaims{
		Issuer:    "https://untrusted.invalid/",
		Subject:   "mcp-probe",
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		ID:        uuid.NewString(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign forged token: %w", err)
	}
	return signed, nil
}
