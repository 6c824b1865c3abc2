package access

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signed-link errors.
var (
	ErrLinkExpired = errors.New("download link has expired")
	ErrLinkInvalid = errors.New("download link is invalid")
)

// DownloadClaims binds a signed download token to a single stored artifact.
type DownloadClaims struct {
	Key       string `json:"key"`
	PatientID string `json:"pid"`
	ResultID  string `json:"rid"`
	jwt.RegisteredClaims
}

// TokenSigner mints and verifies the short-lived tokens behind report
// download links. Tokens are HMAC-signed; possession of a valid token is the
// only credential the download endpoint checks, which is why the lifetime is
// bounded.
type TokenSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTokenSigner creates a signer. ttl bounds how long a minted link stays
// usable.
func NewTokenSigner(key []byte, ttl time.Duration) *TokenSigner {
	return &TokenSigner{key: key, ttl: ttl, now: time.Now}
}

// Mint issues a token granting access to the artifact at key.
func (s *TokenSigner) Mint(key, patientID, resultID string) (string, error) {
	now := s.now()
	claims := &DownloadClaims{
		Key:       key,
		PatientID: patientID,
		ResultID:  resultID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "labsecure",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign download token: %w", err)
	}
	return token, nil
}

// Verify parses and validates a token, returning its claims.
func (s *TokenSigner) Verify(token string) (*DownloadClaims, error) {
	claims := &DownloadClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrLinkExpired
		}
		return nil, ErrLinkInvalid
	}
	if !parsed.Valid || claims.Key == "" {
		return nil, ErrLinkInvalid
	}
	return claims, nil
}
