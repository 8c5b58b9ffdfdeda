package jwt

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SignerConfig configures token minting.
type SignerConfig struct {
	Method     SigningMethod
	PrivateKey []byte
	Issuer     string
	KeyID      string
}

// Signer mints access tokens. The guard never signs anything itself; Signer
// backs the fake refresh backend, the load generator and tests.
type Signer struct {
	config  SignerConfig
	signKey interface{}
}

// NewSigner validates cfg and returns a Signer.
func NewSigner(cfg SignerConfig) (*Signer, error) {
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	s := &Signer{config: cfg}

	switch cfg.Method {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
		key := make([]byte, len(cfg.PrivateKey))
		copy(key, cfg.PrivateKey)
		s.signKey = key
	case MethodEd25519:
		key, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		s.signKey = key
	default:
		return nil, errors.New("unsupported signing method")
	}
	return s, nil
}

// signedClaims is the payload shape Signer emits.
type signedClaims struct {
	UID string `json:"uid,omitempty"`
	jwt.RegisteredClaims
}

// Sign returns a compact JWS for subject issued at issuedAt. A ttl <= 0 omits
// the exp claim.
func (s *Signer) Sign(subject string, issuedAt time.Time, ttl time.Duration) (string, error) {
	claims := signedClaims{
		UID: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(issuedAt),
			Issuer:   s.config.Issuer,
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(issuedAt.Add(ttl))
	}

	token := jwt.NewWithClaims(s.config.Method.jwtMethod(), claims)
	if s.config.KeyID != "" {
		token.Header["kid"] = s.config.KeyID
	}
	return token.SignedString(s.signKey)
}
