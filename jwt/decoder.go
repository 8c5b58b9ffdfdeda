package jwt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformed is returned when a token is not a decodable compact JWS.
	ErrMalformed = errors.New("malformed token")
	// ErrMissingIssuedAt is returned when a decodable token carries no iat claim.
	ErrMissingIssuedAt = errors.New("token has no iat claim")
	// ErrSignature is returned when verification is enabled and the signature
	// does not verify.
	ErrSignature = errors.New("token signature invalid")
)

// maxSeconds bounds NumericDate values so conversion to time.Time cannot
// overflow. It is far beyond any real expiry.
const maxSeconds = 1 << 53

// Claims is the decoded payload of an access token. Only iat must have a
// specific type; the string fields are filled when the issuer sent strings and
// left empty otherwise.
type Claims struct {
	Subject string
	UID     string
	SID     string
	Issuer  string
	ID      string

	issuedAt  float64
	expiresAt float64
	hasExp    bool
	raw       map[string]any
}

// IssuedAtTime returns iat with sub-second precision preserved.
func (c *Claims) IssuedAtTime() time.Time {
	if c == nil {
		return time.Time{}
	}
	return secondsToTime(c.issuedAt)
}

// ExpiresAtTime returns exp and whether a numeric exp claim was present.
func (c *Claims) ExpiresAtTime() (time.Time, bool) {
	if c == nil || !c.hasExp {
		return time.Time{}, false
	}
	return secondsToTime(c.expiresAt), true
}

// Raw returns the claim named name as decoded from JSON. Numbers are
// json.Number.
func (c *Claims) Raw(name string) (any, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.raw[name]
	return v, ok
}

// DecoderConfig selects optional signature verification.
type DecoderConfig struct {
	VerifyMethod SigningMethod
	VerifyKey    []byte
}

// Decoder turns an access token into Claims. Without a verify method only the
// payload segment is decoded; header and signature are not inspected.
// Time-based claims are never enforced here.
type Decoder struct {
	method    SigningMethod
	verifyKey interface{}
	parser    *jwt.Parser
}

// NewDecoder validates cfg and returns a Decoder.
func NewDecoder(cfg DecoderConfig) (*Decoder, error) {
	method := SigningMethod(strings.ToLower(string(cfg.VerifyMethod)))
	d := &Decoder{method: method}

	switch method {
	case MethodNone:
		if len(cfg.VerifyKey) > 0 {
			return nil, errors.New("verify key set without verify method")
		}
		d.parser = jwt.NewParser()
		return d, nil
	case MethodHS256:
		if len(cfg.VerifyKey) == 0 {
			return nil, errors.New("hs256 requires verify key")
		}
		key := make([]byte, len(cfg.VerifyKey))
		copy(key, cfg.VerifyKey)
		d.verifyKey = key
	case MethodEd25519:
		key, err := parseEdPublicKey(cfg.VerifyKey)
		if err != nil {
			return nil, err
		}
		d.verifyKey = key
	default:
		return nil, errors.New("unsupported signing method")
	}

	d.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{method.jwtMethod().Alg()}),
		jwt.WithoutClaimsValidation(),
		jwt.WithJSONNumber(),
	)
	return d, nil
}

// Verifies reports whether the decoder checks signatures.
func (d *Decoder) Verifies() bool {
	return d != nil && d.method != MethodNone
}

// Decode parses tokenStr and requires a numeric iat claim. It never panics on
// hostile input.
//
// Without verification a token may omit its signature segment
// ("header.payload"); with verification all three segments are required.
func (d *Decoder) Decode(tokenStr string) (*Claims, error) {
	if d == nil {
		return nil, ErrMalformed
	}
	tokenStr = strings.TrimSpace(tokenStr)
	parts := strings.Split(tokenStr, ".")
	if len(parts) < 2 || len(parts) > 3 || parts[1] == "" {
		return nil, ErrMalformed
	}

	var raw map[string]any
	if d.method == MethodNone {
		// Only the payload segment matters; header and signature are opaque
		// to a client that cannot verify them.
		payload, err := d.parser.DecodeSegment(parts[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	} else {
		if len(parts) != 3 {
			return nil, ErrMalformed
		}
		mc := jwt.MapClaims{}
		token, err := d.parser.ParseWithClaims(tokenStr, mc, func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != d.method.jwtMethod().Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
			}
			return d.verifyKey, nil
		})
		if err != nil {
			if errors.Is(err, jwt.ErrTokenMalformed) {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			return nil, fmt.Errorf("%w: %v", ErrSignature, err)
		}
		if !token.Valid {
			return nil, ErrSignature
		}
		raw = mc
	}

	return claimsFromMap(raw)
}

func claimsFromMap(raw map[string]any) (*Claims, error) {
	iat, ok, err := numericClaim(raw, "iat")
	if err != nil {
		return nil, fmt.Errorf("%w: iat: %v", ErrMalformed, err)
	}
	if !ok {
		return nil, ErrMissingIssuedAt
	}

	c := &Claims{
		Subject:  stringClaim(raw, "sub"),
		UID:      stringClaim(raw, "uid"),
		SID:      stringClaim(raw, "sid"),
		Issuer:   stringClaim(raw, "iss"),
		ID:       stringClaim(raw, "jti"),
		issuedAt: iat,
		raw:      raw,
	}
	// A non-numeric exp is ignored; the guard falls back to iat.
	if exp, ok, err := numericClaim(raw, "exp"); err == nil && ok {
		c.expiresAt, c.hasExp = exp, true
	}
	return c, nil
}

func stringClaim(raw map[string]any, name string) string {
	s, _ := raw[name].(string)
	return s
}

// numericClaim reads a NumericDate in seconds, clamped to ±maxSeconds.
func numericClaim(raw map[string]any, name string) (float64, bool, error) {
	v, ok := raw[name]
	if !ok || v == nil {
		return 0, false, nil
	}
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := strconv.ParseFloat(string(n), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return 0, false, err
		}
		f = parsed
	case float64:
		f = n
	default:
		return 0, false, fmt.Errorf("not a number: %T", v)
	}
	if math.IsNaN(f) {
		return 0, false, errors.New("not a number")
	}
	return math.Max(-maxSeconds, math.Min(maxSeconds, f)), true, nil
}

func secondsToTime(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(frac*1e9))
}
