// Package tokens mints and verifies the short-lived capability tokens that
// authorize one role in one room.
package tokens

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/dkeye/Stage/internal/domain"
)

const DefaultTTL = 10 * time.Minute

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the signed payload.
type Claims struct {
	Room      domain.RoomID   `json:"room"`
	Role      domain.Role     `json:"role"`
	Identity  domain.Identity `json:"identity"`
	Name      string          `json:"name"`
	ExpiresAt int64           `json:"exp"`
}

// HMACIssuer signs claims with a shared secret. Format is
// base64url(claims) "." base64url(hmac-sha256).
type HMACIssuer struct {
	secret []byte
	ttl    time.Duration
	clk    clock.Clock
}

func NewHMACIssuer(secret string, ttl time.Duration, clk clock.Clock) *HMACIssuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.New()
	}
	return &HMACIssuer{secret: []byte(secret), ttl: ttl, clk: clk}
}

// Mint assigns a fresh identity derived from the display name and signs the
// capability.
func (i *HMACIssuer) Mint(room domain.RoomID, role domain.Role, name string) (string, Claims, error) {
	if !role.Valid() {
		return "", Claims{}, errors.New("unknown role")
	}
	if room == "" {
		return "", Claims{}, errors.New("room required")
	}
	claims := Claims{
		Room:      room,
		Role:      role,
		Identity:  domain.Identity(uuid.NewString()[:8]),
		Name:      name,
		ExpiresAt: i.clk.Now().Add(i.ttl).Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", Claims{}, err
	}
	enc := base64.RawURLEncoding
	body := enc.EncodeToString(payload)
	return body + "." + enc.EncodeToString(i.sign(body)), claims, nil
}

// Verify checks the signature and expiry and returns the claims.
func (i *HMACIssuer) Verify(token string) (Claims, error) {
	body, sig, ok := strings.Cut(token, ".")
	if !ok {
		return Claims{}, ErrTokenInvalid
	}
	enc := base64.RawURLEncoding
	got, err := enc.DecodeString(sig)
	if err != nil {
		return Claims{}, ErrTokenInvalid
	}
	if !hmac.Equal(got, i.sign(body)) {
		return Claims{}, ErrTokenInvalid
	}
	payload, err := enc.DecodeString(body)
	if err != nil {
		return Claims{}, ErrTokenInvalid
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, ErrTokenInvalid
	}
	if i.clk.Now().Unix() >= claims.ExpiresAt {
		return Claims{}, ErrTokenExpired
	}
	return claims, nil
}

func (i *HMACIssuer) sign(body string) []byte {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(body))
	return mac.Sum(nil)
}
