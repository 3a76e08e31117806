package channel

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken indicates a pairing or device token failed validation
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired indicates the token has expired
	ErrTokenExpired = errors.New("token expired")
)

// TokenKind distinguishes single-use pairing tokens from device tokens
type TokenKind string

const (
	TokenPairing TokenKind = "pairing"
	TokenDevice  TokenKind = "device"
)

const tokenIssuer = "code-relay"

// DeviceClaims are the claims carried by channel tokens
type DeviceClaims struct {
	Kind     TokenKind `json:"kind"`
	DeviceID string    `json:"device_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and validates channel tokens
type TokenIssuer struct {
	secretKey  []byte
	pairingTTL time.Duration
	deviceTTL  time.Duration
}

// NewTokenIssuer creates a TokenIssuer. Zero TTLs fall back to 5 minutes and 30 days.
func NewTokenIssuer(secretKey string, pairingTTL, deviceTTL time.Duration) *TokenIssuer {
	if pairingTTL <= 0 {
		pairingTTL = 5 * time.Minute
	}
	if deviceTTL <= 0 {
		deviceTTL = 30 * 24 * time.Hour
	}
	return &TokenIssuer{
		secretKey:  []byte(secretKey),
		pairingTTL: pairingTTL,
		deviceTTL:  deviceTTL,
	}
}

// IssuePairing mints a short-lived pairing token. The returned id is the
// token's jti and identifies the pairing attempt.
func (t *TokenIssuer) IssuePairing() (token, id string, expiresAt time.Time, err error) {
	id = uuid.NewString()
	token, expiresAt, err = t.sign(&DeviceClaims{Kind: TokenPairing}, id, t.pairingTTL)
	return token, id, expiresAt, err
}

// IssueDevice mints a long-lived token for a paired device
func (t *TokenIssuer) IssueDevice(deviceID string) (string, time.Time, error) {
	return t.sign(&DeviceClaims{Kind: TokenDevice, DeviceID: deviceID}, uuid.NewString(), t.deviceTTL)
}

func (t *TokenIssuer) sign(claims *DeviceClaims, id string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        id,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    tokenIssuer,
		Subject:   claims.DeviceID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Validate parses a token and returns its claims
func (t *TokenIssuer) Validate(tokenString string) (*DeviceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DeviceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return t.secretKey, nil
	}, jwt.WithIssuer(tokenIssuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*DeviceClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Kind != TokenPairing && claims.Kind != TokenDevice {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
