// Package token implements the compact signed session token used by the
// verification flow: header.payload.signature, URL-safe base64 segments,
// HMAC-SHA256 over the first two. The format is deliberately kept free of
// any token library so it stays auditable and edge-runtime compatible.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the self-contained claim set carried by a session token.
// VerifiedAt is epoch milliseconds, Exp is epoch seconds.
type Claims struct {
	Email      string `json:"email"`
	Verified   bool   `json:"verified"`
	VerifiedAt int64  `json:"verifiedAt"`
	Exp        int64  `json:"exp"`
}

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// Codec signs and verifies session tokens with a single shared secret.
// It holds no other state; identical claims and secret produce identical
// tokens.
type Codec struct {
	secret []byte
	now    func() time.Time
}

func NewCodec(secret string) *Codec {
	return &Codec{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// Encode produces header.payload.signature for the given claims.
func (c *Codec) Encode(claims Claims) (string, error) {
	headerJSON, err := json.Marshal(header{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", err
	}

	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) +
		"." +
		base64.RawURLEncoding.EncodeToString(payloadJSON)

	return signingInput + "." + c.sign(signingInput), nil
}

// Decode verifies the signature before parsing anything, then checks
// expiry. Every failure path returns a zero Claims and a sentinel error;
// claim data is never returned from an unverified token.
func (c *Codec) Decode(tokenStr string) (Claims, error) {
	parts := strings.Split(tokenStr, ".")
	if len(parts) != 3 {
		return Claims{}, ErrInvalidToken
	}

	signingInput := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(c.sign(signingInput)), []byte(parts[2])) {
		return Claims{}, ErrInvalidToken
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	var claims Claims
	if err := json.Unmarshal(payloadJSON, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}

	if claims.Exp <= c.now().Unix() {
		return Claims{}, ErrTokenExpired
	}

	return claims, nil
}

func (c *Codec) sign(signingInput string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(signingInput))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
