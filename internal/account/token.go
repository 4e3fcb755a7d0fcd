// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package account

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// TokenPurpose scopes a signed token to exactly one operation. The purpose is
// embedded in the signed claims and mixed into the MAC key, so a token minted
// for one purpose never validates for another even when the claim shapes
// coincide.
type TokenPurpose string

// Token purposes.
const (
	PurposeEmailVerify   TokenPurpose = "email-verify"
	PurposePasswordReset TokenPurpose = "password-reset"
)

// DefaultTokenMaxAge is the validity window for minted tokens.
const DefaultTokenMaxAge = time.Hour

// Token failure sentinels. These are distinguished for tests and telemetry
// only; callers fold all of them into ErrInvalidToken before anything reaches
// a user.
var (
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature mismatch")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenPurpose   = errors.New("token purpose mismatch")
)

// TokenClaims is the payload carried inside a signed token.
//
// Email is set only for email-verify tokens: it snapshots the address at mint
// time so a stale link cannot confirm a since-changed address.
type TokenClaims struct {
	AccountID string       `json:"aid"`
	Email     string       `json:"eml,omitempty"`
	Purpose   TokenPurpose `json:"pur"`
	IssuedAt  int64        `json:"iat"`
}

// TokenCodec mints and validates stateless signed tokens. Tokens are
// self-contained: validity is solely a function of signature and age, with no
// server-side token state.
//
// Wire format: base64url(JSON claims) || "." || base64url(HMAC-SHA256).
type TokenCodec struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// TokenCodecConfig configures a TokenCodec.
type TokenCodecConfig struct {
	// Secret is the server-side signing key. Required, never sent to clients.
	Secret []byte

	// MaxAge is the validity window. Defaults to DefaultTokenMaxAge.
	MaxAge time.Duration

	// Now returns the current time. Defaults to time.Now. Tests inject a
	// fixed clock here; expiry is always judged by the server clock at
	// decode time, never by anything client-supplied.
	Now func() time.Time
}

// NewTokenCodec creates a TokenCodec.
func NewTokenCodec(cfg TokenCodecConfig) (*TokenCodec, error) {
	if len(cfg.Secret) == 0 {
		return nil, oops.Code("TOKEN_SECRET_REQUIRED").Errorf("token secret is required")
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultTokenMaxAge
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &TokenCodec{secret: cfg.Secret, maxAge: maxAge, now: nowFn}, nil
}

// MaxAge returns the configured validity window.
func (c *TokenCodec) MaxAge() time.Duration {
	return c.maxAge
}

// Mint produces a signed token for the given purpose. email is the snapshot
// for email-verify tokens and must be empty for other purposes.
func (c *TokenCodec) Mint(purpose TokenPurpose, accountID ulid.ULID, email string) (string, error) {
	if purpose == "" {
		return "", oops.Code("TOKEN_PURPOSE_REQUIRED").Errorf("token purpose is required")
	}

	claims := TokenClaims{
		AccountID: accountID.String(),
		Email:     email,
		Purpose:   purpose,
		IssuedAt:  c.now().Unix(),
	}
	raw, err := json.Marshal(claims)
	if err != nil {
		return "", oops.Code("TOKEN_MINT_FAILED").
			With("purpose", string(purpose)).
			Wrap(err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(raw)
	sig := c.sign(purpose, encoded)
	return encoded + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// Decode validates a token and returns its claims. The failure kind is
// reported through the sentinel errors (wrapped with oops codes):
//
//   - ErrTokenMalformed: not parseable as claims "." signature
//   - ErrTokenSignature: MAC does not verify against the service secret
//   - ErrTokenPurpose: authentic token minted for a different purpose
//   - ErrTokenExpired: authentic token older than the max age
//
// Expiry is measured against the server clock at decode time.
func (c *TokenCodec) Decode(token string, purpose TokenPurpose) (*TokenClaims, error) {
	encoded, sigPart, found := strings.Cut(token, ".")
	if !found || encoded == "" || sigPart == "" {
		return nil, oops.Code("TOKEN_MALFORMED").Wrap(ErrTokenMalformed)
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, oops.Code("TOKEN_MALFORMED").Wrap(ErrTokenMalformed)
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return nil, oops.Code("TOKEN_MALFORMED").Wrap(ErrTokenMalformed)
	}

	var claims TokenClaims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, oops.Code("TOKEN_MALFORMED").Wrap(ErrTokenMalformed)
	}
	if claims.AccountID == "" || claims.Purpose == "" || claims.IssuedAt == 0 {
		return nil, oops.Code("TOKEN_MALFORMED").Wrap(ErrTokenMalformed)
	}

	// Verify against the key derived from the embedded purpose. An authentic
	// token redeemed on the wrong endpoint then classifies as a purpose
	// mismatch rather than a forgery.
	expected := c.sign(claims.Purpose, encoded)
	if !hmac.Equal(sig, expected) {
		return nil, oops.Code("TOKEN_BAD_SIGNATURE").Wrap(ErrTokenSignature)
	}

	if claims.Purpose != purpose {
		return nil, oops.Code("TOKEN_WRONG_PURPOSE").
			With("expected", string(purpose)).
			With("got", string(claims.Purpose)).
			Wrap(ErrTokenPurpose)
	}

	issuedAt := time.Unix(claims.IssuedAt, 0)
	if c.now().Sub(issuedAt) > c.maxAge {
		return nil, oops.Code("TOKEN_EXPIRED").
			With("issued_at", issuedAt).
			With("max_age", c.maxAge.String()).
			Wrap(ErrTokenExpired)
	}

	return &claims, nil
}

// sign computes the MAC over the encoded claims with a per-purpose key
// derived from the service secret. The derivation acts as a domain separator:
// HMAC(secret, "accountd/token:"+purpose) keys the claims MAC.
func (c *TokenCodec) sign(purpose TokenPurpose, encodedClaims string) []byte {
	kd := hmac.New(sha256.New, c.secret)
	kd.Write([]byte("accountd/token:" + string(purpose)))
	key := kd.Sum(nil)

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(encodedClaims))
	return mac.Sum(nil)
}
