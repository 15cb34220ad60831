// Package webhook verifies signed deliveries from the message queue that
// drives queued runs. A delivery carries an HS256 JWT whose "body" claim is
// the base64url SHA-256 of the raw request body.
package webhook

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// SignatureHeader carries the delivery JWT.
const SignatureHeader = "Upstash-Signature"

const maxBodyBytes = 1 << 20

// ErrInvalidSignature is returned for any delivery that does not verify.
var ErrInvalidSignature = errors.New("webhook: invalid signature")

// Claims is the delivery token payload.
type Claims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

// Verifier checks delivery tokens against the current and next signing
// keys, so keys can be rotated without dropping deliveries.
type Verifier struct {
	keys   [][]byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// WithLeeway allows clock skew on exp and nbf.
func WithLeeway(d time.Duration) Option {
	return func(v *Verifier) { v.leeway = d }
}

// NewVerifier creates a Verifier. Empty keys are ignored; an empty issuer
// skips the iss check.
func NewVerifier(currentKey, nextKey, issuer string, opts ...Option) *Verifier {
	v := &Verifier{issuer: issuer, leeway: 5 * time.Second, now: time.Now}
	for _, k := range []string{currentKey, nextKey} {
		if k != "" {
			v.keys = append(v.keys, []byte(k))
		}
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Verify checks token against body.
func (v *Verifier) Verify(token string, body []byte) error {
	if token == "" {
		return eris.Wrap(ErrInvalidSignature, "webhook: missing token")
	}
	if len(v.keys) == 0 {
		return eris.Wrap(ErrInvalidSignature, "webhook: no signing keys configured")
	}

	var lastErr error
	for _, key := range v.keys {
		claims, err := v.parse(token, key)
		if err != nil {
			lastErr = err
			continue
		}
		if strings.TrimRight(claims.Body, "=") != bodyHash(body) {
			return eris.Wrap(ErrInvalidSignature, "webhook: body hash mismatch")
		}
		return nil
	}
	return eris.Wrapf(ErrInvalidSignature, "webhook: %v", lastErr)
}

func (v *Verifier) parse(token string, key []byte) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Middleware rejects unsigned or tampered requests with 401 and hands the
// verified body on to next.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, `{"error":"read body"}`, http.StatusBadRequest)
			return
		}
		if err := v.Verify(r.Header.Get(SignatureHeader), body); err != nil {
			zap.L().Warn("webhook: rejected delivery", zap.String("path", r.URL.Path), zap.Error(err))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid signature"}`))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// Sign produces a delivery token for body. It is the inverse of Verify and
// is used to replay deliveries by hand.
func Sign(key, issuer, subject string, body []byte, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		Body: bodyHash(body),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", eris.Wrap(err, "webhook: sign")
	}
	return s, nil
}

func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
