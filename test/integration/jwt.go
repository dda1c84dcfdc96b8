package integration

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestClaims describes the identity a test actor presents: the subject and
// tenant the approval middleware requires, plus the approver role IDs that
// drive step authorization.
type TestClaims struct {
	SubjectID string
	TenantID  string
	Email     string
	Roles     []string
	Extra     map[string]any
}

// tokenIssuer mints signed approver tokens against a throwaway RSA key and
// publishes the matching JWKS document, standing in for the identity
// provider the gateway trusts in production.
type tokenIssuer struct {
	key      *rsa.PrivateKey
	keyID    string
	jwks     *httptest.Server
	issuer   string
	audience string
}

func newTokenIssuer(t *testing.T) *tokenIssuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}

	ti := &tokenIssuer{
		key:      key,
		keyID:    "idhini-test-signer",
		issuer:   "https://auth.test.idhini.dev",
		audience: "idhini-bff-test",
	}
	ti.jwks = httptest.NewServer(http.HandlerFunc(ti.serveJWKS))
	t.Cleanup(ti.jwks.Close)
	return ti
}

func (ti *tokenIssuer) serveJWKS(w http.ResponseWriter, _ *http.Request) {
	pub := ti.key.PublicKey
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"keys": []map[string]any{{
			"kid": ti.keyID,
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

// GenerateToken mints a token valid for one hour.
func (ti *tokenIssuer) GenerateToken(claims TestClaims) string {
	return ti.sign(claims, time.Hour)
}

// GenerateExpiredToken mints a token whose validity window closed an hour
// ago, for exercising the middleware's expiry rejection.
func (ti *tokenIssuer) GenerateExpiredToken(claims TestClaims) string {
	return ti.sign(claims, -time.Hour)
}

// sign builds and signs the claim set. A negative lifetime back-dates the
// whole validity window instead of producing a token issued in the future.
func (ti *tokenIssuer) sign(claims TestClaims, lifetime time.Duration) string {
	now := time.Now()
	issued := now
	if lifetime < 0 {
		issued = now.Add(2 * lifetime)
	}

	set := jwt.MapClaims{
		"iss":       ti.issuer,
		"aud":       ti.audience,
		"iat":       jwt.NewNumericDate(issued),
		"exp":       jwt.NewNumericDate(now.Add(lifetime)),
		"sub":       claims.SubjectID,
		"tenant_id": claims.TenantID,
		"email":     claims.Email,
	}
	if len(claims.Roles) > 0 {
		// []any, the shape role claims take after JSON decoding.
		roles := make([]any, len(claims.Roles))
		for i, r := range claims.Roles {
			roles[i] = r
		}
		set["roles"] = roles
	}
	for k, v := range claims.Extra {
		set[k] = v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, set)
	token.Header["kid"] = ti.keyID

	signed, err := token.SignedString(ti.key)
	if err != nil {
		panic("sign token: " + err.Error())
	}
	return signed
}

func (ti *tokenIssuer) JWKSURL() string  { return ti.jwks.URL }
func (ti *tokenIssuer) Issuer() string   { return ti.issuer }
func (ti *tokenIssuer) Audience() string { return ti.audience }
