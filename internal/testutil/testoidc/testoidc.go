package testoidc

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const keyID = "test-1"

// Issuer is a disposable OIDC provider serving discovery and JWKS documents
// and signing RS256 tokens for tests.
type Issuer struct {
	server *httptest.Server
	key    *rsa.PrivateKey
}

// Start launches an Issuer that is shut down when tb completes.
func Start(tb testing.TB) *Issuer {
	tb.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		tb.Fatalf("generate RSA key: %v", err)
	}
	iss := &Issuer{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", iss.handleDiscovery)
	mux.HandleFunc("/jwks", iss.handleJWKS)
	iss.server = httptest.NewServer(mux)
	tb.Cleanup(iss.server.Close)
	return iss
}

// URL is the issuer URL to configure as the OIDC issuer.
func (i *Issuer) URL() string {
	return i.server.URL
}

// IssueToken signs a token for username, valid for one hour.
func (i *Issuer) IssueToken(tb testing.TB, username string) string {
	tb.Helper()
	now := time.Now()
	return i.Sign(tb, map[string]any{
		"sub":                username,
		"preferred_username": username,
		"iss":                i.server.URL,
		"aud":                "agent-datastore",
		"iat":                now.Unix(),
		"exp":                now.Add(time.Hour).Unix(),
	})
}

// Sign signs arbitrary claims with the issuer key.
func (i *Issuer) Sign(tb testing.TB, claims map[string]any) string {
	tb.Helper()
	header := encodeSegment(tb, map[string]any{"alg": "RS256", "typ": "JWT", "kid": keyID})
	payload := encodeSegment(tb, claims)

	input := header + "." + payload
	digest := sha256.Sum256([]byte(input))
	sig, err := rsa.SignPKCS1v15(rand.Reader, i.key, crypto.SHA256, digest[:])
	if err != nil {
		tb.Fatalf("sign JWT: %v", err)
	}
	return input + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func (i *Issuer) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	base := i.server.URL
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"issuer":                                base,
		"authorization_endpoint":                base + "/auth",
		"token_endpoint":                        base + "/token",
		"jwks_uri":                              base + "/jwks",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

func (i *Issuer) handleJWKS(w http.ResponseWriter, r *http.Request) {
	pub := &i.key.PublicKey
	e := make([]byte, 4)
	binary.BigEndian.PutUint32(e, uint32(pub.E))
	for len(e) > 1 && e[0] == 0 {
		e = e[1:]
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"kid": keyID,
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(e),
		}},
	})
}

func encodeSegment(tb testing.TB, v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		tb.Fatalf("marshal JWT segment: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
