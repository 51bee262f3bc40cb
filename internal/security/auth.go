package security

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/agent-datastore/internal/config"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyUserID is the gin context key for the tenant user ID.
	ContextKeyUserID = "userID"
	// ContextKeyAgentName is the gin context key for the calling agent name.
	ContextKeyAgentName = "agentName"
	// ContextKeyClientID is the gin context key for the API key client name.
	ContextKeyClientID = "clientID"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderAgentName = "X-Agent-Name"
)

// Identity is the resolved caller of a data store request.
type Identity struct {
	UserID    string
	AgentName string
	ClientID  string
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext retrieves the Identity stored by AuthMiddleware.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// TokenResolver resolves request credentials to caller identities. It is
// initialized once at startup and shared by the HTTP routes and MCP tools.
type TokenResolver struct {
	verifier    *oidc.IDTokenVerifier
	apiKeys     map[string]string
	required    bool
	testingMode bool
}

// NewTokenResolver creates a TokenResolver from the application config. It performs
// one-time OIDC provider discovery if OIDCIssuer is configured.
func NewTokenResolver(cfg *config.Config) *TokenResolver {
	var verifier *oidc.IDTokenVerifier
	oidcIssuer := cfg.OIDCIssuer

	if oidcIssuer != "" {
		ctx := context.Background()
		expectedIssuer := oidcIssuer
		discoveryURL := cfg.OIDCDiscoveryURL
		if discoveryURL != "" && discoveryURL != oidcIssuer {
			// NewProvider fetches from its issuer arg; accept the mismatched
			// issuer in the discovery document.
			ctx = oidc.InsecureIssuerURLContext(ctx, oidcIssuer)
			oidcIssuer = discoveryURL
		}
		provider, err := oidc.NewProvider(ctx, oidcIssuer)
		if err != nil {
			log.Error("Failed to initialize OIDC provider; only API keys will be accepted", "issuer", oidcIssuer, "err", err)
		} else {
			// Tokens carry the external issuer, so verify against it even when
			// discovery went through an internal hostname.
			var providerClaims struct {
				JWKSURI string `json:"jwks_uri"`
			}
			if expectedIssuer != oidcIssuer {
				if err := provider.Claims(&providerClaims); err == nil && providerClaims.JWKSURI != "" {
					keySet := oidc.NewRemoteKeySet(ctx, providerClaims.JWKSURI)
					verifier = oidc.NewVerifier(expectedIssuer, keySet, &oidc.Config{
						SkipClientIDCheck: true,
					})
				}
			}
			if verifier == nil {
				verifier = provider.Verifier(&oidc.Config{
					SkipClientIDCheck: true,
				})
			}
			log.Info("OIDC auth enabled", "issuer", expectedIssuer)
		}
	}

	return &TokenResolver{
		verifier:    verifier,
		apiKeys:     cfg.APIKeys,
		required:    cfg.AuthRequired(),
		testingMode: cfg.Mode == config.ModeTesting,
	}
}

var (
	errMissingToken    = errors.New("missing Authorization header")
	errMalformedToken  = errors.New("invalid Authorization header; expected Bearer token")
	errInvalidAPIKey   = errors.New("invalid API key")
	errInvalidJWT      = errors.New("invalid JWT")
	errMissingIdentity = errors.New("JWT missing identity claims")
	errMissingUserID   = errors.New("missing " + HeaderUserID + " header")
)

// Resolve turns the raw Authorization header and identity headers into an
// Identity. A verified JWT supplies the user ID and takes precedence over
// userIDHeader. Without configured credentials the headers are trusted as-is.
func (r *TokenResolver) Resolve(ctx context.Context, authorization, userIDHeader, agentHeader string) (*Identity, error) {
	id := &Identity{
		UserID:    strings.TrimSpace(userIDHeader),
		AgentName: strings.TrimSpace(agentHeader),
	}

	if authorization == "" {
		if r.required {
			return nil, errMissingToken
		}
	} else if r.required {
		token := strings.TrimPrefix(authorization, "Bearer ")
		if token == authorization {
			return nil, errMalformedToken
		}
		token = strings.TrimSpace(token)

		if r.verifier != nil && strings.Count(token, ".") >= 2 {
			userID, err := r.verifyJWT(ctx, token)
			if err != nil {
				return nil, err
			}
			id.UserID = userID
		} else if client, ok := r.apiKeys[token]; ok {
			id.ClientID = client
		} else if !r.testingMode {
			return nil, errInvalidAPIKey
		}
	}

	if id.UserID == "" {
		return nil, errMissingUserID
	}
	return id, nil
}

func (r *TokenResolver) verifyJWT(ctx context.Context, token string) (string, error) {
	idToken, err := r.verifier.Verify(ctx, token)
	if err != nil {
		return "", errors.Join(errInvalidJWT, err)
	}
	// Prefer "preferred_username", then "upn", then "sub".
	var claims struct {
		Sub               string `json:"sub"`
		PreferredUsername string `json:"preferred_username"`
		UPN               string `json:"upn"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", errors.Join(errInvalidJWT, err)
	}
	for _, candidate := range []string{claims.PreferredUsername, claims.UPN, claims.Sub} {
		if candidate != "" {
			return candidate, nil
		}
	}
	return "", errMissingIdentity
}

// --- Gin HTTP middleware ---

// GetUserID returns the tenant user ID from the gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// GetAgentName returns the calling agent name from the gin context ("" when none).
func GetAgentName(c *gin.Context) string {
	return c.GetString(ContextKeyAgentName)
}

// GetClientID returns the API key client name from the gin context.
func GetClientID(c *gin.Context) string {
	return c.GetString(ContextKeyClientID)
}

// AuthMiddleware returns a gin middleware that resolves the caller identity and
// stores it in both the gin context and the request context.
func AuthMiddleware(resolver *TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := resolver.Resolve(
			c.Request.Context(),
			c.GetHeader("Authorization"),
			c.GetHeader(HeaderUserID),
			c.GetHeader(HeaderAgentName),
		)
		if err != nil {
			log.Info("Auth rejected", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(ContextKeyUserID, id.UserID)
		c.Set(ContextKeyAgentName, id.AgentName)
		if id.ClientID != "" {
			c.Set(ContextKeyClientID, id.ClientID)
		}
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}
