package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// JWKSConfig holds configuration for the JWKS-based verifier.
type JWKSConfig struct {
	// JWKSURL is the URL of the JSON Web Key Set endpoint. (Required)
	JWKSURL string
	// ExpectedIssuer is the required value for the 'iss' claim. (Optional)
	ExpectedIssuer string
	// ExpectedAudience is the required value for the 'aud' claim. (Optional)
	ExpectedAudience string
	// ClockSkew is the leeway applied to the 'exp' and 'nbf' claims.
	ClockSkew time.Duration
	// RefreshInterval defines how often to refresh the key set. Defaults to 1 hour.
	RefreshInterval time.Duration
}

// JWKSVerifier verifies tokens issued by an identity provider that publishes
// its signing keys as a JWKS document. Service-issued session tokens are
// checked this way before they are handed to a transport.
type JWKSVerifier struct {
	config JWKSConfig
	cache  *jwk.Cache
	cancel context.CancelFunc
}

// NewJWKSVerifier registers the key set URL with a refreshing cache and
// performs the initial fetch.
func NewJWKSVerifier(ctx context.Context, config JWKSConfig, client *http.Client) (*JWKSVerifier, error) {
	if config.JWKSURL == "" {
		return nil, errors.New("JWKSURL is required in JWKSConfig")
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = time.Hour
	}
	if client == nil {
		client = http.DefaultClient
	}

	cacheCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cache := jwk.NewCache(cacheCtx)
	if err := cache.Register(config.JWKSURL, jwk.WithMinRefreshInterval(config.RefreshInterval), jwk.WithHTTPClient(client)); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to register JWKS URL %s with cache: %w", config.JWKSURL, err)
	}
	if _, err := cache.Refresh(ctx, config.JWKSURL); err != nil {
		cancel()
		return nil, fmt.Errorf("failed initial JWKS fetch from %s: %w", config.JWKSURL, err)
	}

	return &JWKSVerifier{config: config, cache: cache, cancel: cancel}, nil
}

// Close stops the background refresh.
func (v *JWKSVerifier) Close() {
	v.cancel()
}

// jwtPrincipal implements the Principal interface for JWT claims.
type jwtPrincipal struct {
	claims jwt.MapClaims
}

func (p *jwtPrincipal) GetClaims() interface{} {
	return p.claims
}

func (p *jwtPrincipal) GetSubject() string {
	sub, _ := p.claims.GetSubject()
	return sub
}

// VerifyToken implements TokenVerifier.
func (v *JWKSVerifier) VerifyToken(ctx context.Context, token string) (Principal, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.config.ExpectedIssuer != "" {
		opts = append(opts, jwt.WithIssuer(v.config.ExpectedIssuer))
	}
	if v.config.ExpectedAudience != "" {
		opts = append(opts, jwt.WithAudience(v.config.ExpectedAudience))
	}
	if v.config.ClockSkew > 0 {
		opts = append(opts, jwt.WithLeeway(v.config.ClockSkew))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.keyFunc(ctx, t)
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w: %w", ErrInvalidToken, ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return &jwtPrincipal{claims: claims}, nil
}

// keyFunc resolves the token's kid against the cached key set, refreshing
// once when the kid is unknown.
func (v *JWKSVerifier) keyFunc(ctx context.Context, token *jwt.Token) (interface{}, error) {
	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, errors.New("JWT header missing 'kid' field")
	}

	keySet, err := v.cache.Get(ctx, v.config.JWKSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWK set for %s: %w", v.config.JWKSURL, err)
	}
	key, found := keySet.LookupKeyID(kid)
	if !found {
		keySet, err = v.cache.Refresh(ctx, v.config.JWKSURL)
		if err != nil {
			return nil, fmt.Errorf("key %q not found in JWKS at %s (refresh failed: %v)", kid, v.config.JWKSURL, err)
		}
		key, found = keySet.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key %q not found in JWKS at %s", kid, v.config.JWKSURL)
		}
	}

	if alg := key.Algorithm().String(); alg != "" && alg != token.Method.Alg() {
		return nil, fmt.Errorf("token alg %s does not match key alg %s", token.Method.Alg(), alg)
	}

	var raw interface{}
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("failed to get raw key material for kid %q: %w", kid, err)
	}
	return raw, nil
}

var _ TokenVerifier = (*JWKSVerifier)(nil)
