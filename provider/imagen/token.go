package imagen

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	gen "github.com/ineyio/gengateway"
)

const (
	// DefaultTokenURL is Google's OAuth2 token endpoint.
	DefaultTokenURL = "https://oauth2.googleapis.com/token"

	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
	jwtBearerGrant     = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionLifetime  = time.Hour
	refreshSkew        = time.Minute
)

// TokenSource yields a bearer token for the given credentials.
type TokenSource interface {
	Token(ctx context.Context, auth gen.Auth) (string, error)
}

// ServiceAccountTokens exchanges a signed JWT assertion for an access token
// and caches the result per client email.
type ServiceAccountTokens struct {
	httpClient *http.Client
	tokenURL   string
	now        func() time.Time

	mu     sync.Mutex
	cached map[string]cachedToken
}

type cachedToken struct {
	value   string
	expires time.Time
}

// TokenOption configures ServiceAccountTokens.
type TokenOption func(*ServiceAccountTokens)

// WithTokenURL overrides the token endpoint.
func WithTokenURL(u string) TokenOption {
	return func(s *ServiceAccountTokens) { s.tokenURL = u }
}

// WithTokenClock sets the time source for assertion and expiry stamps.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(s *ServiceAccountTokens) { s.now = now }
}

// NewServiceAccountTokens creates a token source. A nil client uses
// http.DefaultClient.
func NewServiceAccountTokens(client *http.Client, opts ...TokenOption) *ServiceAccountTokens {
	if client == nil {
		client = http.DefaultClient
	}
	s := &ServiceAccountTokens{
		httpClient: client,
		tokenURL:   DefaultTokenURL,
		now:        time.Now,
		cached:     make(map[string]cachedToken),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ServiceAccountTokens) Token(ctx context.Context, auth gen.Auth) (string, error) {
	s.mu.Lock()
	tok, ok := s.cached[auth.ClientEmail]
	s.mu.Unlock()
	if ok && s.now().Add(refreshSkew).Before(tok.expires) {
		return tok.value, nil
	}

	assertion, err := s.sign(auth)
	if err != nil {
		return "", err
	}
	tok, err = s.exchange(ctx, assertion)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.cached[auth.ClientEmail] = tok
	s.mu.Unlock()
	return tok.value, nil
}

func (s *ServiceAccountTokens) sign(auth gen.Auth) (string, error) {
	// Keys pasted into env files usually carry literal \n sequences.
	pem := strings.ReplaceAll(auth.PrivateKey, `\n`, "\n")
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pem))
	if err != nil {
		return "", fmt.Errorf("%w: imagen: parse private key: %v", gen.ErrAuthFailed, err)
	}

	now := s.now()
	claims := struct {
		Scope string `json:"scope"`
		jwt.RegisteredClaims
	}{
		Scope: cloudPlatformScope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    auth.ClientEmail,
			Audience:  jwt.ClaimStrings{s.tokenURL},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if auth.PrivateKeyID != "" {
		token.Header["kid"] = auth.PrivateKeyID
	}
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("%w: imagen: sign assertion: %v", gen.ErrAuthFailed, err)
	}
	return signed, nil
}

func (s *ServiceAccountTokens) exchange(ctx context.Context, assertion string) (cachedToken, error) {
	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return cachedToken{}, fmt.Errorf("gengateway: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return cachedToken{}, ctx.Err()
		}
		return cachedToken{}, fmt.Errorf("%w: imagen token: %v", gen.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			return cachedToken{}, fmt.Errorf("%w: imagen token exchange: %s", gen.ErrAuthFailed, body)
		}
		return cachedToken{}, gen.ErrorFromStatus(resp.StatusCode, string(body))
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return cachedToken{}, fmt.Errorf("%w: decode token response: %v", gen.ErrAuthFailed, err)
	}
	if out.AccessToken == "" {
		return cachedToken{}, fmt.Errorf("%w: imagen: empty access token", gen.ErrAuthFailed)
	}
	if out.ExpiresIn <= 0 {
		out.ExpiresIn = 3600
	}
	return cachedToken{
		value:   out.AccessToken,
		expires: s.now().Add(time.Duration(out.ExpiresIn) * time.Second),
	}, nil
}
