package oauth2

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/opentrusty/mcptrading/internal/audit"
	"golang.org/x/crypto/bcrypt"
)

// Service implements the authorization-code-with-PKCE and refresh-token
// grants against a single merged OAuthToken record per issued credential.
type Service struct {
	clientRepo ClientRepository
	codeRepo   AuthorizationCodeRepository
	tokenRepo  TokenRepository
	audit      audit.Logger

	jwtSecret []byte
	issuer    string

	authCodeLifetime      time.Duration
	accessTokenLifetime   time.Duration
	refreshTokenLifetime  time.Duration
}

// NewService creates a new OAuth2 service.
func NewService(
	clientRepo ClientRepository,
	codeRepo AuthorizationCodeRepository,
	tokenRepo TokenRepository,
	auditLogger audit.Logger,
	jwtSecret []byte,
	issuer string,
	authCodeLifetime, accessTokenLifetime, refreshTokenLifetime time.Duration,
) *Service {
	return &Service{
		clientRepo:           clientRepo,
		codeRepo:             codeRepo,
		tokenRepo:            tokenRepo,
		audit:                auditLogger,
		jwtSecret:            jwtSecret,
		issuer:               issuer,
		authCodeLifetime:     authCodeLifetime,
		accessTokenLifetime:  accessTokenLifetime,
		refreshTokenLifetime: refreshTokenLifetime,
	}
}

// AuthorizeRequest models the parameters of a GET /authorize request.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Resource            string
	Scope               string
}

// ValidateAuthorizeRequest checks, in this order, the client_id, the
// redirect_uri against the client's registered set, an S256
// code_challenge_method, a non-empty resource, and a supported scope (empty
// means DefaultScope), returning the resolved client on success so the
// caller can render the consent form. response_type, state and
// code_challenge are not checked here.
func (s *Service) ValidateAuthorizeRequest(ctx context.Context, req *AuthorizeRequest) (*Client, error) {
	client, err := s.clientRepo.GetByClientID(req.ClientID)
	if err != nil {
		return nil, ErrClientNotFound
	}

	if !client.ValidateRedirectURI(req.RedirectURI) {
		return nil, ErrDomainInvalidRedirectURI
	}

	if req.CodeChallengeMethod != "S256" {
		return nil, ErrUnsupportedPKCEMethod
	}

	if req.Resource == "" {
		return nil, ErrMissingResource
	}

	scope := req.Scope
	if scope == "" {
		scope = DefaultScope
	}
	if !isSupportedScope(scope) {
		return nil, ErrDomainInvalidScope
	}

	return client, nil
}

func isSupportedScope(scope string) bool {
	for _, s := range strings.Fields(scope) {
		if s != DefaultScope {
			return false
		}
	}
	return true
}

// CreateAuthorizationCode mints and persists a single-use authorization code
// for an already-validated authorize request, binding it to the
// authenticated user.
func (s *Service) CreateAuthorizationCode(ctx context.Context, userID string, req *AuthorizeRequest) (*AuthorizationCode, error) {
	scope := req.Scope
	if scope == "" {
		scope = DefaultScope
	}

	code := &AuthorizationCode{
		Code:                generateOpaqueToken(),
		UserID:              userID,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		ResourceParameter:   req.Resource,
		Scope:               scope,
		ExpiresAt:           time.Now().Add(s.authCodeLifetime),
		CreatedAt:           time.Now(),
	}

	if err := s.codeRepo.Create(code); err != nil {
		return nil, fmt.Errorf("create authorization code: %w", err)
	}

	s.audit.Log(ctx, audit.Event{
		Type:     audit.TypeCodeIssued,
		ActorID:  userID,
		Resource: audit.ResourceCode,
		Metadata: map[string]any{audit.AttrClientID: req.ClientID},
	})

	return code, nil
}

// TokenRequest models the body of a POST /token request across both
// supported grant types.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string

	// authorization_code
	Code         string
	RedirectURI  string
	CodeVerifier string

	// refresh_token
	RefreshToken string

	Resource string
}

// TokenResponse is the JSON body returned on a successful grant.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// ExchangeCodeForToken redeems an authorization code for a token pair,
// validating PKCE, redirect_uri, and resource before minting anything. A
// replayed (already-used) code revokes every token previously issued to
// this (user_id, client_id) pair, on the theory that the code's compromise
// taints everything derived from it.
func (s *Service) ExchangeCodeForToken(ctx context.Context, req *TokenRequest) (*TokenResponse, error) {
	if req.Code != "" && req.RefreshToken != "" {
		return nil, NewError(ErrInvalidRequest, "request must not set both code and refresh_token")
	}

	client, err := s.authenticateClient(req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	switch req.GrantType {
	case "authorization_code":
		return s.exchangeAuthorizationCode(ctx, client, req)
	case "refresh_token":
		return s.exchangeRefreshToken(ctx, client, req)
	default:
		return nil, NewError(ErrUnsupportedGrantType, "grant_type must be authorization_code or refresh_token")
	}
}

func (s *Service) exchangeAuthorizationCode(ctx context.Context, client *Client, req *TokenRequest) (*TokenResponse, error) {
	if req.Code == "" || req.RedirectURI == "" || req.CodeVerifier == "" || req.Resource == "" {
		return nil, NewError(ErrInvalidRequest, "code, redirect_uri, code_verifier, and resource are required")
	}

	code, err := s.codeRepo.GetByCode(req.Code)
	if err != nil {
		return nil, NewError(ErrInvalidGrant, "authorization code not found")
	}

	if code.Used {
		// Replay of an already-redeemed code: treat everything it derived as compromised.
		s.audit.Log(ctx, audit.Event{
			Type:     audit.TypeCodeReplayed,
			ActorID:  code.UserID,
			Resource: audit.ResourceCode,
			Metadata: map[string]any{audit.AttrClientID: code.ClientID},
		})
		if err := s.tokenRepo.RevokeAllForClient(code.UserID, code.ClientID); err != nil {
			return nil, fmt.Errorf("revoke tokens after code replay: %w", err)
		}
		return nil, NewError(ErrInvalidGrant, "authorization code already used")
	}

	if code.IsExpired() {
		return nil, NewError(ErrInvalidGrant, "authorization code expired")
	}
	if code.ClientID != client.ID {
		return nil, NewError(ErrInvalidGrant, "authorization code was not issued to this client")
	}
	if code.RedirectURI != req.RedirectURI {
		return nil, NewError(ErrInvalidGrant, "redirect_uri mismatch")
	}
	if code.ResourceParameter != req.Resource {
		return nil, NewError(ErrInvalidGrant, "resource mismatch")
	}
	if !verifyPKCE(req.CodeVerifier, code.CodeChallenge) {
		return nil, NewError(ErrInvalidGrant, "code_verifier does not match code_challenge")
	}

	if err := s.codeRepo.MarkAsUsed(code.Code); err != nil {
		// Another concurrent request won the single-use race.
		return nil, NewError(ErrInvalidGrant, "authorization code already used")
	}

	token, resp, err := s.mintToken(code.UserID, client.ID, code.ResourceParameter, code.Scope)
	if err != nil {
		return nil, err
	}

	if err := s.tokenRepo.Create(token); err != nil {
		return nil, fmt.Errorf("persist token: %w", err)
	}

	s.audit.Log(ctx, audit.Event{
		Type:     audit.TypeCodeRedeemed,
		ActorID:  code.UserID,
		Resource: audit.ResourceCode,
		Metadata: map[string]any{audit.AttrClientID: client.ID},
	})
	s.audit.Log(ctx, audit.Event{
		Type:     audit.TypeTokenIssued,
		ActorID:  code.UserID,
		Resource: audit.ResourceToken,
		Metadata: map[string]any{audit.AttrClientID: client.ID},
	})

	return resp, nil
}

func (s *Service) exchangeRefreshToken(ctx context.Context, client *Client, req *TokenRequest) (*TokenResponse, error) {
	if req.RefreshToken == "" || req.Resource == "" {
		return nil, NewError(ErrInvalidRequest, "refresh_token and resource are required")
	}

	refreshHash := hashToken(req.RefreshToken)

	existing, err := s.tokenRepo.GetByRefreshTokenHash(refreshHash)
	if err != nil || existing == nil || existing.ClientID != client.ID {
		return nil, NewError(ErrInvalidGrant, "refresh token not found")
	}

	if existing.Revoked {
		// The hash matches a row that has since been rotated away or
		// revoked: this is reuse of a stale credential. Treat the whole
		// family as compromised.
		s.audit.Log(ctx, audit.Event{
			Type:     audit.TypeTokenReuseDetected,
			ActorID:  existing.UserID,
			Resource: audit.ResourceToken,
			Metadata: map[string]any{audit.AttrClientID: client.ID},
		})
		if err := s.tokenRepo.RevokeAllForClient(existing.UserID, client.ID); err != nil {
			return nil, fmt.Errorf("revoke token family after reuse: %w", err)
		}
		return nil, NewError(ErrInvalidGrant, "refresh token has already been rotated")
	}

	if existing.IsRefreshExpired() {
		return nil, NewError(ErrInvalidGrant, "refresh token expired")
	}
	if existing.ResourceParameter != req.Resource {
		return nil, NewError(ErrInvalidGrant, "resource mismatch")
	}

	next, resp, err := s.mintToken(existing.UserID, client.ID, existing.ResourceParameter, existing.Scope)
	if err != nil {
		return nil, err
	}

	if err := s.tokenRepo.Rotate(refreshHash, next); err != nil {
		return nil, fmt.Errorf("rotate token: %w", err)
	}

	s.audit.Log(ctx, audit.Event{
		Type:     audit.TypeTokenRefreshed,
		ActorID:  existing.UserID,
		Resource: audit.ResourceToken,
		Metadata: map[string]any{audit.AttrClientID: client.ID},
	})

	return resp, nil
}

// mintToken builds a signed JWT access token and an opaque refresh token,
// hashes both, and returns the OAuthToken row to persist alongside the
// response to hand back to the caller.
func (s *Service) mintToken(userID, clientID, resource, scope string) (*OAuthToken, *TokenResponse, error) {
	now := time.Now()
	accessExpiresAt := now.Add(s.accessTokenLifetime)
	refreshExpiresAt := now.Add(s.refreshTokenLifetime)

	claims := jwt.MapClaims{
		"sub":       userID,
		"aud":       resource,
		"iss":       s.issuer,
		"iat":       now.Unix(),
		"exp":       accessExpiresAt.Unix(),
		"client_id": clientID,
		"scope":     scope,
	}
	signed := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	accessToken, err := signed.SignedString(s.jwtSecret)
	if err != nil {
		return nil, nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshToken := generateOpaqueToken()

	token := &OAuthToken{
		TokenHash:         hashToken(accessToken),
		UserID:            userID,
		ClientID:          clientID,
		ResourceParameter: resource,
		Scope:             scope,
		ExpiresAt:         accessExpiresAt,
		RefreshTokenHash:  hashToken(refreshToken),
		RefreshExpiresAt:  refreshExpiresAt,
		CreatedAt:         now,
	}

	resp := &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTokenLifetime.Seconds()),
		RefreshToken: refreshToken,
		Scope:        scope,
	}

	return token, resp, nil
}

// ValidateAccessToken verifies a presented bearer token against an expected
// audience with zero clock-skew tolerance, then confirms it is still live
// in storage. The lookup hits storage even though the JWT is self-contained
// so that revocation takes effect immediately rather than waiting for
// expiry.
func (s *Service) ValidateAccessToken(ctx context.Context, tokenString, expectedAudience string) (*OAuthToken, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer(s.issuer), jwt.WithLeeway(0))
	if err != nil || !parsed.Valid {
		return nil, NewError(ErrInvalidGrant, "invalid or expired access token")
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, NewError(ErrInvalidGrant, "invalid access token claims")
	}
	aud, _ := claims["aud"].(string)
	if aud != expectedAudience {
		return nil, NewError(ErrInvalidGrant, "access token audience does not match this resource")
	}

	token, err := s.tokenRepo.GetByTokenHash(hashToken(tokenString))
	if err != nil {
		return nil, NewError(ErrInvalidGrant, "access token not recognized")
	}
	if token.Revoked {
		return nil, NewError(ErrInvalidGrant, "access token revoked")
	}
	if token.IsExpired() {
		return nil, NewError(ErrInvalidGrant, "access token expired")
	}

	return token, nil
}

// RevokeToken revokes whichever of access-token-hash or refresh-token-hash
// the presented value matches (RFC 7009 accepts either token type at the
// same endpoint). It always succeeds from the caller's perspective, per the
// RFC's "don't leak which tokens exist" posture.
func (s *Service) RevokeToken(ctx context.Context, client *Client, presented string) error {
	hash := hashToken(presented)

	if token, err := s.tokenRepo.GetByTokenHash(hash); err == nil && token != nil {
		if token.ClientID != client.ID {
			return nil
		}
		if err := s.tokenRepo.Revoke(token.TokenHash); err != nil {
			return fmt.Errorf("revoke token: %w", err)
		}
		s.audit.Log(ctx, audit.Event{Type: audit.TypeTokenRevoked, ActorID: token.UserID, Resource: audit.ResourceToken})
		return nil
	}

	if token, err := s.tokenRepo.GetByRefreshTokenHash(hash); err == nil && token != nil {
		if token.ClientID != client.ID {
			return nil
		}
		if err := s.tokenRepo.Revoke(token.TokenHash); err != nil {
			return fmt.Errorf("revoke token: %w", err)
		}
		s.audit.Log(ctx, audit.Event{Type: audit.TypeTokenRevoked, ActorID: token.UserID, Resource: audit.ResourceToken})
		return nil
	}

	return nil
}

// CreateClient registers a new OAuth2 client (dynamic client registration).
// Public clients (the expected MCP caller shape) carry no secret.
func (s *Service) CreateClient(ctx context.Context, clientName string, redirectURIs []string, confidential bool) (*Client, string, error) {
	client := &Client{
		ID:             "mcp-" + generateOpaqueToken(),
		ClientName:     clientName,
		RedirectURIs:   redirectURIs,
		IsConfidential: confidential,
		CreatedAt:      time.Now(),
	}

	var secret string
	if confidential {
		var err error
		secret, err = GenerateClientSecret()
		if err != nil {
			return nil, "", fmt.Errorf("generate client secret: %w", err)
		}
		client.ClientSecretHash = HashClientSecret(secret)
	}

	if err := s.clientRepo.Create(client); err != nil {
		return nil, "", fmt.Errorf("create client: %w", err)
	}

	s.audit.Log(ctx, audit.Event{Type: audit.TypeClientCreated, Resource: audit.ResourceClient, Metadata: map[string]any{audit.AttrClientID: client.ID}})

	return client, secret, nil
}

func (s *Service) authenticateClient(clientID, clientSecret string) (*Client, error) {
	client, err := s.clientRepo.GetByClientID(clientID)
	if err != nil {
		return nil, NewError(ErrInvalidClient, "unknown client")
	}

	if !client.IsConfidential {
		return client, nil
	}

	if clientSecret == "" || bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)) != nil {
		return nil, NewError(ErrInvalidClient, "invalid client credentials")
	}

	return client, nil
}

// GenerateClientSecret returns a new random client secret, URL-safe base64
// encoded over 32 random bytes.
func GenerateClientSecret() (string, error) {
	return generateOpaqueTokenN(32), nil
}

// HashClientSecret hashes a client secret for storage.
func HashClientSecret(secret string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		// bcrypt only fails on a cost out of range or a crypto/rand read
		// failure; both indicate the process environment, not the input,
		// is broken, so there's nothing a caller here could recover from.
		panic(fmt.Sprintf("hash client secret: %v", err))
	}
	return string(hash)
}

// verifyPKCE checks the S256 code_verifier against a stored code_challenge.
func verifyPKCE(verifier, challenge string) bool {
	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])
	return computed == challenge
}

// hashToken hashes a bearer or refresh token for storage, as SHA-256 hex
// rather than base64url so the primary-key column reads as plain text in
// ad-hoc SQL during an incident.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// generateOpaqueToken returns a 256-bit random value, URL-safe base64
// encoded without padding.
func generateOpaqueToken() string {
	return generateOpaqueTokenN(32)
}

func generateOpaqueTokenN(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing indicates a broken host, not a recoverable
		// application error.
		panic(fmt.Sprintf("generate random token: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
