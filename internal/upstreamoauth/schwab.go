// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package upstreamoauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	schwabAuthorizeURL = "https://api.schwabapi.com/v1/oauth/authorize"
	schwabTokenURL     = "https://api.schwabapi.com/v1/oauth/token"
	schwabAccountsURL  = "https://api.schwabapi.com/trader/v1/accounts/accountNumbers"

	schwabRequestTimeout = 10 * time.Second
)

// SchwabExchanger implements Exchanger against the Schwab brokerage's OAuth
// and account-discovery endpoints.
type SchwabExchanger struct {
	AppKey      string
	AppSecret   string
	CallbackURL string

	httpClient *http.Client
}

// NewSchwabExchanger builds a SchwabExchanger with a bounded-timeout HTTP
// client; no handler in this package ever blocks indefinitely on the
// brokerage.
func NewSchwabExchanger(appKey, appSecret, callbackURL string) *SchwabExchanger {
	return &SchwabExchanger{
		AppKey:      appKey,
		AppSecret:   appSecret,
		CallbackURL: callbackURL,
		httpClient:  &http.Client{Timeout: schwabRequestTimeout},
	}
}

// AuthorizeURL builds the Schwab authorization-endpoint URL for this
// initiate leg's state and PKCE challenge.
func (s *SchwabExchanger) AuthorizeURL(state, codeChallenge string) string {
	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {s.AppKey},
		"redirect_uri":          {s.CallbackURL},
		"state":                 {state},
		"code_challenge":        {codeChallenge},
		"code_challenge_method": {"S256"},
	}
	return schwabAuthorizeURL + "?" + q.Encode()
}

// ExchangeCode redeems an authorization code at Schwab's token endpoint
// using HTTP Basic auth over app_key:app_secret, per Schwab's own
// confidential-client convention (distinct from this server's own
// public-client-only posture).
func (s *SchwabExchanger) ExchangeCode(ctx context.Context, code, codeVerifier string) (*TokenResult, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {s.CallbackURL},
		"code_verifier": {codeVerifier},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, schwabTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.AppKey, s.AppSecret)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}

	return &TokenResult{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresIn:    time.Duration(payload.ExpiresIn) * time.Second,
	}, nil
}

// FetchAccountIdentifier retrieves the account number(s) linked to this
// access token and returns the first one as the canonical identifier.
func (s *SchwabExchanger) FetchAccountIdentifier(ctx context.Context, accessToken string) (*Account, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, schwabAccountsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build accounts request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch account numbers: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read accounts response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("accounts endpoint returned %d: %s", resp.StatusCode, body)
	}

	var accounts []struct {
		AccountNumber string `json:"accountNumber"`
		HashValue     string `json:"hashValue"`
	}
	if err := json.Unmarshal(body, &accounts); err != nil {
		return nil, fmt.Errorf("parse accounts response: %w", err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("brokerage returned no linked accounts")
	}

	return &Account{
		AccountNumber: accounts[0].AccountNumber,
		AccountHash:   accounts[0].HashValue,
	}, nil
}
