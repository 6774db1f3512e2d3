// Package oauth resolves external identities for federated login.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/birdnest/apiserver/config"
	"golang.org/x/oauth2"
)

const (
	defaultAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultTokenURL    = "https://oauth2.googleapis.com/token"
	defaultUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

// ErrInvalidCode is returned when the provider rejects the authorization code
// or the access token it issued for it.
var ErrInvalidCode = errors.New("oauth: invalid authorization code")

// Identity is the external profile of a federated user.
type Identity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// Google exchanges authorization codes with Google and reads the userinfo
// endpoint.
type Google struct {
	config      oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

func NewGoogle(cfg config.GoogleOAuthConfig) *Google {
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = defaultAuthURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = defaultUserInfoURL
	}

	return &Google{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: userInfoURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// AuthCodeURL returns the consent page URL for state.
func (g *Google) AuthCodeURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Identity exchanges code for a token and fetches the matching profile.
func (g *Google) Identity(ctx context.Context, code string) (Identity, error) {
	if strings.TrimSpace(code) == "" {
		return Identity{}, ErrInvalidCode
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)

	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) {
			return Identity{}, fmt.Errorf("%w: %s", ErrInvalidCode, retrieve.ErrorCode)
		}
		return Identity{}, fmt.Errorf("google exchange: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return Identity{}, err
	}
	resp, err := g.config.Client(ctx, token).Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("google userinfo: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Identity{}, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return Identity{}, fmt.Errorf("%w: userinfo returned %d", ErrInvalidCode, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("google userinfo: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var info struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return Identity{}, fmt.Errorf("decode google userinfo: %w", err)
	}
	return Identity{
		Subject:       info.Sub,
		Email:         strings.ToLower(strings.TrimSpace(info.Email)),
		EmailVerified: info.EmailVerified,
		Name:          info.Name,
		Picture:       info.Picture,
	}, nil
}
