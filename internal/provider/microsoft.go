package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// Microsoft signs users in with an Azure AD / Microsoft account via the
// Graph API.
type Microsoft struct {
	conf *oauth2.Config
	api  string
	http *http.Client
}

// NewMicrosoft constructs the Microsoft provider. Uses the common tenant
// endpoint, so both organizational and personal accounts can sign in.
func NewMicrosoft(cfg Config) *Microsoft {
	endpoint := microsoft.AzureADEndpoint("common")
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	api := cfg.APIBaseURL
	if api == "" {
		api = "https://graph.microsoft.com/v1.0"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Microsoft{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "email", "profile", "User.Read"},
		},
		api:  api,
		http: client,
	}
}

func (m *Microsoft) Name() string { return "microsoft" }

func (m *Microsoft) AuthCodeURL(state string) string {
	return m.conf.AuthCodeURL(state)
}

func (m *Microsoft) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.http)
	return m.conf.Exchange(ctx, code)
}

func (m *Microsoft) Identity(ctx context.Context, tok *oauth2.Token) (Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.api+"/me", nil)
	if err != nil {
		return Identity{}, err
	}
	tok.SetAuthHeader(req)

	resp, err := m.http.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("%w: graph api status %d", ErrProvider, resp.StatusCode)
	}

	var me struct {
		ID                string `json:"id"`
		DisplayName       string `json:"displayName"`
		Mail              string `json:"mail"`
		UserPrincipalName string `json:"userPrincipalName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrIdentityUnavailable, err)
	}
	email := me.Mail
	if email == "" {
		email = me.UserPrincipalName
	}
	if email == "" {
		return Identity{}, ErrIdentityUnavailable
	}
	return Identity{
		Provider: m.Name(),
		Subject:  me.ID,
		Email:    email,
		Name:     me.DisplayName,
	}, nil
}
