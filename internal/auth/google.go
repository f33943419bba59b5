package auth

import (
	"context"
	"log/slog"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/mailwise/mailwise/internal/logging"
	"github.com/mailwise/mailwise/internal/store"
)

// oauthState is the fixed state parameter for the consent flow. The session
// token, not the state, carries the authenticated identity; the SPA treats
// the callback redirect as the only entry point.
const oauthState = "state"

// BrokerConfig configures the OAuth broker.
type BrokerConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint overrides the Google OAuth2 endpoint. Zero value means the
	// real Google endpoint; tests point it at a stub server.
	Endpoint oauth2.Endpoint

	// UserInfoBase overrides the base URL of the userinfo API for tests.
	UserInfoBase string
}

// Broker drives the Google OAuth2 authorization flow: it builds consent
// URLs, exchanges authorization codes for tokens, fetches the account
// profile and upserts the user record.
type Broker struct {
	config       *oauth2.Config
	userInfoBase string
	users        store.UserStore
	sessions     *SessionIssuer
	logger       *slog.Logger
}

// NewBroker creates a Broker. The scope set is fixed: Gmail read, send and
// modify plus the basic identity scopes.
func NewBroker(cfg BrokerConfig, users store.UserStore, sessions *SessionIssuer, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}

	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" && endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}

	return &Broker{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes: []string{
				gmail.GmailReadonlyScope,
				gmail.GmailSendScope,
				gmail.GmailModifyScope,
				googleoauth2.UserinfoEmailScope,
				googleoauth2.UserinfoProfileScope,
				googleoauth2.OpenIDScope,
			},
		},
		userInfoBase: cfg.UserInfoBase,
		users:        users,
		sessions:     sessions,
		logger:       logging.WithComponent(logger, "oauth_broker"),
	}
}

// OAuthConfig returns the underlying OAuth2 configuration, shared with the
// token refresher so both talk to the same upstream endpoint.
func (b *Broker) OAuthConfig() *oauth2.Config {
	return b.config
}

// BeginLogin returns the authorization URL for the consent flow.
// access_type=offline plus a consent prompt force Google to issue a
// refresh token even on repeat logins. No side effects.
func (b *Broker) BeginLogin() string {
	return b.config.AuthCodeURL(oauthState,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// CompleteLogin exchanges the authorization code for upstream tokens,
// fetches the account profile, upserts the user record and mints a session
// token. If the profile call fails after a successful exchange the token
// exchange result is discarded and no partial user is persisted.
func (b *Broker) CompleteLogin(ctx context.Context, code string) (*store.User, string, error) {
	token, err := b.config.Exchange(ctx, code)
	if err != nil {
		b.logger.Warn("authorization code exchange failed", logging.Err(err))
		return nil, "", UpstreamAuthError("failed to exchange authorization code", err)
	}

	profile, err := b.fetchProfile(ctx, token)
	if err != nil {
		b.logger.Warn("profile fetch failed after token exchange", logging.Err(err))
		return nil, "", ProfileFetchError("failed to fetch account profile", err)
	}

	user := &store.User{
		ID:           profile.Id,
		Email:        profile.Email,
		Name:         profile.Name,
		Picture:      profile.Picture,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenExpiry:  token.Expiry,
	}

	if err := b.users.UpsertUser(ctx, user); err != nil {
		return nil, "", UpstreamAuthError("failed to persist user record", err)
	}

	sessionToken, err := b.sessions.Issue(user)
	if err != nil {
		return nil, "", UpstreamAuthError("failed to issue session token", err)
	}

	b.logger.Info("login completed",
		logging.UserHash(user.Email),
		logging.Domain(user.Email),
		logging.Status(logging.StatusSuccess))

	return user, sessionToken, nil
}

// fetchProfile retrieves the authenticated account's basic profile using
// the freshly exchanged token.
func (b *Broker) fetchProfile(ctx context.Context, token *oauth2.Token) (*googleoauth2.Userinfo, error) {
	opts := []option.ClientOption{
		option.WithHTTPClient(b.config.Client(ctx, token)),
	}
	if b.userInfoBase != "" {
		opts = append(opts, option.WithEndpoint(b.userInfoBase))
	}

	svc, err := googleoauth2.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}

	profile, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return profile, nil
}
