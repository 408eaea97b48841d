package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"signalflow/backend/internal/config"
	"signalflow/backend/internal/repository"
	"signalflow/backend/pkg/models"

	"github.com/coreos/go-oidc"
	"golang.org/x/oauth2"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type callerKey struct{}

// WithCaller returns a copy of ctx carrying caller.
func WithCaller(ctx context.Context, caller models.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the caller resolved by RequireAuth.
func CallerFromContext(ctx context.Context) (models.Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(models.Caller)
	return caller, ok
}

// Auth contains configuration and helpers for performing OpenID Connect
// authentication with an Okta tenant and resolving the calling tenant.
type Auth struct {
	oauth2Config   *oauth2.Config
	verifier       *oidc.IDTokenVerifier
	apiVerifier    *oidc.IDTokenVerifier
	tenants        repository.TenantStore
	logger         Logger
	superOperators map[string]bool
	devMode        bool
	authBypass     bool
}

// New creates a new Auth object using values from the application
// configuration. It establishes a connection to the provider and prepares an
// ID token verifier.
func New(ctx context.Context, cfg *config.Config, tenants repository.TenantStore, logger Logger) (*Auth, error) {
	isDev := cfg.IsDev()
	shouldBypass := isDev && cfg.DevModeBypass

	var oauth2Config *oauth2.Config
	var verifier *oidc.IDTokenVerifier
	var apiVerifier *oidc.IDTokenVerifier

	if !shouldBypass {
		if cfg.Auth.OktaDomain == "" || cfg.Auth.ClientID == "" ||
			cfg.Auth.ClientSecret == "" || cfg.Auth.RedirectURL == "" {
			return nil, errors.New("auth configuration is incomplete")
		}

		provider, err := oidc.NewProvider(ctx, cfg.Auth.OktaDomain)
		if err != nil {
			return nil, err
		}

		oauth2Config = &oauth2.Config{
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.Auth.RedirectURL,
			Scopes:       []string{ScopeOpenID, ScopeEmail},
		}

		verifier = provider.Verifier(&oidc.Config{ClientID: cfg.Auth.ClientID})

		// Access tokens carry a different audience (e.g. "api://default").
		apiVerifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	}

	return &Auth{
		oauth2Config:   oauth2Config,
		verifier:       verifier,
		apiVerifier:    apiVerifier,
		tenants:        tenants,
		logger:         logger,
		superOperators: superOperatorSet(cfg.Auth.SuperOperators),
		devMode:        isDev,
		authBypass:     shouldBypass,
	}, nil
}

func superOperatorSet(emails []string) map[string]bool {
	set := make(map[string]bool, len(emails))
	for _, e := range emails {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			set[e] = true
		}
	}
	return set
}

// LoginHandler initiates the OAuth2 authorization code flow by redirecting the
// user to the Okta authorization endpoint. A random state value is stored in a
// cookie to mitigate CSRF attacks.
func (a *Auth) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if a.authBypass {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	state, err := generateState()
	if err != nil {
		http.Error(w, "failed to generate state", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "oauthstate",
		Value:    state,
		HttpOnly: true,
		Path:     "/",
		Secure:   !a.devMode,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, a.oauth2Config.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// CallbackHandler handles the redirect back from Okta. It verifies the state
// parameter, exchanges the code for tokens, validates the ID token, and sets a
// session cookie containing the raw ID token.
func (a *Auth) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	if a.authBypass {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	cookie, err := r.Cookie("oauthstate")
	if err != nil || r.URL.Query().Get("state") != cookie.Value {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	token, err := a.oauth2Config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		http.Error(w, "token exchange failed", http.StatusInternalServerError)
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		http.Error(w, "no id_token in token response", http.StatusInternalServerError)
		return
	}

	if _, err := a.verifier.Verify(r.Context(), rawIDToken); err != nil {
		http.Error(w, "failed to verify id token", http.StatusUnauthorized)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "id_token",
		Value:    rawIDToken,
		HttpOnly: true,
		Path:     "/",
		Secure:   !a.devMode,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// RequireAuth is middleware that resolves the caller from a bearer token or
// the ID token cookie. The tenant comes from the email domain and is
// provisioned on first sight.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email, status, msg := a.authenticate(r)
		if status == http.StatusSeeOther {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		if status != 0 {
			http.Error(w, msg, status)
			return
		}

		email = strings.ToLower(email)
		at := strings.LastIndex(email, "@")
		if at <= 0 || at == len(email)-1 {
			http.Error(w, "invalid email format in token", http.StatusUnauthorized)
			return
		}
		domain := email[at+1:]

		tenant, err := a.resolveTenant(r.Context(), domain)
		if err != nil {
			if a.logger != nil {
				a.logger.Error("failed to resolve tenant", "domain", domain, "error", err)
			}
			http.Error(w, "failed to resolve tenant", http.StatusInternalServerError)
			return
		}

		caller := models.Caller{
			TenantID:      tenant.ID,
			UserID:        email,
			SuperOperator: a.superOperators[email],
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// authenticate returns the caller's email, or a non-zero status and message.
func (a *Auth) authenticate(r *http.Request) (string, int, string) {
	if a.authBypass {
		return "dev@localhost", 0, ""
	}

	var token *oidc.IDToken
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		var err error
		token, err = a.apiVerifier.Verify(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			return "", http.StatusUnauthorized, "invalid token: " + err.Error()
		}
	} else {
		cookie, err := r.Cookie("id_token")
		if err != nil {
			return "", http.StatusSeeOther, ""
		}
		token, err = a.verifier.Verify(r.Context(), cookie.Value)
		if err != nil {
			return "", http.StatusUnauthorized, "invalid token: " + err.Error()
		}
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := token.Claims(&claims); err != nil {
		return "", http.StatusUnauthorized, "failed to parse token claims"
	}
	return claims.Email, 0, ""
}

func (a *Auth) resolveTenant(ctx context.Context, domain string) (*models.Tenant, error) {
	tenant, err := a.tenants.GetTenantByDomain(ctx, domain)
	if err == nil {
		return tenant, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	tenant = &models.Tenant{Name: domain, Domain: domain}
	if err := a.tenants.CreateTenant(ctx, tenant); err != nil {
		return nil, err
	}
	if a.logger != nil {
		a.logger.Info("provisioned tenant", "domain", domain, "tenant_id", tenant.ID)
	}
	return tenant, nil
}

// LogoutHandler clears the session cookie and redirects to the home page.
func (a *Auth) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:   "id_token",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
