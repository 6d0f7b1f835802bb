package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/onstar-go/onstar/internal/log"
	"github.com/onstar-go/onstar/pkg/protocol"
)

const (
	// DefaultExchangeEndpoint converts an identity token into a vendor API token.
	DefaultExchangeEndpoint = "https://na-mobile-api.gm.com/sec/authz/v3/oauth/token"

	exchangeGrantType   = "urn:ietf:params:oauth:grant-type:token-exchange"
	exchangeSubjectType = "urn:ietf:params:oauth:token-type:access_token"
	exchangeScope       = "msso role_owner priv onstar gmoc user user_trailer"
)

// Session produces valid vendor API tokens on demand. It owns the cached-token validity
// policy: tokens are served from memory while inside the validity window, from disk when the
// stored artifacts pass ownership and freshness checks, and from a refresh or full login
// otherwise. Authenticate is safe for concurrent use.
type Session struct {
	// ExchangeEndpoint is the vendor token-exchange URL. Tests point it at a mock server.
	ExchangeEndpoint string

	mu       sync.Mutex
	config   Config
	flow     *Flow
	store    Store
	client   *http.Client
	apiToken *APIToken
}

// NewSession builds a Session backed by a FileStore in config.TokenDir. A still-valid API
// token found on disk is adopted immediately.
func NewSession(config Config) (*Session, error) {
	flow, err := NewFlow(config)
	if err != nil {
		return nil, err
	}
	store, err := NewFileStore(config.TokenDir, config.Username)
	if err != nil {
		return nil, err
	}
	s := &Session{
		ExchangeEndpoint: DefaultExchangeEndpoint,
		config:           config,
		flow:             flow,
		store:            store,
		client:           &http.Client{Timeout: 30 * time.Second},
	}
	if cached := store.LoadAPI(); cached != nil {
		log.Debug("Adopting API token from disk")
		s.apiToken = cached
	}
	return s, nil
}

// Flow returns the identity flow the session drives. Exposed so callers can redirect it at a
// different provider base (tests, regional deployments).
func (s *Session) Flow() *Flow {
	return s.flow
}

// Authenticate returns a usable API token, running as much of the login machinery as the
// cached state requires. It is idempotent and cheap when a valid token is already in memory.
//
// When the exchanged token carries an empty vehicle list the identity token is presumed stale
// even though it has not expired: both persisted artifacts are invalidated and the flow runs
// once more from the top. A freshly minted identity token that still yields no vehicles is a
// configuration problem, not a retry target.
func (s *Session) Authenticate(ctx context.Context) (*APIToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		if s.apiToken.Valid() {
			return s.apiToken, nil
		}
		tokens, fresh, err := s.identityTokens(ctx)
		if err != nil {
			return nil, err
		}
		token, err := s.exchange(ctx, tokens)
		if err != nil {
			return nil, err
		}
		id, err := DecodeIdentity(token.AccessToken)
		if err != nil {
			return nil, &protocol.TokenExchangeError{Endpoint: s.ExchangeEndpoint, Err: err}
		}
		if len(id.Vehicles) == 0 {
			if fresh {
				return nil, protocol.ErrNoVehicles
			}
			log.Warning("API token carries no vehicle authorizations; forcing re-authentication")
			if err := s.store.Invalidate(KindIdentity); err != nil {
				return nil, err
			}
			if err := s.store.Invalidate(KindAPI); err != nil {
				return nil, err
			}
			s.apiToken = nil
			continue
		}
		s.apiToken = token
		if err := s.store.SaveIdentity(tokens); err != nil {
			log.Warning("Could not persist identity tokens: %s", err)
		}
		if err := s.store.SaveAPI(token); err != nil {
			log.Warning("Could not persist API token: %s", err)
		}
		return token, nil
	}
	return nil, protocol.ErrNoVehicles
}

// Invalidate drops all cached token state, forcing the next Authenticate to start over.
func (s *Session) Invalidate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiToken = nil
	if err := s.store.Invalidate(KindIdentity); err != nil {
		return err
	}
	return s.store.Invalidate(KindAPI)
}

// identityTokens returns a usable identity token set, preferring disk, then refresh, then a
// full login. fresh reports whether the set came from a login that just completed.
func (s *Session) identityTokens(ctx context.Context) (tokens *TokenSet, fresh bool, err error) {
	stored := s.store.LoadIdentity()
	if stored.Valid() {
		log.Debug("Using identity tokens from disk")
		return stored, false, nil
	}
	if stored != nil && stored.RefreshToken != "" {
		refreshed, err := s.flow.Refresh(ctx, stored.RefreshToken)
		if err == nil {
			log.Debug("Refreshed identity tokens")
			if err := s.store.SaveIdentity(refreshed); err != nil {
				log.Warning("Could not persist refreshed identity tokens: %s", err)
			}
			return refreshed, false, nil
		}
		log.Warning("Token refresh failed, falling back to full login: %s", err)
	}
	tokens, err = s.flow.Login(ctx)
	if err != nil {
		return nil, false, err
	}
	if err := s.store.SaveIdentity(tokens); err != nil {
		log.Warning("Could not persist identity tokens: %s", err)
	}
	return tokens, true, nil
}

// exchange trades an identity access token for a vendor API token.
func (s *Session) exchange(ctx context.Context, tokens *TokenSet) (*APIToken, error) {
	form := url.Values{
		"grant_type":         {exchangeGrantType},
		"subject_token":      {tokens.AccessToken},
		"subject_token_type": {exchangeSubjectType},
		"scope":              {exchangeScope},
		"device_id":          {s.config.DeviceID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.ExchangeEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", acceptLanguage)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	log.Debug("POST %s (token exchange)", s.ExchangeEndpoint)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(&io.LimitedReader{R: resp.Body, N: maxResponseLength})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &protocol.TokenExchangeError{Endpoint: s.ExchangeEndpoint, Err: &protocol.HttpError{Code: resp.StatusCode, Message: truncate(body, 200)}}
	}
	var token APIToken
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, &protocol.TokenExchangeError{Endpoint: s.ExchangeEndpoint, Err: err}
	}
	if token.AccessToken == "" {
		return nil, &protocol.TokenExchangeError{Endpoint: s.ExchangeEndpoint}
	}
	token.ExpiresAt = time.Now().Unix() + token.ExpiresIn
	return &token, nil
}
