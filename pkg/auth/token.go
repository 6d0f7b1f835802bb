package auth

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ValidityWindow is the safety margin applied when deciding whether a token is still usable.
// A token expiring within the window is treated as absent and re-derived.
const ValidityWindow = 5 * time.Minute

// TokenSet holds the identity provider's tokens. It is mutated wholesale on refresh or
// re-authentication, never field by field.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}

// Valid returns true if the token set expires more than ValidityWindow from now.
func (t *TokenSet) Valid() bool {
	return t != nil && t.ExpiresAt > time.Now().Unix()+int64(ValidityWindow/time.Second)
}

// APIToken is the vendor access token derived from a TokenSet via token exchange. Its
// access_token payload carries the account's vehicle authorizations.
type APIToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
	ExpiresAt   int64  `json:"expires_at,omitempty"`
	Scope       string `json:"scope,omitempty"`
	IDToken     string `json:"id_token,omitempty"`

	// Account metadata returned alongside the token; passed through untouched.
	AccountInfo json.RawMessage `json:"onstar_account_info,omitempty"`
	UserInfo    json.RawMessage `json:"user_info,omitempty"`
}

// Valid returns true if the token expires more than ValidityWindow from now.
func (t *APIToken) Valid() bool {
	return t != nil && t.ExpiresAt > time.Now().Unix()+int64(ValidityWindow/time.Second)
}

// VehicleAuthorization is one entry of a token's vehicle claim.
type VehicleAuthorization struct {
	VIN        string `json:"vin"`
	Permission string `json:"per"`
}

// Identity holds the claims the library cares about: who the token belongs to and which
// vehicles it grants access to.
type Identity struct {
	UID      string
	Name     string
	Email    string
	Vehicles []VehicleAuthorization
}

type identityClaims struct {
	UID      string                 `json:"uid"`
	Name     string                 `json:"name"`
	Email    string                 `json:"email"`
	Vehicles []VehicleAuthorization `json:"vehs"`
	jwt.RegisteredClaims
}

// DecodeIdentity extracts identity claims from a JWT without verifying its signature. The
// tokens are consumed, not issued, by this library; the backend is the authority on their
// validity.
func DecodeIdentity(token string) (*Identity, error) {
	var claims identityClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, err
	}
	return &Identity{
		UID:      claims.UID,
		Name:     claims.Name,
		Email:    claims.Email,
		Vehicles: claims.Vehicles,
	}, nil
}

// User returns the best available user identifier: uid, then name, then email.
func (id *Identity) User() string {
	if id.UID != "" {
		return id.UID
	}
	if id.Name != "" {
		return id.Name
	}
	return id.Email
}

// Matches reports whether the token belongs to username, compared case-insensitively.
func (id *Identity) Matches(username string) bool {
	return strings.EqualFold(id.User(), username)
}

// VINs returns the authorized VINs, upper-cased.
func (id *Identity) VINs() []string {
	vins := make([]string, 0, len(id.Vehicles))
	for _, v := range id.Vehicles {
		vins = append(vins, strings.ToUpper(v.VIN))
	}
	return vins
}

// Authorized reports whether vin appears in the token's vehicle claim.
func (id *Identity) Authorized(vin string) bool {
	for _, v := range id.Vehicles {
		if strings.EqualFold(v.VIN, vin) {
			return true
		}
	}
	return false
}
