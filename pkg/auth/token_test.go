package auth

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"
)

// unsignedJWT builds a JWT-shaped token from the given claims. The library never verifies
// signatures, so a placeholder signature segment is enough.
func unsignedJWT(t *testing.T, claims map[string]interface{}) string {
	t.Helper()
	header, err := json.Marshal(map[string]string{"alg": "none", "typ": "JWT"})
	if err != nil {
		t.Fatal(err)
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatal(err)
	}
	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

func TestTokenSetValidity(t *testing.T) {
	window := int64(ValidityWindow / time.Second)
	// The boundary cases sit one second apart, so the wall clock must not tick between
	// capturing now and calling Valid. Retry the pass when it does.
	for attempt := 0; attempt < 10; attempt++ {
		now := time.Now().Unix()
		type failure struct {
			name string
			got  bool
		}
		var failures []failure
		for _, test := range []struct {
			name      string
			expiresAt int64
			valid     bool
		}{
			{"comfortably inside", now + 3600, true},
			{"one past the window", now + window + 1, true},
			{"exactly at the window", now + window, false},
			{"one inside the window", now + window - 1, false},
			{"already expired", now - 10, false},
			{"zero value", 0, false},
		} {
			set := &TokenSet{AccessToken: "x", ExpiresAt: test.expiresAt}
			if got := set.Valid(); got != test.valid {
				failures = append(failures, failure{test.name, got})
			}
		}
		if len(failures) > 0 && time.Now().Unix() != now {
			continue
		}
		for _, f := range failures {
			t.Errorf("%s: Valid() = %v", f.name, f.got)
		}
		break
	}
	var nilSet *TokenSet
	if nilSet.Valid() {
		t.Error("nil token set should be invalid")
	}
	var nilAPI *APIToken
	if nilAPI.Valid() {
		t.Error("nil API token should be invalid")
	}
}

func TestDecodeIdentity(t *testing.T) {
	token := unsignedJWT(t, map[string]interface{}{
		"uid":   "user@example.com",
		"name":  "User Example",
		"email": "user@example.com",
		"vehs": []map[string]string{
			{"vin": "1g1fz6s02l4100001", "per": "3"},
			{"vin": "3GNAXUEV5LL100002", "per": "1"},
		},
	})
	id, err := DecodeIdentity(token)
	if err != nil {
		t.Fatal(err)
	}
	if id.User() != "user@example.com" {
		t.Errorf("User() = %q", id.User())
	}
	if !id.Matches("USER@EXAMPLE.COM") {
		t.Error("ownership match should be case-insensitive")
	}
	if id.Matches("other@example.com") {
		t.Error("matched the wrong account")
	}
	vins := id.VINs()
	if len(vins) != 2 || vins[0] != "1G1FZ6S02L4100001" {
		t.Errorf("VINs() = %v", vins)
	}
	if !id.Authorized("1G1FZ6S02L4100001") || !id.Authorized("1g1fz6s02l4100001") {
		t.Error("VIN authorization should be case-insensitive")
	}
	if id.Authorized("5YJ3E1EA8PF000003") {
		t.Error("authorized an unknown VIN")
	}
}

func TestDecodeIdentityFallbacks(t *testing.T) {
	id, err := DecodeIdentity(unsignedJWT(t, map[string]interface{}{"name": "Only Name"}))
	if err != nil {
		t.Fatal(err)
	}
	if id.User() != "Only Name" {
		t.Errorf("User() = %q, want the name claim", id.User())
	}

	id, err = DecodeIdentity(unsignedJWT(t, map[string]interface{}{"email": "e@example.com"}))
	if err != nil {
		t.Fatal(err)
	}
	if id.User() != "e@example.com" {
		t.Errorf("User() = %q, want the email claim", id.User())
	}
}

func TestDecodeIdentityRejectsGarbage(t *testing.T) {
	for _, token := range []string{"", "not-a-jwt", "a.b", "!!!.!!!.!!!"} {
		if _, err := DecodeIdentity(token); err == nil {
			t.Errorf("token %q should not decode", token)
		}
	}
}
