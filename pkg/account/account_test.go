package account

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/onstar-go/onstar/pkg/auth"
	"github.com/onstar-go/onstar/pkg/protocol"
)

const (
	testAPIBase = "https://api.invalid/api/v1"
	testVIN     = "1G1FZ6S02L4100001"
)

// staticAuthenticator hands out one pre-built token. It stands in for auth.Session.
type staticAuthenticator struct {
	token *auth.APIToken
	calls int
}

func (s *staticAuthenticator) Authenticate(ctx context.Context) (*auth.APIToken, error) {
	s.calls++
	return s.token, nil
}

// vehicleToken builds an API token whose access token claims authorize the given VINs.
func vehicleToken(t *testing.T, vins ...string) *auth.APIToken {
	t.Helper()
	vehs := make([]map[string]string, 0, len(vins))
	for _, vin := range vins {
		vehs = append(vehs, map[string]string{"vin": vin, "per": "3"})
	}
	header, err := json.Marshal(map[string]string{"alg": "none", "typ": "JWT"})
	if err != nil {
		t.Fatal(err)
	}
	payload, err := json.Marshal(map[string]interface{}{"uid": "user@example.com", "vehs": vehs})
	if err != nil {
		t.Fatal(err)
	}
	access := base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + ".sig"
	return &auth.APIToken{AccessToken: access, ExpiresAt: time.Now().Unix() + 3600}
}

func newTestAccount(t *testing.T, vins ...string) *Account {
	t.Helper()
	if len(vins) == 0 {
		vins = []string{testVIN}
	}
	a := New(&staticAuthenticator{token: vehicleToken(t, vins...)}, testVIN)
	a.APIBase = testAPIBase
	a.PollInterval = time.Millisecond
	a.RetryInterval = time.Millisecond
	httpmock.ActivateNonDefault(a.client)
	t.Cleanup(httpmock.DeactivateAndReset)
	return a
}

func commandHref(name string) string {
	return fmt.Sprintf("%s/account/vehicles/%s/commands/%s", testAPIBase, testVIN, name)
}

func vehiclesFixture() string {
	return fmt.Sprintf(`{
		"vehicles": {
			"vehicle": [{
				"vin": %q,
				"make": "Chevrolet",
				"model": "Bolt EUV",
				"year": "2023",
				"commands": {
					"command": [
						{"name": "start", "url": %q, "isPrivSessionRequired": "false"},
						{"name": "unlockDoor", "url": %q, "isPrivSessionRequired": "true"},
						{"name": "connect", "url": %q, "isPrivSessionRequired": "false"},
						{
							"name": "diagnostics",
							"url": %q,
							"isPrivSessionRequired": "false",
							"commandData": {
								"supportedDiagnostics": {
									"supportedDiagnostic": ["ODOMETER", "TIRE PRESSURE", "EV BATTERY LEVEL"]
								}
							}
						},
						{
							"name": "setHvacSettings",
							"url": %q,
							"isPrivSessionRequired": "false",
							"commandData": {
								"supportedHvacData": {
									"supportedAcClimateModeSettings": {
										"supportedAcClimateModeSetting": ["AC_OFF", "AC_NORM", "AC_MAX"]
									},
									"heatedSteeringWheelSupported": "true"
								}
							}
						}
					]
				},
				"entitlements": {
					"entitlement": [
						{"id": "REMOTE_START", "eligible": "true"},
						{"id": "EV_CHARGE", "eligible": "false"}
					]
				}
			}]
		}
	}`, testVIN, commandHref("start"), commandHref("unlockDoor"), commandHref("connect"),
		commandHref("diagnostics"), commandHref("setHvacSettings"))
}

func registerVehiclesResponder(fixture string) {
	httpmock.RegisterResponder("GET", testAPIBase+"/account/vehicles",
		httpmock.NewStringResponder(200, fixture))
}

func TestFetchVehiclesBuildsCatalog(t *testing.T) {
	a := newTestAccount(t)
	registerVehiclesResponder(vehiclesFixture())

	if _, err := a.FetchVehicles(context.Background()); err != nil {
		t.Fatal(err)
	}
	catalog := a.Catalog()
	if catalog.Empty() {
		t.Fatal("catalog is empty after fetch")
	}
	if !catalog.Available("start") || catalog.Available("alert") {
		t.Error("catalog availability does not match the fixture")
	}
	unlock, ok := catalog.Lookup("unlockDoor")
	if !ok || !unlock.RequiresPrivilegedSession {
		t.Error("unlockDoor should require a privileged session")
	}
	diag, ok := catalog.Lookup("diagnostics")
	if !ok || len(diag.SupportedDiagnostics) != 3 {
		t.Errorf("diagnostics capability data not parsed: %+v", diag)
	}
	hvac, ok := catalog.Lookup("setHvacSettings")
	if !ok || hvac.HVAC == nil || !hvac.HVAC.HeatedSteeringWheel || len(hvac.HVAC.ACClimateModes) != 3 {
		t.Errorf("HVAC capability data not parsed: %+v", hvac)
	}

	entitlements := a.Entitlements()
	if len(entitlements) != 2 {
		t.Fatalf("Entitlements() returned %d entries", len(entitlements))
	}
	if !entitlements[0].IsEligible() || entitlements[1].IsEligible() {
		t.Error("entitlement eligibility does not match the fixture")
	}
}

func TestFetchVehiclesMissingVIN(t *testing.T) {
	a := newTestAccount(t)
	registerVehiclesResponder(`{"vehicles": {"vehicle": []}}`)

	if _, err := a.FetchVehicles(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !a.Catalog().Empty() {
		t.Error("catalog should be empty when the VIN is absent from the account")
	}
}

func TestExecuteCommandUnavailable(t *testing.T) {
	a := newTestAccount(t)
	registerVehiclesResponder(vehiclesFixture())
	if _, err := a.FetchVehicles(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, err := a.ExecuteCommand(context.Background(), "alert", nil)
	var unavailable *protocol.CommandUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected CommandUnavailableError, got %v", err)
	}
	if unavailable.Command != "alert" {
		t.Errorf("error names command %q", unavailable.Command)
	}
}

func TestExecuteCommandConventionalURL(t *testing.T) {
	a := newTestAccount(t)
	var sawAuth string
	httpmock.RegisterResponder("POST", commandHref("start"),
		func(req *http.Request) (*http.Response, error) {
			sawAuth = req.Header.Get("Authorization")
			return httpmock.NewStringResponse(200, `{"result": "ok"}`), nil
		})

	result, err := a.ExecuteCommand(context.Background(), "start", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Job != nil {
		t.Error("expected an immediate result for a body without an envelope")
	}
	if len(sawAuth) < 8 || sawAuth[:7] != "Bearer " {
		t.Errorf("Authorization header = %q", sawAuth)
	}
}

func TestExecuteCommandPollsToSuccess(t *testing.T) {
	a := newTestAccount(t)
	registerVehiclesResponder(vehiclesFixture())
	if _, err := a.FetchVehicles(context.Background()); err != nil {
		t.Fatal(err)
	}

	statusURL := testAPIBase + "/account/vehicles/" + testVIN + "/requests/42"
	requestTime := time.Now().UTC().Format(time.RFC3339)
	httpmock.RegisterResponder("POST", commandHref("start"),
		httpmock.NewStringResponder(200, fmt.Sprintf(
			`{"commandResponse": {"status": "inProgress", "url": %q, "type": "start", "requestTime": %q}}`,
			statusURL, requestTime)))

	polls := 0
	httpmock.RegisterResponder("GET", statusURL,
		func(req *http.Request) (*http.Response, error) {
			polls++
			status := "inProgress"
			if polls >= 2 {
				status = "success"
			}
			body := fmt.Sprintf(
				`{"commandResponse": {"status": %q, "url": %q, "type": "start", "requestTime": %q}}`,
				status, statusURL, requestTime)
			return httpmock.NewStringResponse(200, body), nil
		})

	result, err := a.ExecuteCommand(context.Background(), "start", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Job == nil || result.Job.Status != protocol.StatusSuccess {
		t.Errorf("final result = %+v", result.Job)
	}
	if polls != 2 {
		t.Errorf("status endpoint polled %d times, want 2", polls)
	}
}

func TestExecuteCommandFailureStatus(t *testing.T) {
	a := newTestAccount(t)
	statusURL := testAPIBase + "/requests/43"
	requestTime := time.Now().UTC().Format(time.RFC3339)
	httpmock.RegisterResponder("POST", commandHref("lockDoor"),
		httpmock.NewStringResponder(200, fmt.Sprintf(
			`{"commandResponse": {"status": "inProgress", "url": %q, "type": "lockDoor", "requestTime": %q}}`,
			statusURL, requestTime)))
	httpmock.RegisterResponder("GET", statusURL,
		httpmock.NewStringResponder(200,
			`{"commandResponse": {"status": "failure", "url": "", "type": "lockDoor"}}`))

	_, err := a.ExecuteCommand(context.Background(), "lockDoor", nil)
	var failed *protocol.CommandFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected CommandFailedError, got %v", err)
	}
}

func TestExecuteCommandTimeout(t *testing.T) {
	a := newTestAccount(t)
	stale := time.Now().UTC().Add(-10 * time.Minute).Format(time.RFC3339)
	statusURL := testAPIBase + "/requests/44"
	httpmock.RegisterResponder("POST", commandHref("start"),
		httpmock.NewStringResponder(200, fmt.Sprintf(
			`{"commandResponse": {"status": "inProgress", "url": %q, "type": "start", "requestTime": %q}}`,
			statusURL, stale)))

	_, err := a.ExecuteCommand(context.Background(), "start", nil)
	var timeout *protocol.CommandTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected CommandTimeoutError, got %v", err)
	}
	if !protocol.MayHaveSucceeded(err) {
		t.Error("a timed-out command may still have executed")
	}
	if httpmock.GetCallCountInfo()["GET "+statusURL] != 0 {
		t.Error("an already-expired job should not be polled")
	}
}

func TestExecuteCommandMaxPolls(t *testing.T) {
	a := newTestAccount(t)
	a.MaxPolls = 1
	statusURL := testAPIBase + "/requests/45"
	requestTime := time.Now().UTC().Format(time.RFC3339)
	body := fmt.Sprintf(
		`{"commandResponse": {"status": "inProgress", "url": %q, "type": "start", "requestTime": %q}}`,
		statusURL, requestTime)
	httpmock.RegisterResponder("POST", commandHref("start"), httpmock.NewStringResponder(200, body))
	httpmock.RegisterResponder("GET", statusURL, httpmock.NewStringResponder(200, body))

	result, err := a.ExecuteCommand(context.Background(), "start", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Job == nil || result.Job.Status != protocol.StatusInProgress {
		t.Errorf("expected the last in-progress response, got %+v", result.Job)
	}
	if polls := httpmock.GetCallCountInfo()["GET "+statusURL]; polls != 1 {
		t.Errorf("status endpoint polled %d times, want 1", polls)
	}
}

func TestExecuteCommandConnectFireAndForget(t *testing.T) {
	a := newTestAccount(t)
	statusURL := testAPIBase + "/requests/46"
	httpmock.RegisterResponder("POST", commandHref("connect"),
		httpmock.NewStringResponder(200, fmt.Sprintf(
			`{"commandResponse": {"status": "inProgress", "url": %q, "type": "connect"}}`, statusURL)))

	result, err := a.ExecuteCommand(context.Background(), "connect", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Job == nil || !result.Job.FireAndForget() {
		t.Errorf("result = %+v", result.Job)
	}
	if polls := httpmock.GetCallCountInfo()["GET "+statusURL]; polls != 0 {
		t.Errorf("connect was polled %d times", polls)
	}
}

func TestDuplicateRequestRetries(t *testing.T) {
	a := newTestAccount(t)
	a.MaxRetries = 2
	duplicate := `{"error": {"code": "ONS-300", "description": "Duplicate vehicle request"}}`
	httpmock.RegisterResponder("POST", commandHref("start"),
		httpmock.NewStringResponder(500, duplicate))

	_, err := a.ExecuteCommand(context.Background(), "start", nil)
	var dup *protocol.DuplicateRequestError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateRequestError, got %v", err)
	}
	if dup.Attempts != 3 {
		t.Errorf("Attempts = %d, want MaxRetries+1", dup.Attempts)
	}
	if posts := httpmock.GetCallCountInfo()["POST "+commandHref("start")]; posts != 3 {
		t.Errorf("command posted %d times, want 3", posts)
	}
	if !protocol.MayHaveSucceeded(err) || !protocol.Temporary(err) {
		t.Error("duplicate rejection should be possibly-succeeded and temporary")
	}
}

func TestDuplicateRequestPendingPolicy(t *testing.T) {
	a := newTestAccount(t)
	a.MaxRetries = 1
	a.PendingOnDuplicate = true
	duplicate := `{"error": {"code": "ONS-300", "description": "Duplicate vehicle request"}}`
	httpmock.RegisterResponder("POST", commandHref("start"),
		httpmock.NewStringResponder(500, duplicate))

	result, err := a.ExecuteCommand(context.Background(), "start", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Job == nil || result.Job.Status != protocol.StatusInProgress {
		t.Errorf("expected a synthetic in-progress result, got %+v", result.Job)
	}
	if posts := httpmock.GetCallCountInfo()["POST "+commandHref("start")]; posts != 2 {
		t.Errorf("command posted %d times, want 2", posts)
	}
}

func TestDuplicateRequestEventuallyAccepted(t *testing.T) {
	a := newTestAccount(t)
	a.MaxRetries = 3
	duplicate := `{"error": {"code": "ONS-300", "description": "Duplicate vehicle request"}}`
	posts := 0
	httpmock.RegisterResponder("POST", commandHref("start"),
		func(req *http.Request) (*http.Response, error) {
			posts++
			if posts < 3 {
				return httpmock.NewStringResponse(500, duplicate), nil
			}
			return httpmock.NewStringResponse(200, `{"result": "ok"}`), nil
		})

	result, err := a.ExecuteCommand(context.Background(), "start", nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Job != nil {
		t.Errorf("expected an immediate result, got %+v", result.Job)
	}
	if posts != 3 {
		t.Errorf("command posted %d times, want 3", posts)
	}
}

func TestNonDuplicate500IsNotRetried(t *testing.T) {
	a := newTestAccount(t)
	httpmock.RegisterResponder("POST", commandHref("start"),
		httpmock.NewStringResponder(500, `{"error": {"code": "ONS-113", "description": "internal"}}`))

	_, err := a.ExecuteCommand(context.Background(), "start", nil)
	var httpErr *protocol.HttpError
	if !errors.As(err, &httpErr) || httpErr.Code != 500 {
		t.Fatalf("expected the raw HttpError, got %v", err)
	}
	if posts := httpmock.GetCallCountInfo()["POST "+commandHref("start")]; posts != 1 {
		t.Errorf("command posted %d times, want 1", posts)
	}
}

func TestVehicleAuthorizationEnforced(t *testing.T) {
	a := newTestAccount(t, "3GNAXUEV5LL100002") // token authorizes a different VIN
	_, err := a.Get(context.Background(), "account/vehicles")
	var authErr *protocol.VehicleAuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected VehicleAuthorizationError, got %v", err)
	}
	if authErr.VIN != testVIN {
		t.Errorf("error names VIN %q", authErr.VIN)
	}
	if httpmock.GetTotalCallCount() != 0 {
		t.Error("no request should reach the API for an unauthorized VIN")
	}
}
