package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/onstar-go/onstar/internal/log"
	"github.com/onstar-go/onstar/pkg/auth"
	"github.com/onstar-go/onstar/pkg/protocol"
)

// DefaultAPIBase is the production vehicle API.
const DefaultAPIBase = "https://na-mobile-api.gm.com/api/v1"

const (
	defaultPollInterval  = 6 * time.Second
	defaultPollTimeout   = 90 * time.Second
	defaultMaxRetries    = 3
	defaultRetryInterval = 2 * time.Second

	// hardPollCap bounds polling when the backend omits requestTime and no MaxPolls is
	// configured; without it a chain of inProgress responses could poll forever.
	hardPollCap = 30

	maxResponseLength = 1 << 20
)

// Authenticator supplies valid API tokens on demand. *auth.Session implements it; tests
// substitute fakes.
type Authenticator interface {
	Authenticate(ctx context.Context) (*auth.APIToken, error)
}

// Account issues authenticated requests against the vehicle API for a single VIN. It owns
// the command catalog and the asynchronous command execution protocol: POST a command,
// receive a job handle, poll to a terminal state.
//
// An Account serializes nothing itself beyond what Session guarantees; callers should not
// share one Account across goroutines issuing commands concurrently.
type Account struct {
	// UserAgent is sent with every request. Defaults to a string derived from build info.
	UserAgent string
	// APIBase is the vehicle API root. Tests point it at a mock server.
	APIBase string

	// CheckRequestStatus enables polling of asynchronous command responses.
	CheckRequestStatus bool
	// PollInterval is the delay between status polls.
	PollInterval time.Duration
	// PollTimeout bounds the wall-clock age of a command, measured from its requestTime.
	PollTimeout time.Duration
	// MaxPolls, when positive, bounds the number of status polls independently of
	// PollTimeout; when the bound is hit the last response is returned rather than an error.
	MaxPolls int
	// MaxRetries bounds retries of a command the backend rejects as a duplicate request.
	MaxRetries int
	// RetryInterval is the backoff between duplicate-request retries.
	RetryInterval time.Duration
	// PendingOnDuplicate makes exhausted duplicate-request retries yield a synthetic pending
	// result instead of an error. Callers that treat "still executing" as success opt in.
	PendingOnDuplicate bool

	session    Authenticator
	vin        string
	client     *http.Client
	catalog    *Catalog
	vehicle    *vehicleRecord
	vinChecked bool
}

// New returns an Account for the given VIN with production defaults.
func New(session Authenticator, vin string) *Account {
	return &Account{
		UserAgent:          buildUserAgent(),
		APIBase:            DefaultAPIBase,
		CheckRequestStatus: true,
		PollInterval:       defaultPollInterval,
		PollTimeout:        defaultPollTimeout,
		MaxRetries:         defaultMaxRetries,
		RetryInterval:      defaultRetryInterval,
		session:            session,
		vin:                strings.ToUpper(vin),
		client:             &http.Client{Timeout: 30 * time.Second},
	}
}

func buildUserAgent() string {
	agent := "onstar-go"
	build, ok := debug.ReadBuildInfo()
	if !ok {
		return agent
	}
	if build.Main.Version != "" && build.Main.Version != "(devel)" {
		return agent + "/" + build.Main.Version
	}
	for _, setting := range build.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 8 {
			return agent + "/" + setting.Value[:8]
		}
	}
	return agent
}

// VIN returns the vehicle identification number the Account was created for.
func (a *Account) VIN() string {
	return a.vin
}

// Catalog returns the current command catalog. It is empty until FetchVehicles succeeds.
func (a *Account) Catalog() *Catalog {
	return a.catalog
}

// Entitlements returns the vehicle's entitlement list from the most recent fetch.
func (a *Account) Entitlements() []Entitlement {
	if a.vehicle == nil {
		return nil
	}
	return a.vehicle.Entitlements.Entitlement
}

// Get sends an authenticated GET to path (relative to APIBase) or to an absolute URL.
func (a *Account) Get(ctx context.Context, path string) ([]byte, error) {
	return a.request(ctx, http.MethodGet, path, nil)
}

// Post sends an authenticated POST with a JSON body.
func (a *Account) Post(ctx context.Context, path string, body []byte) ([]byte, error) {
	return a.request(ctx, http.MethodPost, path, body)
}

// request performs one authenticated HTTP exchange. Every call re-validates the session
// token first; Session memoizes, so this is cheap outside the expiry window. On a non-2xx
// status the response body is returned alongside an HttpError so callers can inspect
// vendor error codes.
func (a *Account) request(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	token, err := a.session.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	if !a.vinChecked {
		id, err := auth.DecodeIdentity(token.AccessToken)
		if err != nil {
			return nil, err
		}
		if !id.Authorized(a.vin) {
			return nil, &protocol.VehicleAuthorizationError{VIN: a.vin, Available: id.VINs()}
		}
		a.vinChecked = true
	}

	if !strings.HasPrefix(target, "http") {
		target = a.APIBase + "/" + strings.TrimPrefix(target, "/")
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", a.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	log.Debug("%s %s", method, target)
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(&io.LimitedReader{R: resp.Body, N: maxResponseLength})
	if err != nil {
		return nil, err
	}
	log.Debug("Server returned %d: %s", resp.StatusCode, payload)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return payload, &protocol.HttpError{Code: resp.StatusCode, Message: string(payload)}
	}
	return payload, nil
}

// FetchVehicles retrieves the account's vehicle list with commands, entitlements, and
// modules included, rebuilds the command catalog for the configured VIN, and returns the raw
// payload. A VIN missing from the response is not an error here: the catalog comes back
// empty and later command lookups report the command as unavailable.
func (a *Account) FetchVehicles(ctx context.Context) (json.RawMessage, error) {
	body, err := a.Get(ctx, "account/vehicles?includeCommands=true&includeEntitlements=true&includeModules=true")
	if err != nil {
		return nil, err
	}
	record, err := findVehicle(body, a.vin)
	if err != nil {
		return nil, fmt.Errorf("could not parse vehicles response: %w", err)
	}
	if record == nil {
		log.Warning("VIN %s not present in account vehicles response", a.vin)
	}
	a.vehicle = record
	a.catalog = buildCatalog(record)
	log.Debug("Built command catalog with %d commands", len(a.catalog.Names()))
	return body, nil
}

// ExecuteCommand POSTs the named command and, when CheckRequestStatus is set, polls the
// returned job to a terminal state. The command must be present in the catalog; with an
// empty catalog (no fetch yet, or VIN missing from the account) a conventional URL is
// constructed instead.
func (a *Account) ExecuteCommand(ctx context.Context, name string, body interface{}) (*protocol.CommandResult, error) {
	target, err := a.commandURL(name)
	if err != nil {
		return nil, err
	}
	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	result, err := a.postCommand(ctx, name, target, payload)
	if err != nil || !a.CheckRequestStatus {
		return result, err
	}
	return a.pollToCompletion(ctx, name, result)
}

func (a *Account) commandURL(name string) (string, error) {
	if a.catalog.Empty() {
		log.Warning("Command catalog is empty; using conventional URL for %s", name)
		return fmt.Sprintf("%s/account/vehicles/%s/commands/%s", a.APIBase, a.vin, name), nil
	}
	cmd, ok := a.catalog.Lookup(name)
	if !ok {
		return "", &protocol.CommandUnavailableError{Command: name}
	}
	return cmd.URL, nil
}

// postCommand sends the command POST, retrying duplicate-request rejections. The backend
// answers HTTP 500 with code ONS-300 while an identical request is still executing.
func (a *Account) postCommand(ctx context.Context, name, target string, payload []byte) (*protocol.CommandResult, error) {
	attempts := a.MaxRetries + 1
	for attempt := 1; ; attempt++ {
		body, err := a.request(ctx, http.MethodPost, target, payload)
		if err == nil {
			return protocol.ParseCommandResult(body), nil
		}
		httpErr, ok := err.(*protocol.HttpError)
		if !ok || httpErr.Code != http.StatusInternalServerError || !protocol.IsDuplicateRequest(body) {
			return nil, err
		}
		if attempt >= attempts {
			if a.PendingOnDuplicate {
				log.Warning("Command %s still reported as duplicate; treating as pending", name)
				return &protocol.CommandResult{
					Raw: body,
					Job: &protocol.CommandJob{Status: protocol.StatusInProgress, Type: name},
				}, nil
			}
			return nil, &protocol.DuplicateRequestError{Command: name, Attempts: attempts}
		}
		log.Warning("Backend reports duplicate request for %s; retrying (%d/%d)", name, attempt, attempts)
		if err := sleepContext(ctx, a.RetryInterval); err != nil {
			return nil, err
		}
	}
}

// pollToCompletion follows a command's job handle until it reaches a terminal state, the
// configured bounds are hit, or the response stops carrying an envelope. Polls are strictly
// sequential: each GET waits for the previous response.
func (a *Account) pollToCompletion(ctx context.Context, name string, result *protocol.CommandResult) (*protocol.CommandResult, error) {
	job := result.Job
	if job == nil {
		return result, nil
	}
	requestedAt, hasTime := job.RequestedAt()
	polls := 0
	for {
		switch {
		case job.Status == protocol.StatusFailure:
			return nil, &protocol.CommandFailedError{Command: name, Body: result.Raw}
		case job.Status == protocol.StatusSuccess:
			return result, nil
		case job.FireAndForget():
			return result, nil
		case job.URL == "":
			return result, nil
		}

		if a.MaxPolls > 0 && polls >= a.MaxPolls {
			log.Debug("Poll bound reached for %s; returning last response", name)
			return result, nil
		}
		if hasTime {
			if elapsed := time.Since(requestedAt); elapsed > a.PollTimeout {
				return nil, &protocol.CommandTimeoutError{Command: name, Elapsed: elapsed}
			}
		} else if a.MaxPolls <= 0 && polls >= hardPollCap {
			return nil, &protocol.CommandTimeoutError{Command: name, Elapsed: time.Duration(polls) * a.PollInterval}
		}

		if err := sleepContext(ctx, a.PollInterval); err != nil {
			return nil, err
		}
		body, err := a.request(ctx, http.MethodGet, job.URL, nil)
		if err != nil {
			return nil, err
		}
		polls++
		result = protocol.ParseCommandResult(body)
		if result.Job == nil {
			return result, nil
		}
		job = result.Job
		if t, ok := job.RequestedAt(); ok {
			requestedAt, hasTime = t, true
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
