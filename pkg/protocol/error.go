package protocol

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Error exposes methods useful for categorizing errors.
type Error interface {
	error

	// MayHaveSucceeded returns true if the Error was triggered by a command that might have been
	// executed. For example, a client that times out while polling a command's status cannot tell
	// whether the vehicle acted on the command.
	MayHaveSucceeded() bool

	// Temporary returns true if the Error might be the result of a transient condition, such as
	// the backend still processing a previous request for the same vehicle.
	Temporary() bool
}

var (
	// ErrDiscoveryFailed indicates the OIDC discovery document could not be fetched or parsed.
	// The identity flow falls back to hard-coded endpoints, so callers normally never see it.
	ErrDiscoveryFailed = errors.New("OIDC discovery failed")
	// ErrNotAuthenticated indicates an operation that requires a session was attempted before
	// a token could be obtained.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrNoVehicles indicates the exchanged API token carries no vehicle authorizations even
	// after a fresh login. This is a configuration problem (wrong account), not a retry target.
	ErrNoVehicles = errors.New("account has no authorized vehicles")
)

type CommandError struct {
	Err               error
	PossibleSuccess   bool
	PossibleTemporary bool
}

func NewError(message string, mayHaveSucceeded bool, temporary bool) error {
	return &CommandError{Err: errors.New(message), PossibleSuccess: mayHaveSucceeded, PossibleTemporary: temporary}
}

func (e *CommandError) Error() string {
	return e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func (e *CommandError) MayHaveSucceeded() bool {
	return e.PossibleSuccess
}

func (e *CommandError) Temporary() bool {
	return e.PossibleTemporary
}

// HttpError wraps a non-2xx response from the identity provider or the vehicle API.
type HttpError struct {
	Code    int
	Message string
}

func (e *HttpError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Code)
	}
	return fmt.Sprintf("%s: %s", http.StatusText(e.Code), e.Message)
}

func (e *HttpError) MayHaveSucceeded() bool {
	return e.Code < 400 || e.Code >= 500
}

func (e *HttpError) Temporary() bool {
	return e.Code == http.StatusServiceUnavailable ||
		e.Code == http.StatusGatewayTimeout ||
		e.Code == http.StatusRequestTimeout ||
		e.Code == http.StatusTooManyRequests
}

// ExtractionError indicates an expected field (CSRF token, transaction id, authorization code)
// could not be located in an identity-provider response. Not retriable: the provider has likely
// changed its login pages.
type ExtractionError struct {
	Missing string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("could not extract %s from identity provider response", e.Missing)
}

func (e *ExtractionError) MayHaveSucceeded() bool { return false }
func (e *ExtractionError) Temporary() bool        { return false }

// MFAError indicates the one-time-password step failed.
type MFAError struct {
	Err error
}

func (e *MFAError) Error() string {
	return fmt.Sprintf("multi-factor challenge failed: %s", e.Err)
}

func (e *MFAError) Unwrap() error          { return e.Err }
func (e *MFAError) MayHaveSucceeded() bool { return false }
func (e *MFAError) Temporary() bool        { return false }

// AuthorizationCodeError indicates the final login redirect did not yield an authorization code.
type AuthorizationCodeError struct {
	Status int
	Detail string
}

func (e *AuthorizationCodeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("authorization code retrieval failed (HTTP %d): %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("authorization code retrieval failed (HTTP %d)", e.Status)
}

func (e *AuthorizationCodeError) MayHaveSucceeded() bool { return false }
func (e *AuthorizationCodeError) Temporary() bool        { return false }

// TokenExchangeError indicates a token endpoint response was missing an access token.
type TokenExchangeError struct {
	Endpoint string
	Err      error
}

func (e *TokenExchangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token exchange with %s failed: %s", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("token exchange with %s did not return an access token", e.Endpoint)
}

func (e *TokenExchangeError) Unwrap() error          { return e.Err }
func (e *TokenExchangeError) MayHaveSucceeded() bool { return false }
func (e *TokenExchangeError) Temporary() bool        { return false }

// VehicleAuthorizationError indicates the configured VIN is not among the vehicles the account
// is authorized for.
type VehicleAuthorizationError struct {
	VIN       string
	Available []string
}

func (e *VehicleAuthorizationError) Error() string {
	return fmt.Sprintf("VIN %s is not authorized for this account (available: %s)",
		e.VIN, strings.Join(e.Available, ", "))
}

func (e *VehicleAuthorizationError) MayHaveSucceeded() bool { return false }
func (e *VehicleAuthorizationError) Temporary() bool        { return false }

// UnsupportedDiagnosticsError indicates none of the requested diagnostic items are
// advertised by the vehicle.
type UnsupportedDiagnosticsError struct {
	Requested []string
}

func (e *UnsupportedDiagnosticsError) Error() string {
	return fmt.Sprintf("vehicle supports none of the requested diagnostic items: %s",
		strings.Join(e.Requested, ", "))
}

func (e *UnsupportedDiagnosticsError) MayHaveSucceeded() bool { return false }
func (e *UnsupportedDiagnosticsError) Temporary() bool        { return false }

// CommandUnavailableError indicates a command is not present in the vehicle's catalog.
type CommandUnavailableError struct {
	Command string
}

func (e *CommandUnavailableError) Error() string {
	return fmt.Sprintf("command %q is not available for this vehicle", e.Command)
}

func (e *CommandUnavailableError) MayHaveSucceeded() bool { return false }
func (e *CommandUnavailableError) Temporary() bool        { return false }

// CommandFailedError indicates the backend reported a terminal failure status for a command.
type CommandFailedError struct {
	Command string
	Body    []byte
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("command %q failed: %s", e.Command, e.Body)
}

func (e *CommandFailedError) MayHaveSucceeded() bool { return false }
func (e *CommandFailedError) Temporary() bool        { return false }

// CommandTimeoutError indicates a command was accepted but did not reach a terminal state
// within the polling window.
type CommandTimeoutError struct {
	Command string
	Elapsed time.Duration
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("command %q did not complete within %s", e.Command, e.Elapsed)
}

func (e *CommandTimeoutError) MayHaveSucceeded() bool { return true }
func (e *CommandTimeoutError) Temporary() bool        { return false }

// DuplicateRequestError indicates the backend kept rejecting a command as a duplicate of an
// earlier request after all retries were spent. The earlier request may still be executing.
type DuplicateRequestError struct {
	Command  string
	Attempts int
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("command %q rejected as a duplicate request after %d attempts", e.Command, e.Attempts)
}

func (e *DuplicateRequestError) MayHaveSucceeded() bool { return true }
func (e *DuplicateRequestError) Temporary() bool        { return true }

// MayHaveSucceeded returns true if err indicates a command may have been executed even though
// the client did not observe a confirmation.
func MayHaveSucceeded(err error) bool {
	var perr Error
	return errors.As(err, &perr) && perr.MayHaveSucceeded()
}

// Temporary returns true if err indicates a transient condition.
func Temporary(err error) bool {
	var perr Error
	return errors.As(err, &perr) && perr.Temporary()
}

// ShouldRetry returns true if the client should retry the request that triggered err.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var perr Error
	if errors.As(err, &perr) {
		return !perr.MayHaveSucceeded() && perr.Temporary()
	}
	return false
}
