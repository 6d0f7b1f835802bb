package protocol

import (
	"encoding/json"
	"time"
)

// CommandStatus enumerates the states the backend reports for an asynchronous command.
type CommandStatus string

const (
	StatusPending    CommandStatus = "pending"
	StatusInProgress CommandStatus = "inProgress"
	StatusSuccess    CommandStatus = "success"
	StatusFailure    CommandStatus = "failure"
)

// Terminal returns true if the status will not change with further polling.
func (s CommandStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// CommandJob is the backend's handle for an asynchronous command. It arrives wrapped in a
// commandResponse envelope and carries the URL to poll for status updates.
type CommandJob struct {
	Status      CommandStatus `json:"status"`
	URL         string        `json:"url"`
	Type        string        `json:"type"`
	RequestTime string        `json:"requestTime"`
}

// FireAndForget returns true for command types that never report completion, so the first
// response is as good as it gets.
func (j *CommandJob) FireAndForget() bool {
	return j.Type == "connect"
}

// RequestedAt parses the job's request timestamp. The backend reports UTC timestamps in
// RFC 3339 form; ok is false when the field is absent or malformed.
func (j *CommandJob) RequestedAt() (time.Time, bool) {
	if j.RequestTime == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, j.RequestTime)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// CommandResult is a command response decoded once into a tagged variant: either an immediate
// payload (Job == nil) or an asynchronous job to poll.
type CommandResult struct {
	Raw json.RawMessage
	Job *CommandJob
}

type commandEnvelope struct {
	CommandResponse *CommandJob `json:"commandResponse"`
}

// ParseCommandResult decodes a command response body. Bodies without a commandResponse
// envelope are treated as immediate results; malformed JSON is also treated as an immediate
// result, since some endpoints return empty or non-JSON bodies on success.
func ParseCommandResult(body []byte) *CommandResult {
	result := &CommandResult{Raw: append(json.RawMessage{}, body...)}
	var envelope commandEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.CommandResponse != nil {
		result.Job = envelope.CommandResponse
	}
	return result
}

// apiErrorBody matches the backend's error payloads, e.g.
//
//	{"error": {"code": "ONS-300", "description": "Duplicate vehicle request"}}
type apiErrorBody struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// DuplicateRequestCode is returned by the backend when a command races an identical request
// that is still executing.
const DuplicateRequestCode = "ONS-300"

// IsDuplicateRequest reports whether an HTTP 500 body carries the duplicate-request code.
func IsDuplicateRequest(body []byte) bool {
	var decoded apiErrorBody
	if err := json.Unmarshal(body, &decoded); err != nil {
		return false
	}
	return decoded.Error.Code == DuplicateRequestCode
}
