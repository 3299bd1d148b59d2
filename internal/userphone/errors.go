package userphone

import "errors"

// ErrorCode is the caller-visible failure taxonomy. The command/UI layer
// maps these codes onto localized user messages; the core never lets raw
// infrastructure errors cross the module boundary.
type ErrorCode string

const (
	CodeChannelAlreadyInCall  ErrorCode = "CHANNEL_ALREADY_IN_CALL"
	CodeChannelAlreadyInQueue ErrorCode = "CHANNEL_ALREADY_IN_QUEUE"
	CodeWebhookCreationFailed ErrorCode = "WEBHOOK_CREATION_FAILED"
	CodeCallNotFound          ErrorCode = "CALL_NOT_FOUND"
	CodeMatchingTimeout       ErrorCode = "MATCHING_TIMEOUT"
	CodeDatabaseError         ErrorCode = "DATABASE_ERROR"
	CodeRedisError            ErrorCode = "REDIS_ERROR"
	CodeInvalidChannel        ErrorCode = "INVALID_CHANNEL"
	CodePermissionDenied      ErrorCode = "PERMISSION_DENIED"
)

// CallResult is the uniform outcome of every call operation. Expected
// failures (already queued, call not found, ...) are results, not errors.
type CallResult struct {
	Success bool      `json:"success"`
	Code    ErrorCode `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`

	// CallID is set when the operation touched or created a call.
	CallID string `json:"call_id,omitempty"`

	// Matched reports whether an immediate partner was found.
	Matched bool `json:"matched,omitempty"`

	// Queue is set when the channel ended up (or stayed) queued.
	Queue *QueueStatus `json:"queue,omitempty"`
}

func success(callID string) CallResult {
	return CallResult{Success: true, CallID: callID}
}

func queued(status QueueStatus) CallResult {
	return CallResult{Success: true, Queue: &status}
}

func failure(code ErrorCode, msg string) CallResult {
	return CallResult{Success: false, Code: code, Message: msg}
}

// Internal sentinels. These stay inside the package; the manager converts
// them to CallResult codes at the boundary.
var (
	ErrNotFound        = errors.New("userphone: not found")
	ErrInvalidArgument = errors.New("userphone: invalid argument")
	ErrAlreadyQueued   = errors.New("userphone: channel already queued")
	ErrAlreadyInCall   = errors.New("userphone: channel already in call")
)
