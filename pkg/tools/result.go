// Package tools implements the tool gateway: repository access, git
// operations, and allow-listed command execution. Every operation returns a
// Result envelope rather than an error, so callers get a uniform shape for
// success, failure, and retryability.
package tools

import "time"

// Error codes form a fixed vocabulary. Callers branch on codes, never on
// message text.
const (
	CodePathEscape        = "PATH_ESCAPE"
	CodeInvalidPath       = "INVALID_PATH"
	CodeFileNotFound      = "FILE_NOT_FOUND"
	CodeNotAFile          = "NOT_A_FILE"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeReadError         = "READ_ERROR"
	CodeWriteError        = "WRITE_ERROR"
	CodeSearchError       = "SEARCH_ERROR"
	CodeNotAGitRepo       = "NOT_A_GIT_REPO"
	CodeGitTimeout        = "GIT_TIMEOUT"
	CodeGitError          = "GIT_ERROR"
	CodeBranchFailed      = "BRANCH_CREATE_FAILED"
	CodeGitAddFailed      = "GIT_ADD_FAILED"
	CodeGitCommitFailed   = "GIT_COMMIT_FAILED"
	CodeEmptyCommand      = "EMPTY_COMMAND"
	CodeCommandNotAllowed = "COMMAND_NOT_ALLOWED"
	CodeCommandTimeout    = "COMMAND_TIMEOUT"
	CodeCommandFailed     = "COMMAND_FAILED"
	CodeInvalidCwd        = "INVALID_CWD"
	CodeExecutionError    = "EXECUTION_ERROR"
)

// Result is the uniform envelope returned by every gateway operation.
type Result struct {
	Data      map[string]any `json:"data,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
	Message   string         `json:"message,omitempty"`
	Latency   time.Duration  `json:"latency"`
	OK        bool           `json:"ok"`
	Retryable bool           `json:"retryable"`
}

// retryableCodes lists failure codes worth retrying. Timeouts and transient
// I/O failures retry; path-safety violations, not-found conditions, and
// disallowed commands never do.
var retryableCodes = map[string]bool{
	CodeGitTimeout:     true,
	CodeCommandTimeout: true,
	CodeReadError:      true,
	CodeWriteError:     true,
	CodeSearchError:    true,
	CodeGitError:       true,
	CodeExecutionError: true,
}

// Success builds a successful result.
func Success(data map[string]any, latency time.Duration) Result {
	return Result{OK: true, Data: data, Latency: latency}
}

// Failure builds a failed result. Retryability is derived from the code.
func Failure(code, message string, latency time.Duration) Result {
	return Result{
		ErrorCode: code,
		Message:   message,
		Latency:   latency,
		Retryable: retryableCodes[code],
	}
}

// FailureWithData builds a failed result carrying partial output, e.g. the
// stdout captured before a command timed out.
func FailureWithData(code, message string, data map[string]any, latency time.Duration) Result {
	r := Failure(code, message, latency)
	r.Data = data
	return r
}
