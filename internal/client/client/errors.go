package client

import "errors"

var (
	// ErrUnavailable is a transient failure: no network, timeout, server down.
	ErrUnavailable = errors.New("server unavailable")
	// ErrRejected means the remote store refused the operation on
	// business-rule grounds. Retrying the same request will not help.
	ErrRejected     = errors.New("rejected by remote store")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrOfflineCredentialsUnavailable means no offline sign-in is possible
	// on this device for the given account.
	ErrOfflineCredentialsUnavailable = errors.New("offline credentials unavailable")
	// ErrOfflineCredentialsInvalid means the stored credential did not match.
	ErrOfflineCredentialsInvalid = errors.New("offline credentials invalid")
)

// IsRetryable reports whether a failed remote call may succeed on a later
// attempt. Only explicit rejections are final; unknown errors are retryable
// so that no queued write is ever given up on by accident.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrRejected)
}
