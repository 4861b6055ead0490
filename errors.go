package reforge

import "fmt"

// Runtime errors. ErrUnauthorized and ErrNotReady are sentinel errors;
// ErrMissingDefault is returned by MustGet per the on_no_default policy.
var (
	// ErrUnauthorized is recorded when the control plane reports 401/403.
	// It releases the ready latch and prevents stream/poll startup.
	ErrUnauthorized = fmt.Errorf("reforge: unauthorized")

	// ErrNotReady is returned by MustGet when the client hasn't
	// completed its initial load yet.
	ErrNotReady = fmt.Errorf("reforge: client not ready")

	// ErrConnectionFailure is recorded by New when the checkpoint CDN
	// couldn't be reached and Options.OnConnectionFailure is
	// OnConnectionFailureRaise. The client is still returned and keeps
	// retrying in the background; this only surfaces the failure
	// synchronously to the constructor's caller.
	ErrConnectionFailure = fmt.Errorf("reforge: checkpoint connection failed")

	// ErrMissingDefault is returned by MustGet for a GetStatusNotFound
	// result when OnNoDefault is OnNoDefaultRaise.
	ErrMissingDefault = fmt.Errorf("reforge: no value and no default")
)

// MissingSDKKeyError is a construction-time error: no SDK key was
// supplied and the client isn't configured for LOCAL_ONLY.
type MissingSDKKeyError struct{}

func (e *MissingSDKKeyError) Error() string {
	return "reforge: sdk_key is required unless ReforgeDatasources is LOCAL_ONLY"
}

// InvalidSDKKeyError reports a sdk_key that doesn't match the expected
// `\d+-...` form.
type InvalidSDKKeyError struct{ Value string }

func (e *InvalidSDKKeyError) Error() string {
	return fmt.Sprintf("reforge: invalid sdk_key format: %q", e.Value)
}

// InvalidAPIURLError reports a checkpoint base URL that doesn't match
// ^https?://.
type InvalidAPIURLError struct{ Value string }

func (e *InvalidAPIURLError) Error() string {
	return fmt.Sprintf("reforge: invalid api url: %q", e.Value)
}

// InvalidStreamURLError reports an SSE base URL that doesn't match
// ^https?://.
type InvalidStreamURLError struct{ Value string }

func (e *InvalidStreamURLError) Error() string {
	return fmt.Sprintf("reforge: invalid stream url: %q", e.Value)
}
