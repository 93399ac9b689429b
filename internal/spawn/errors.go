package spawn

import "errors"

// Error categories. Every error returned by Manager wraps exactly one of
// these sentinels, so callers classify failures with errors.Is.
var (
	// ErrSetup marks a failure to create the local transport or to start a
	// new helper process. The manager is left with no helper tracked.
	ErrSetup = errors.New("spawn: setup failure")

	// ErrLogFile marks a failure to open the configured helper log file.
	// Raised before any process is created.
	ErrLogFile = errors.New("spawn: cannot open log file")

	// ErrTransport marks a failed exchange with the helper: a write error, a
	// malformed or incomplete response, or a missing passed descriptor. The
	// helper is rebuilt on the next spawn request.
	ErrTransport = errors.New("spawn: transport failure")

	// ErrHelperExited reports that the helper closed the channel without
	// answering a request. Always wrapped in ErrTransport.
	ErrHelperExited = errors.New("spawn helper has exited unexpectedly")
)

// RestartError reports that a spawn request had to rebuild the helper and
// the rebuild itself failed. It carries the underlying setup or log-file
// error as its cause, so callers can tell "this one request failed" apart
// from "the subsystem is down and could not be revived". The needs-restart
// flag stays set; the next spawn request retries the rebuild.
type RestartError struct {
	Cause error
}

func (e *RestartError) Error() string {
	return "spawn: helper could not be rebuilt: " + e.Cause.Error()
}

func (e *RestartError) Unwrap() error {
	return e.Cause
}
