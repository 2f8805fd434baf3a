package negotiation

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRemoteDescription is returned when an answer is requested before the remote offer was applied.
	ErrNoRemoteDescription = errors.New("remote description has not been applied")

	// ErrUnexpectedDescription is returned when a peer-supplied description has the wrong type or is empty.
	ErrUnexpectedDescription = errors.New("unexpected session description")

	// ErrMissingSessionID is returned when the remote endpoint created a session without an id.
	ErrMissingSessionID = errors.New("remote endpoint did not assign a session id")

	// ErrWrongRole is returned when an exchanger step is invoked for the other role.
	ErrWrongRole = errors.New("operation not valid for this role")

	// ErrTransportFailed is reported when the media transport's connection enters the failed state.
	ErrTransportFailed = errors.New("media transport connection failed")
)

// AcquisitionError reports that local media could not be acquired.
type AcquisitionError struct {
	Err error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire local media: %v", e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// ChannelError reports a failed signaling operation. Op is one of
// "create", "put-description", "patch-candidate" or "delete".
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("signaling %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// NegotiationError reports that a session description could not be created or applied.
type NegotiationError struct {
	Step string
	Err  error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation %s: %v", e.Step, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// TransportNotice carries a candidate-discovery error from the media transport.
// It is diagnostic only.
type TransportNotice struct {
	Info CandidateErrorInfo
}

func (e *TransportNotice) Error() string {
	return fmt.Sprintf("ice candidate error: local-address=%s --> url=%s (%d %s)",
		e.Info.Address, e.Info.URL, e.Info.ErrorCode, e.Info.ErrorText)
}

// IsFatal reports whether err aborts a negotiation. Patch-candidate and delete
// channel failures and transport notices are not fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var notice *TransportNotice
	if errors.As(err, &notice) {
		return false
	}
	var chErr *ChannelError
	if errors.As(err, &chErr) {
		return chErr.Op == opCreate || chErr.Op == opPutDescription
	}
	return true
}

const (
	opCreate         = "create"
	opPutDescription = "put-description"
	opPatchCandidate = "patch-candidate"
	opDelete         = "delete"
)
