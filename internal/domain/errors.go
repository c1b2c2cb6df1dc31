package domain

import "errors"

var (
	// ErrTransient marks timeouts and 5xx responses that are worth retrying.
	ErrTransient = errors.New("transient transport error")
	// ErrRejected marks a non-success response the server will not change its mind about.
	ErrRejected = errors.New("request rejected by server")
	// ErrSubmitFailed is returned when an answer could not be recorded; the learner may retry.
	ErrSubmitFailed = errors.New("answer submission failed")
	// ErrInvalidPhase is returned when an action does not fit the current state.
	ErrInvalidPhase = errors.New("action not allowed in current phase")
	// ErrUnknownOption indicates a selected option id is not part of the question.
	ErrUnknownOption = errors.New("option not found")
	// ErrInvalidConfidence indicates a confidence value outside the accepted scale.
	ErrInvalidConfidence = errors.New("confidence out of range")
	// ErrRemediationRequired blocks advancement until remediation is resolved.
	ErrRemediationRequired = errors.New("remediation required before advancing")
	// ErrRetryExhausted is returned when the session does not allow another attempt.
	ErrRetryExhausted = errors.New("no submission attempts left")
	// ErrNotSelfPaced is returned for learner-driven actions in a moderator-paced session.
	ErrNotSelfPaced = errors.New("session is not self-paced")
	// ErrFlowBusy is returned when a post-session step is already in flight.
	ErrFlowBusy = errors.New("post-session step already in progress")
	// ErrClosed is returned after the controller has been torn down.
	ErrClosed = errors.New("session controller closed")
)
