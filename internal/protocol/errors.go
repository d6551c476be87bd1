package protocol

import "errors"

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// World composition.
	ErrMalformedGraph      = "E_MALFORMED_GRAPH"
	ErrValidationFailed    = "E_VALIDATION_FAILED"
	ErrIntegrationConflict = "E_INTEGRATION_CONFLICT"

	// Navigation.
	ErrNoPath             = "E_NO_PATH"
	ErrInvalidDestination = "E_INVALID_DESTINATION"
	ErrUnreachable        = "E_UNREACHABLE"
	ErrInvalidOrigin      = "E_INVALID_ORIGIN"

	// Campaign.
	ErrNotAvailable = "E_NOT_AVAILABLE"
	ErrNotVisited   = "E_NOT_VISITED"
	ErrNoActive     = "E_NO_ACTIVE_PACKAGE"

	// Generation service.
	ErrMalformedOutput      = "E_MALFORMED_OUTPUT"
	ErrNarrationUnavailable = "E_NARRATION_UNAVAILABLE"
	ErrSummaryUnavailable   = "E_SUMMARY_UNAVAILABLE"

	ErrBadRequest = "E_BAD_REQUEST"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:      {},
	ErrMalformedGraph:       {},
	ErrValidationFailed:     {},
	ErrIntegrationConflict:  {},
	ErrNoPath:               {},
	ErrInvalidDestination:   {},
	ErrUnreachable:          {},
	ErrInvalidOrigin:        {},
	ErrNotAvailable:         {},
	ErrNotVisited:           {},
	ErrNoActive:             {},
	ErrMalformedOutput:      {},
	ErrNarrationUnavailable: {},
	ErrSummaryUnavailable:   {},
	ErrBadRequest:           {},
	ErrInternal:             {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Coded is implemented by domain errors that carry a wire code.
type Coded interface {
	error
	Code() string
}

// CodeOf returns the first code found in err's chain, or ErrInternal.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var c Coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return ErrInternal
}

// Recoverable reports whether err should be surfaced to the narrator as a
// rejected action rather than ending the turn.
func Recoverable(err error) bool {
	switch CodeOf(err) {
	case ErrNoPath, ErrInvalidDestination, ErrUnreachable, ErrNotAvailable, ErrNotVisited,
		ErrNarrationUnavailable, ErrSummaryUnavailable, ErrBadRequest:
		return true
	}
	return false
}
