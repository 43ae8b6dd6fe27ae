package apperr

import "net/http"

type Code string

const (
	CodeUnknown          Code = "unknown"
	CodeInvalidArgument  Code = "invalid_argument"
	CodeNotFound         Code = "not_found"
	CodePermissionDenied Code = "permission_denied"
	CodeAuthentication   Code = "authentication"
	CodeUnreachablePeer  Code = "unreachable_peer"
	CodeInvalidCallState Code = "invalid_call_state"
	CodeDuplicateCall    Code = "duplicate_call"
	CodeStorage          Code = "storage"
)

// HTTPStatus maps an error code onto the status the HTTP API answers with.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeAuthentication:
		return http.StatusUnauthorized
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidCallState, CodeDuplicateCall:
		return http.StatusConflict
	case CodeUnreachablePeer:
		return http.StatusAccepted
	case CodeStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
