package http

import (
	"net/http"

	"shardfs/pkg/fserrors"
)

type Status string

const (
	StatusOK      Status = "OK"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Response is the JSON envelope of every admin endpoint.
type Response struct {
	Status Status `json:"status,omitempty"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
	// Kind is the failure class of a file operation error.
	Kind string `json:"kind,omitempty"`
}

func NewOKResponse() Response {
	return Response{Status: StatusOK}
}

func NewDataResponse(data any) Response {
	return Response{Status: StatusSuccess, Data: data}
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}

// NewFailureResponse wraps a file operation error and picks the HTTP status
// that matches its kind.
func NewFailureResponse(err error) (int, Response) {
	f := fserrors.AsFailure(err)
	resp := Response{Status: StatusError, Error: f.Msg, Kind: f.Kind.String()}

	switch f.Kind {
	case fserrors.KindMalformedPath, fserrors.KindUnsupportedExtension, fserrors.KindUsage:
		return http.StatusBadRequest, resp
	case fserrors.KindNotFound:
		return http.StatusNotFound, resp
	case fserrors.KindPermissionDenied:
		return http.StatusForbidden, resp
	case fserrors.KindTransport:
		return http.StatusBadGateway, resp
	default:
		return http.StatusInternalServerError, resp
	}
}
