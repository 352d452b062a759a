// Package httpx provides HTTP request/response handling utilities for the
// relay's JSON endpoints. It includes support for JSON responses, error
// handling, and request parsing. Streaming routes (proxy passthrough, bundle
// download) write to the ResponseWriter directly and use only the error
// helpers from this package.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/gantryhq/gantry/internal/common/apperrors"
	"github.com/rs/zerolog/log"
)

// GetRequestData parses JSON request body into the provided data structure.
// Only supports POST and PUT methods. Returns error if request body is empty
// or cannot be parsed.
func GetRequestData(r *http.Request, data any) error {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		return ErrReqMethodNotSupported()
	}
	if r.Body == nil {
		log.Ctx(r.Context()).Error().Msg("Empty request body")
		return ErrUnableToParseReqData()
	}
	if err := json.NewDecoder(r.Body).Decode(data); err != nil {
		return ErrUnableToParseReqData()
	}
	return nil
}

// Response represents an HTTP response with configurable status code and
// content type. Response holds either a struct to marshal (JSON) or the raw
// body for text content types.
type Response struct {
	StatusCode  int
	Location    string
	Response    any
	ContentType string
}

// RequestHandler defines a function type for handling HTTP requests.
type RequestHandler func(r *http.Request) (*Response, error)

// WrapHttpRsp wraps a RequestHandler to provide standardized HTTP response
// handling. Errors of type apperrors.Error map onto their carried status
// code; anything else becomes a generic application error.
func WrapHttpRsp(handler RequestHandler) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rsp, err := handler(r)
		if err != nil {
			if httperror, ok := err.(*Error); ok {
				httperror.Send(w)
			} else if appErr, ok := err.(apperrors.Error); ok {
				statusCode := appErr.StatusCode()
				if statusCode == 0 {
					statusCode = http.StatusInternalServerError
				}
				httperror := &Error{
					StatusCode:  statusCode,
					Description: appErr.ErrorAll(),
				}
				httperror.Send(w)
			} else {
				ErrApplicationError(err.Error()).Send(w)
			}
			return
		}
		if rsp == nil {
			ErrApplicationError().Send(w)
			return
		}

		if rsp.ContentType == "" {
			rsp.ContentType = "application/json"
		}
		var location []string
		if rsp.Location != "" {
			location = append(location, rsp.Location)
		}
		if rsp.ContentType == "application/json" {
			SendJsonRsp(r.Context(), w, rsp.StatusCode, rsp.Response, location...)
			return
		}
		// text content types (text/plain, text/x-shellscript) carry the body
		// as a string or byte slice
		var body []byte
		switch v := rsp.Response.(type) {
		case string:
			body = []byte(v)
		case []byte:
			body = v
		default:
			ErrApplicationError("unsupported response type").Send(w)
			return
		}
		w.Header().Set("Content-Type", rsp.ContentType)
		if rsp.StatusCode == http.StatusCreated && len(location) > 0 {
			w.Header().Set("Location", location[0])
		}
		w.WriteHeader(rsp.StatusCode)
		w.Write(body)
	})
}
