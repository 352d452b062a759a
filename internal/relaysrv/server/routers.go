package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gantryhq/gantry/internal/common/httpx"
)

// ResponseHandlerParam defines the configuration for HTTP route handlers.
// Contains HTTP method, path, and handler function for route registration.
type ResponseHandlerParam struct {
	Method  string               // HTTP method (GET, POST, etc.)
	Path    string               // URL path pattern
	Handler httpx.RequestHandler // request handler function
}

// mountAuthHandlers registers the device-flow endpoints on the router.
func (s *RelayServer) mountAuthHandlers(r chi.Router) {
	authHandlers := []ResponseHandlerParam{
		{
			Method:  http.MethodPost,
			Path:    "/device",
			Handler: s.startDeviceFlow,
		},
		{
			Method:  http.MethodPost,
			Path:    "/poll",
			Handler: s.pollDeviceFlow,
		},
		{
			Method:  http.MethodGet,
			Path:    "/status",
			Handler: s.getAuthStatus,
		},
	}

	for _, handler := range authHandlers {
		r.Method(handler.Method, handler.Path, httpx.WrapHttpRsp(handler.Handler))
	}
}
