package api

import "net/http"

type EndpointDefinition struct {
	Path   string
	Method string
}

func Endpoints() map[string]EndpointDefinition {
	return map[string]EndpointDefinition{
		"submitRun": {
			Path:   "/api/forecast/run",
			Method: http.MethodPost,
		},
		"getStatus": {
			Path:   "/api/forecast/status",
			Method: http.MethodGet,
		},
		"checkAvailability": {
			Path:   "/api/forecast/check-availability",
			Method: http.MethodPost,
		},
		"getRun": {
			Path:   "/api/forecast/runs/{id}",
			Method: http.MethodGet,
		},
		"checkHealth": {
			Path:   "/api/health/job",
			Method: http.MethodGet,
		},
	}
}
