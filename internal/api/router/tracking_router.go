package router

import (
	"net/http"

	"visitor-relay/internal/api"
	"visitor-relay/internal/api/endpoints"
)

func TrackingPublicRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		trackingEndpoints := endpoints.NewTrackingEndpoints(s.Tracking())

		mux.HandleFunc(prefix+"/track", s.MakeHTTPHandleFunc(trackingEndpoints.Track))
	}
}
