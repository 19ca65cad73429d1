package router

import (
	"net/http"

	"visitor-relay/internal/api"
	"visitor-relay/internal/api/endpoints"
)

func ActivityWebsocketRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		var index endpoints.TenantKeyIndex
		if s.KeyIndex() != nil {
			index = s.KeyIndex()
		}
		activityEndpoints := endpoints.NewActivityEndpoints(index, s.Configs(), s.Handler())

		mux.HandleFunc(prefix+"/activity", s.MakeStreamHandleFunc(activityEndpoints.Activity))
	}
}
