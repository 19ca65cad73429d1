package endpoints

import (
	"context"
	"net/http"
	"strings"

	"visitor-relay/internal/service/tracking"

	"github.com/google/uuid"
)

type TenantKeyIndex interface {
	Lookup(ctx context.Context, apiKey string) (string, error)
}

type TenantConfigs interface {
	Resolve(ctx context.Context, apiKey string) (tracking.TenantConfig, error)
}

type RoomJoiner interface {
	JoinRoom(w http.ResponseWriter, r *http.Request, roomID, clientID string)
}

type ActivityEndpoints interface {
	Activity(http.ResponseWriter, *http.Request) error
}

type activityEndpoints struct {
	index   TenantKeyIndex
	configs TenantConfigs
	rooms   RoomJoiner
}

// NewActivityEndpoints serves the live activity feed. index may be nil, in
// which case every connection resolves its tenant through configs.
func NewActivityEndpoints(index TenantKeyIndex, configs TenantConfigs, rooms RoomJoiner) ActivityEndpoints {
	return &activityEndpoints{
		index:   index,
		configs: configs,
		rooms:   rooms,
	}
}

func (h *activityEndpoints) Activity(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet: h.handleActivity,
	})
}

func (h *activityEndpoints) handleActivity(w http.ResponseWriter, r *http.Request) error {
	apiKey := strings.TrimSpace(r.URL.Query().Get("tenantKey"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(r.Header.Get("X-Tenant-Key"))
	}
	if apiKey == "" {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "tenantKey is required",
		}
	}

	tenantID, err := h.tenantID(r.Context(), apiKey)
	if err != nil {
		return mapTrackingServiceError(w, err)
	}

	h.rooms.JoinRoom(w, r, tracking.ActivityRoomID(tenantID), uuid.NewString())
	return nil
}

func (h *activityEndpoints) tenantID(ctx context.Context, apiKey string) (string, error) {
	if h.index != nil {
		if tenantID, err := h.index.Lookup(ctx, apiKey); err == nil && tenantID != "" {
			return tenantID, nil
		}
	}
	cfg, err := h.configs.Resolve(ctx, apiKey)
	if err != nil {
		return "", err
	}
	return cfg.TenantID, nil
}
