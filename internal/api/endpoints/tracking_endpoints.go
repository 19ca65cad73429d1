package endpoints

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"visitor-relay/internal/dto"
	"visitor-relay/internal/model"
	"visitor-relay/internal/service/tracking"
	"visitor-relay/utils"
)

const maxTrackBodyBytes = 16 << 10

type Tracker interface {
	Track(ctx context.Context, ev tracking.Event) (tracking.TrackResult, error)
}

type TrackingEndpoints interface {
	Track(http.ResponseWriter, *http.Request) error
}

type trackingEndpoints struct {
	service Tracker
}

func NewTrackingEndpoints(service Tracker) TrackingEndpoints {
	return &trackingEndpoints{
		service: service,
	}
}

func (h *trackingEndpoints) Track(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: h.handleTrack,
	})
}

func (h *trackingEndpoints) handleTrack(w http.ResponseWriter, r *http.Request) error {
	// sendBeacon posts text/plain, so the body is decoded as JSON whatever
	// the declared content type.
	r.Body = http.MaxBytesReader(w, r.Body, maxTrackBodyBytes)

	var req dto.TrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &HTTPError{
				StatusCode: http.StatusRequestEntityTooLarge,
				Message:    "Request body too large",
				ErrorLog:   fmt.Errorf("decode track request: %w", err),
			}
		}
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode track request: %w", err),
		}
	}

	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(r.Header.Get("X-Tenant-Key"))
	}
	if apiKey == "" {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "apiKey is required",
		}
	}

	result, err := h.service.Track(r.Context(), trackingEvent(apiKey, req, r))
	if err != nil {
		return mapTrackingServiceError(w, err)
	}

	if result.Status == tracking.StatusThrottled {
		return WriteJSON(w, http.StatusOK, dto.TrackResponse{Status: string(result.Status)})
	}

	return WriteJSON(w, http.StatusAccepted, dto.TrackResponse{
		Status:        string(result.Status),
		EventID:       result.EventID,
		ThreadID:      result.ThreadID,
		NewVisitor:    result.Created,
		SessionStatus: string(result.SessionStatus),
		Notified:      result.Notified,
	})
}

func trackingEvent(apiKey string, req dto.TrackRequest, r *http.Request) tracking.Event {
	ev := tracking.Event{
		APIKey:    apiKey,
		VisitorID: strings.TrimSpace(req.VisitorID),
		Type:      model.EventType(req.Type),
		URL:       strings.TrimSpace(req.URL),
		Title:     req.Title,
		Referrer:  req.Referrer,
		Reason:    req.Reason,
		Visible:   !req.Hidden,
		Duration:  time.Duration(req.DurationMs) * time.Millisecond,
		ClientIP:  utils.RealClientIP(r),
		UserAgent: r.UserAgent(),
	}
	if req.SessionStartedAt > 0 {
		ev.SessionStartedAt = time.UnixMilli(req.SessionStartedAt).UTC()
	}
	if req.Timestamp > 0 {
		ev.ClientTime = time.UnixMilli(req.Timestamp).UTC()
	}
	return ev
}

func mapTrackingServiceError(w http.ResponseWriter, err error) error {
	var svcErr *tracking.Error
	if !errors.As(err, &svcErr) {
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   fmt.Errorf("tracking service: %w", err),
		}
	}

	var errorLog error
	if svcErr.Err != nil {
		errorLog = fmt.Errorf("%s: %w", svcErr.Message, svcErr.Err)
	}

	if svcErr.Retryable() {
		w.Header().Set("Retry-After", "1")
	}

	switch svcErr.Code {
	case tracking.ErrorCodeValidation:
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    svcErr.Message,
			ErrorLog:   errorLog,
		}
	case tracking.ErrorCodeNotFound:
		return &HTTPError{
			StatusCode: http.StatusNotFound,
			Message:    svcErr.Message,
			ErrorLog:   errorLog,
		}
	case tracking.ErrorCodeStoreUnavailable:
		return &HTTPError{
			StatusCode: http.StatusServiceUnavailable,
			Message:    "Service temporarily unavailable",
			ErrorLog:   fmt.Errorf("%s: %w", svcErr.Message, err),
		}
	case tracking.ErrorCodeThreadCreationFailed, tracking.ErrorCodeDispatchFailed:
		return &HTTPError{
			StatusCode: http.StatusBadGateway,
			Message:    svcErr.Message,
			ErrorLog:   fmt.Errorf("%s: %w", svcErr.Message, err),
		}
	default:
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   fmt.Errorf("tracking service: %w", err),
		}
	}
}
