package dto

// TrackRequest is the body the widget posts for every tracking event. It is
// also accepted as text/plain so navigator.sendBeacon can deliver it.
type TrackRequest struct {
	APIKey           string `json:"apiKey,omitempty"`
	VisitorID        string `json:"visitorId"`
	Type             string `json:"type"`
	URL              string `json:"url,omitempty"`
	Title            string `json:"title,omitempty"`
	Referrer         string `json:"referrer,omitempty"`
	Reason           string `json:"reason,omitempty"`
	Hidden           bool   `json:"hidden,omitempty"`
	DurationMs       int64  `json:"durationMs,omitempty"`
	SessionStartedAt int64  `json:"sessionStartedAt,omitempty"`
	Timestamp        int64  `json:"timestamp,omitempty"`
}

type TrackResponse struct {
	Status        string `json:"status"`
	EventID       string `json:"eventId,omitempty"`
	ThreadID      int64  `json:"threadId,omitempty"`
	NewVisitor    bool   `json:"newVisitor,omitempty"`
	SessionStatus string `json:"sessionStatus,omitempty"`
	Notified      bool   `json:"notified"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
