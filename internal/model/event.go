package model

type EventType string

const (
	EventPageView     EventType = "page_view"
	EventTabSwitch    EventType = "tab_switch"
	EventSessionStart EventType = "session_start"
	EventSessionEnd   EventType = "session_end"
)

func (t EventType) Valid() bool {
	switch t {
	case EventPageView, EventTabSwitch, EventSessionStart, EventSessionEnd:
		return true
	}
	return false
}

// EventItem is a stored tracking event. EventID is a ULID so events of one
// visitor sort by arrival under the same partition key.
type EventItem struct {
	PK         string    `dynamodbav:"pk"`
	EventID    string    `dynamodbav:"eventId"`
	TenantID   string    `dynamodbav:"tenantId"`
	VisitorID  string    `dynamodbav:"visitorId"`
	Type       EventType `dynamodbav:"type"`
	PageURL    string    `dynamodbav:"pageUrl,omitempty"`
	Path       string    `dynamodbav:"path,omitempty"`
	Title      string    `dynamodbav:"title,omitempty"`
	Referrer   string    `dynamodbav:"referrer,omitempty"`
	Reason     string    `dynamodbav:"reason,omitempty"`
	DurationMs int64     `dynamodbav:"durationMs,omitempty"`
	ClientIP   string    `dynamodbav:"clientIp,omitempty"`
	UserAgent  string    `dynamodbav:"userAgent,omitempty"`
	ClientTime int64     `dynamodbav:"clientTime,omitempty"`
	CreatedAt  string    `dynamodbav:"createdAt"`
}
