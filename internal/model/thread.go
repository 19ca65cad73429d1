package model

type SessionStatus string

const (
	SessionStatusNone    SessionStatus = ""
	SessionStatusActive  SessionStatus = "active"
	SessionStatusClosed  SessionStatus = "closed"
	SessionStatusTimeout SessionStatus = "timeout"
)

func (s SessionStatus) String() string {
	if s == SessionStatusNone {
		return "none"
	}
	return string(s)
}

type ThreadItem struct {
	PK                string        `dynamodbav:"pk"`
	VisitorID         string        `dynamodbav:"visitorId"`
	TenantID          string        `dynamodbav:"tenantId"`
	ChatID            int64         `dynamodbav:"chatId,omitempty"`
	TopicID           int64         `dynamodbav:"topicId"`
	LastSessionStatus SessionStatus `dynamodbav:"lastSessionStatus,omitempty"`
	SessionStartedAt  int64         `dynamodbav:"sessionStartedAt,omitempty"`
	SessionEndedAt    int64         `dynamodbav:"sessionEndedAt,omitempty"`
	ActiveDurationMs  int64         `dynamodbav:"activeDurationMs,omitempty"`
	PageURL           string        `dynamodbav:"pageUrl,omitempty"`
	CreatedAt         string        `dynamodbav:"createdAt"`
	UpdatedAt         string        `dynamodbav:"updatedAt"`
}

// ThreadClaimItem reserves a (chat, topic) pair for exactly one visitor.
type ThreadClaimItem struct {
	PK        string `dynamodbav:"pk"`
	VisitorID string `dynamodbav:"visitorId"`
	CreatedAt string `dynamodbav:"createdAt"`
}
