package model

import (
	"fmt"
	"strconv"
)

const (
	TenantIntegrationsTable = "TenantIntegrations"
	VisitorThreadsTable     = "VisitorThreads"
	ThreadClaimsTable       = "ThreadClaims"
	TrackingEventsTable     = "TrackingEvents"
)

// TenantIntegrationsTenantIndex is a GSI on tenantId for listing a tenant's
// integrations.
const TenantIntegrationsTenantIndex = "tenantId-index"

const (
	IntegrationStatusActive  = "active"
	IntegrationStatusRevoked = "revoked"
)

type TenantIntegrationItem struct {
	APIKey    string `dynamodbav:"apiKey"`
	TenantID  string `dynamodbav:"tenantId"`
	Status    string `dynamodbav:"status"`
	ChatID    int64  `dynamodbav:"chatId"`
	BotToken  string `dynamodbav:"botToken"`
	CreatedAt string `dynamodbav:"createdAt"`
	UpdatedAt string `dynamodbav:"updatedAt,omitempty"`
}

func TenantScopedPK(tenantID, entityID string) string {
	return fmt.Sprintf("%s#%s", tenantID, entityID)
}

// ThreadPK keys a visitor mapping by destination chat. Legacy rows written
// before chats were scoped use chatID 0 and end with a bare "#".
func ThreadPK(visitorID string, chatID int64) string {
	if chatID == 0 {
		return visitorID + "#"
	}
	return visitorID + "#" + strconv.FormatInt(chatID, 10)
}

func ThreadClaimPK(chatID, topicID int64) string {
	return fmt.Sprintf("%d#%d", chatID, topicID)
}
