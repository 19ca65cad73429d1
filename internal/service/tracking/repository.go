package tracking

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"visitor-relay/internal/database"
	"visitor-relay/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	ErrNotFound = errors.New("tracking repository: not found")
	// ErrDuplicateThread means another writer already owns the mapping or
	// the (chat, topic) claim.
	ErrDuplicateThread = errors.New("tracking repository: duplicate thread mapping")
	// ErrStaleTransition means a session write lost against a newer one.
	ErrStaleTransition = errors.New("tracking repository: stale session transition")
)

type Repository interface {
	// GetIntegration returns the active integration for apiKey; inactive
	// integrations are reported as ErrNotFound.
	GetIntegration(ctx context.Context, apiKey string) (model.TenantIntegrationItem, error)
	GetThread(ctx context.Context, pk string) (model.ThreadItem, error)
	CreateThread(ctx context.Context, thread model.ThreadItem) error
	TouchThread(ctx context.Context, pk, pageURL, updatedAt string) error
	StartSession(ctx context.Context, pk string, startedAt int64, updatedAt string) (model.ThreadItem, error)
	// EndSession with endedAt 0 ends the current session and records the
	// session start as its end stamp.
	EndSession(ctx context.Context, pk string, status model.SessionStatus, endedAt int64, updatedAt string) (model.ThreadItem, error)
	RecordTabSwitch(ctx context.Context, pk string, activeMs int64, updatedAt string) (model.ThreadItem, error)
	CreateEvent(ctx context.Context, event model.EventItem) error
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
}

func (r *DynamoRepository) GetIntegration(ctx context.Context, apiKey string) (model.TenantIntegrationItem, error) {
	items, err := r.db.Client.QueryItemsWithFilter(
		ctx,
		model.TenantIntegrationsTable,
		nil,
		"apiKey = :apiKey",
		aws.String("#status = :active"),
		map[string]types.AttributeValue{
			":apiKey": &types.AttributeValueMemberS{Value: apiKey},
			":active": &types.AttributeValueMemberS{Value: model.IntegrationStatusActive},
		},
		map[string]string{
			"#status": "status",
		},
	)
	if err != nil {
		return model.TenantIntegrationItem{}, err
	}
	if len(items) == 0 {
		return model.TenantIntegrationItem{}, ErrNotFound
	}

	var integration model.TenantIntegrationItem
	if err := attributevalue.UnmarshalMap(items[0], &integration); err != nil {
		return model.TenantIntegrationItem{}, err
	}
	return integration, nil
}

func (r *DynamoRepository) GetThread(ctx context.Context, pk string) (model.ThreadItem, error) {
	var thread model.ThreadItem
	err := r.db.Client.GetItem(
		ctx,
		model.VisitorThreadsTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: pk},
		},
		&thread,
	)
	if err != nil {
		if errors.Is(err, database.ErrItemNotFound) {
			return model.ThreadItem{}, ErrNotFound
		}
		return model.ThreadItem{}, err
	}
	return thread, nil
}

// CreateThread writes the mapping and the (chat, topic) claim in one
// transaction, each guarded by attribute_not_exists(pk).
func (r *DynamoRepository) CreateThread(ctx context.Context, thread model.ThreadItem) error {
	notExists := &database.Condition{Expression: "attribute_not_exists(pk)"}
	claim := model.ThreadClaimItem{
		PK:        model.ThreadClaimPK(thread.ChatID, thread.TopicID),
		VisitorID: thread.VisitorID,
		CreatedAt: thread.CreatedAt,
	}

	err := r.db.Client.TransactPutItems(ctx, []database.ConditionalPut{
		{TableName: model.VisitorThreadsTable, Item: thread, Condition: notExists},
		{TableName: model.ThreadClaimsTable, Item: claim, Condition: notExists},
	})
	if errors.Is(err, database.ErrConditionFailed) {
		return ErrDuplicateThread
	}
	return err
}

func (r *DynamoRepository) TouchThread(ctx context.Context, pk, pageURL, updatedAt string) error {
	updateExpr := "SET #updatedAt = :updatedAt"
	values := map[string]types.AttributeValue{
		":updatedAt": &types.AttributeValueMemberS{Value: updatedAt},
	}
	names := map[string]string{
		"#updatedAt": "updatedAt",
	}
	if pageURL != "" {
		updateExpr += ", #pageUrl = :pageUrl"
		values[":pageUrl"] = &types.AttributeValueMemberS{Value: pageURL}
		names["#pageUrl"] = "pageUrl"
	}

	return r.db.Client.UpdateItem(
		ctx,
		model.VisitorThreadsTable,
		threadKey(pk),
		updateExpr,
		values,
		names,
		aws.String("attribute_exists(pk)"),
		nil,
	)
}

// StartSession marks the mapping active when startedAt is strictly newer than
// both the recorded session start and the last recorded session end.
func (r *DynamoRepository) StartSession(ctx context.Context, pk string, startedAt int64, updatedAt string) (model.ThreadItem, error) {
	var out model.ThreadItem
	err := r.db.Client.UpdateItem(
		ctx,
		model.VisitorThreadsTable,
		threadKey(pk),
		"SET #status = :active, #startedAt = :startedAt, #activeMs = :zero, #updatedAt = :updatedAt",
		map[string]types.AttributeValue{
			":active":    &types.AttributeValueMemberS{Value: string(model.SessionStatusActive)},
			":startedAt": numberValue(startedAt),
			":zero":      numberValue(0),
			":updatedAt": &types.AttributeValueMemberS{Value: updatedAt},
		},
		map[string]string{
			"#status":    "lastSessionStatus",
			"#startedAt": "sessionStartedAt",
			"#endedAt":   "sessionEndedAt",
			"#activeMs":  "activeDurationMs",
			"#updatedAt": "updatedAt",
		},
		aws.String("attribute_exists(pk) AND (attribute_not_exists(#startedAt) OR #startedAt < :startedAt) AND (attribute_not_exists(#endedAt) OR #endedAt < :startedAt)"),
		&out,
	)
	if errors.Is(err, database.ErrConditionFailed) {
		return model.ThreadItem{}, ErrStaleTransition
	}
	return out, err
}

// EndSession records closed or timeout. Stamped ends older than the current
// session start are stale, and a closed end never replaces a recorded timeout.
func (r *DynamoRepository) EndSession(ctx context.Context, pk string, status model.SessionStatus, endedAt int64, updatedAt string) (model.ThreadItem, error) {
	cond := "attribute_exists(pk)"
	update := "SET #status = :status, #endedAt = if_not_exists(#startedAt, :zero), #updatedAt = :updatedAt"
	values := map[string]types.AttributeValue{
		":status":    &types.AttributeValueMemberS{Value: string(status)},
		":updatedAt": &types.AttributeValueMemberS{Value: updatedAt},
	}
	if endedAt > 0 {
		cond += " AND (attribute_not_exists(#startedAt) OR #startedAt <= :endedAt)"
		update = "SET #status = :status, #endedAt = :endedAt, #updatedAt = :updatedAt"
		values[":endedAt"] = numberValue(endedAt)
	} else {
		values[":zero"] = numberValue(0)
	}
	if status == model.SessionStatusClosed {
		cond += " AND (attribute_not_exists(#status) OR #status <> :timeout)"
		values[":timeout"] = &types.AttributeValueMemberS{Value: string(model.SessionStatusTimeout)}
	}

	var out model.ThreadItem
	err := r.db.Client.UpdateItem(
		ctx,
		model.VisitorThreadsTable,
		threadKey(pk),
		update,
		values,
		map[string]string{
			"#status":    "lastSessionStatus",
			"#startedAt": "sessionStartedAt",
			"#endedAt":   "sessionEndedAt",
			"#updatedAt": "updatedAt",
		},
		aws.String(cond),
		&out,
	)
	if errors.Is(err, database.ErrConditionFailed) {
		return model.ThreadItem{}, ErrStaleTransition
	}
	return out, err
}

func (r *DynamoRepository) RecordTabSwitch(ctx context.Context, pk string, activeMs int64, updatedAt string) (model.ThreadItem, error) {
	var out model.ThreadItem
	err := r.db.Client.UpdateItem(
		ctx,
		model.VisitorThreadsTable,
		threadKey(pk),
		"SET #updatedAt = :updatedAt ADD #activeMs :activeMs",
		map[string]types.AttributeValue{
			":activeMs":  numberValue(activeMs),
			":updatedAt": &types.AttributeValueMemberS{Value: updatedAt},
		},
		map[string]string{
			"#activeMs":  "activeDurationMs",
			"#updatedAt": "updatedAt",
		},
		aws.String("attribute_exists(pk)"),
		&out,
	)
	if errors.Is(err, database.ErrConditionFailed) {
		return model.ThreadItem{}, ErrNotFound
	}
	return out, err
}

func (r *DynamoRepository) CreateEvent(ctx context.Context, event model.EventItem) error {
	if err := r.db.Client.PutItem(ctx, model.TrackingEventsTable, event, nil); err != nil {
		return fmt.Errorf("store tracking event: %w", err)
	}
	return nil
}

func threadKey(pk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pk},
	}
}

func numberValue(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}
