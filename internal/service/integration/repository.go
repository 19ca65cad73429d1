package integration

import (
	"context"
	"errors"

	"visitor-relay/internal/database"
	"visitor-relay/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	ErrNotFound = errors.New("integration repository: not found")
	ErrConflict = errors.New("integration repository: api key already exists")
)

type Repository interface {
	CreateIntegration(ctx context.Context, item model.TenantIntegrationItem) error
	// GetIntegration returns the integration for apiKey whatever its status.
	GetIntegration(ctx context.Context, apiKey string) (model.TenantIntegrationItem, error)
	ListByTenant(ctx context.Context, tenantID string) ([]model.TenantIntegrationItem, error)
	SetStatus(ctx context.Context, apiKey, status, updatedAt string) error
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
}

func (r *DynamoRepository) CreateIntegration(ctx context.Context, item model.TenantIntegrationItem) error {
	err := r.db.Client.PutItem(ctx, model.TenantIntegrationsTable, item, &database.Condition{
		Expression: "attribute_not_exists(apiKey)",
	})
	if errors.Is(err, database.ErrConditionFailed) {
		return ErrConflict
	}
	return err
}

func (r *DynamoRepository) GetIntegration(ctx context.Context, apiKey string) (model.TenantIntegrationItem, error) {
	var item model.TenantIntegrationItem
	err := r.db.Client.GetItem(
		ctx,
		model.TenantIntegrationsTable,
		map[string]types.AttributeValue{
			"apiKey": &types.AttributeValueMemberS{Value: apiKey},
		},
		&item,
	)
	if err != nil {
		if errors.Is(err, database.ErrItemNotFound) {
			return model.TenantIntegrationItem{}, ErrNotFound
		}
		return model.TenantIntegrationItem{}, err
	}
	return item, nil
}

func (r *DynamoRepository) ListByTenant(ctx context.Context, tenantID string) ([]model.TenantIntegrationItem, error) {
	items, err := r.db.Client.QueryItemsWithFilter(
		ctx,
		model.TenantIntegrationsTable,
		aws.String(model.TenantIntegrationsTenantIndex),
		"tenantId = :tenantId",
		nil,
		map[string]types.AttributeValue{
			":tenantId": &types.AttributeValueMemberS{Value: tenantID},
		},
		nil,
	)
	if err != nil {
		return nil, err
	}

	integrations := make([]model.TenantIntegrationItem, 0, len(items))
	for _, raw := range items {
		var item model.TenantIntegrationItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, err
		}
		integrations = append(integrations, item)
	}
	return integrations, nil
}

func (r *DynamoRepository) SetStatus(ctx context.Context, apiKey, status, updatedAt string) error {
	err := r.db.Client.UpdateItem(
		ctx,
		model.TenantIntegrationsTable,
		map[string]types.AttributeValue{
			"apiKey": &types.AttributeValueMemberS{Value: apiKey},
		},
		"SET #status = :status, updatedAt = :updatedAt",
		map[string]types.AttributeValue{
			":status":    &types.AttributeValueMemberS{Value: status},
			":updatedAt": &types.AttributeValueMemberS{Value: updatedAt},
		},
		map[string]string{
			"#status": "status",
		},
		aws.String("attribute_exists(apiKey)"),
		nil,
	)
	if errors.Is(err, database.ErrConditionFailed) {
		return ErrNotFound
	}
	return err
}
