package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imyashkale/hera/internal/logger"
	"github.com/imyashkale/hera/internal/models"
)

// DeploymentOperations handles all DynamoDB operations for deployments
type DeploymentOperations struct {
	client    *Client
	tableName string
}

// NewDeploymentOperations creates a new DeploymentOperations instance
func NewDeploymentOperations(client *Client) *DeploymentOperations {
	return &DeploymentOperations{
		client:    client,
		tableName: client.DeploymentsTable,
	}
}

// deploymentItem is the stored shape of a deployment. Times are Unix milliseconds.
type deploymentItem struct {
	ID             string                        `dynamodbav:"ID"`
	OrganizationID string                        `dynamodbav:"OrganizationID"`
	Name           string                        `dynamodbav:"Name"`
	Status         string                        `dynamodbav:"Status"`
	Config         models.DeploymentConfig       `dynamodbav:"Config"`
	URL            string                        `dynamodbav:"URL"`
	Region         string                        `dynamodbav:"Region"`
	ClaimID        string                        `dynamodbav:"ClaimID"`
	CertificateID  string                        `dynamodbav:"CertificateID"`
	AnalyticsID    string                        `dynamodbav:"AnalyticsID"`
	Steps          map[string]*models.StepStatus `dynamodbav:"Steps"`
	Logs           []models.ProvisionLogEntry    `dynamodbav:"Logs"`
	Error          string                        `dynamodbav:"Error"`
	CreatedAt      int64                         `dynamodbav:"CreatedAt"`
	UpdatedAt      int64                         `dynamodbav:"UpdatedAt"`
	DeployedAt     int64                         `dynamodbav:"DeployedAt,omitempty"`
}

func toDeploymentItem(d *models.Deployment) deploymentItem {
	item := deploymentItem{
		ID:             d.ID,
		OrganizationID: d.OrganizationID,
		Name:           d.Name,
		Status:         string(d.Status),
		Config:         d.Config,
		URL:            d.URL,
		Region:         d.Region,
		ClaimID:        d.ClaimID,
		CertificateID:  d.CertificateID,
		AnalyticsID:    d.AnalyticsID,
		Steps:          d.Steps,
		Logs:           d.Logs,
		Error:          d.Error,
		CreatedAt:      d.CreatedAt.UnixMilli(),
		UpdatedAt:      d.UpdatedAt.UnixMilli(),
	}
	if d.DeployedAt != nil {
		item.DeployedAt = d.DeployedAt.UnixMilli()
	}
	return item
}

func (item deploymentItem) toModel() *models.Deployment {
	d := &models.Deployment{
		ID:             item.ID,
		OrganizationID: item.OrganizationID,
		Name:           item.Name,
		Status:         models.DeploymentStatus(item.Status),
		Config:         item.Config,
		URL:            item.URL,
		Region:         item.Region,
		ClaimID:        item.ClaimID,
		CertificateID:  item.CertificateID,
		AnalyticsID:    item.AnalyticsID,
		Steps:          item.Steps,
		Logs:           item.Logs,
		Error:          item.Error,
		CreatedAt:      time.UnixMilli(item.CreatedAt).UTC(),
		UpdatedAt:      time.UnixMilli(item.UpdatedAt).UTC(),
	}
	if item.DeployedAt != 0 {
		t := time.UnixMilli(item.DeployedAt).UTC()
		d.DeployedAt = &t
	}
	return d
}

// Create stores a new deployment; an existing ID is ErrAlreadyExists
func (do *DeploymentOperations) Create(ctx context.Context, deployment *models.Deployment) error {
	logger.WithFields(map[string]interface{}{
		"deployment_id":   deployment.ID,
		"organization_id": deployment.OrganizationID,
	}).Debug("Creating deployment in DynamoDB")

	av, err := attributevalue.MarshalMap(toDeploymentItem(deployment))
	if err != nil {
		return fmt.Errorf("failed to marshal deployment: %w", err)
	}

	_, err = do.client.DynamoDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(do.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(ID)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("deployment %q: %w", deployment.ID, ErrAlreadyExists)
		}
		logger.WithFields(map[string]interface{}{
			"deployment_id": deployment.ID,
			"error":         err.Error(),
		}).Error("Failed to create deployment in DynamoDB")
		return fmt.Errorf("failed to create deployment: %w", err)
	}

	logger.WithField("deployment_id", deployment.ID).Info("Deployment created successfully in DynamoDB")
	return nil
}

// Get retrieves a deployment by ID
func (do *DeploymentOperations) Get(ctx context.Context, id string) (*models.Deployment, error) {
	result, err := do.client.DynamoDB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(do.tableName),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"deployment_id": id,
			"error":         err.Error(),
		}).Error("Failed to get deployment from DynamoDB")
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}
	if result.Item == nil {
		return nil, fmt.Errorf("deployment %q: %w", id, ErrNotFound)
	}

	var item deploymentItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deployment: %w", err)
	}
	return item.toModel(), nil
}

// ListByOrganization returns the organization's deployments, oldest first
func (do *DeploymentOperations) ListByOrganization(ctx context.Context, organizationID string) ([]*models.Deployment, error) {
	return do.scan(ctx, "OrganizationID = :org", map[string]types.AttributeValue{
		":org": &types.AttributeValueMemberS{Value: organizationID},
	})
}

// ListByStatus returns every deployment in status, oldest first
func (do *DeploymentOperations) ListByStatus(ctx context.Context, status models.DeploymentStatus) ([]*models.Deployment, error) {
	return do.scan(ctx, "#status = :status", map[string]types.AttributeValue{
		":status": &types.AttributeValueMemberS{Value: string(status)},
	}, "#status", "Status")
}

// scan runs a filtered scan over every page. names are "#placeholder", "Attribute" pairs.
func (do *DeploymentOperations) scan(ctx context.Context, filter string, values map[string]types.AttributeValue, names ...string) ([]*models.Deployment, error) {
	input := &dynamodb.ScanInput{
		TableName:                 aws.String(do.tableName),
		FilterExpression:          aws.String(filter),
		ExpressionAttributeValues: values,
		ConsistentRead:            aws.Bool(true),
	}
	if len(names) > 0 {
		input.ExpressionAttributeNames = map[string]string{}
		for i := 0; i+1 < len(names); i += 2 {
			input.ExpressionAttributeNames[names[i]] = names[i+1]
		}
	}

	deployments := []*models.Deployment{}
	paginator := dynamodb.NewScanPaginator(do.client.DynamoDB, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployments: %w", err)
		}
		var items []deploymentItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal deployment: %w", err)
		}
		for _, item := range items {
			deployments = append(deployments, item.toModel())
		}
	}

	sort.Slice(deployments, func(i, j int) bool {
		if deployments[i].CreatedAt.Equal(deployments[j].CreatedAt) {
			return deployments[i].ID < deployments[j].ID
		}
		return deployments[i].CreatedAt.Before(deployments[j].CreatedAt)
	})
	return deployments, nil
}

// Update overwrites the mutable fields of an existing deployment
func (do *DeploymentOperations) Update(ctx context.Context, deployment *models.Deployment) error {
	logger.WithFields(map[string]interface{}{
		"deployment_id": deployment.ID,
		"status":        deployment.Status,
	}).Debug("Updating deployment in DynamoDB")

	item := toDeploymentItem(deployment)
	updateExpr := "SET #name = :name, #status = :status, #config = :config, #url = :url, #region = :region, " +
		"ClaimID = :claim, CertificateID = :cert, AnalyticsID = :analytics, " +
		"#steps = :steps, #logs = :logs, #error = :error, UpdatedAt = :updated_at"
	exprAttrNames := map[string]string{
		"#name":   "Name",
		"#status": "Status",
		"#config": "Config",
		"#url":    "URL",
		"#region": "Region",
		"#steps":  "Steps",
		"#logs":   "Logs",
		"#error":  "Error",
	}

	configAv, err := attributevalue.Marshal(item.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	stepsAv, err := attributevalue.Marshal(item.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}
	logsAv, err := attributevalue.Marshal(item.Logs)
	if err != nil {
		return fmt.Errorf("failed to marshal logs: %w", err)
	}

	exprAttrVals := map[string]types.AttributeValue{
		":name":       &types.AttributeValueMemberS{Value: item.Name},
		":status":     &types.AttributeValueMemberS{Value: item.Status},
		":config":     configAv,
		":url":        &types.AttributeValueMemberS{Value: item.URL},
		":region":     &types.AttributeValueMemberS{Value: item.Region},
		":claim":      &types.AttributeValueMemberS{Value: item.ClaimID},
		":cert":       &types.AttributeValueMemberS{Value: item.CertificateID},
		":analytics":  &types.AttributeValueMemberS{Value: item.AnalyticsID},
		":steps":      stepsAv,
		":logs":       logsAv,
		":error":      &types.AttributeValueMemberS{Value: item.Error},
		":updated_at": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", item.UpdatedAt)},
	}
	if item.DeployedAt != 0 {
		updateExpr += ", DeployedAt = :deployed_at"
		exprAttrVals[":deployed_at"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", item.DeployedAt)}
	} else {
		updateExpr += " REMOVE DeployedAt"
	}

	_, err = do.client.DynamoDB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(do.tableName),
		Key:                       idKey(deployment.ID),
		UpdateExpression:          aws.String(updateExpr),
		ExpressionAttributeNames:  exprAttrNames,
		ExpressionAttributeValues: exprAttrVals,
		ConditionExpression:       aws.String("attribute_exists(ID)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			logger.WithField("deployment_id", deployment.ID).Warn("Deployment not found during update")
			return fmt.Errorf("deployment %q: %w", deployment.ID, ErrNotFound)
		}
		logger.WithFields(map[string]interface{}{
			"deployment_id": deployment.ID,
			"error":         err.Error(),
		}).Error("Failed to update deployment in DynamoDB")
		return fmt.Errorf("failed to update deployment: %w", err)
	}

	return nil
}

// Delete removes a deployment record
func (do *DeploymentOperations) Delete(ctx context.Context, id string) error {
	_, err := do.client.DynamoDB.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(do.tableName),
		Key:                 idKey(id),
		ConditionExpression: aws.String("attribute_exists(ID)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("deployment %q: %w", id, ErrNotFound)
		}
		return fmt.Errorf("failed to delete deployment: %w", err)
	}

	logger.WithField("deployment_id", id).Info("Deployment deleted from DynamoDB")
	return nil
}

func idKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"ID": &types.AttributeValueMemberS{Value: id},
	}
}
