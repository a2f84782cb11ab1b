package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imyashkale/hera/internal/logger"
	"github.com/imyashkale/hera/internal/models"
)

// Item types sharing the claims table. A hostname item guards the
// (domain, subdomain) tuple and points at the claim holding it.
const (
	itemTypeClaim    = "claim"
	itemTypeHostname = "hostname"
)

// ClaimOperations handles all DynamoDB operations for domain claims
type ClaimOperations struct {
	client    *Client
	tableName string
}

// NewClaimOperations creates a new ClaimOperations instance
func NewClaimOperations(client *Client) *ClaimOperations {
	return &ClaimOperations{
		client:    client,
		tableName: client.ClaimsTable,
	}
}

type claimItem struct {
	ID                 string             `dynamodbav:"ID"`
	ItemType           string             `dynamodbav:"ItemType"`
	OrganizationID     string             `dynamodbav:"OrganizationID"`
	Domain             string             `dynamodbav:"Domain"`
	Subdomain          string             `dynamodbav:"Subdomain"`
	Token              string             `dynamodbav:"Token"`
	Records            []models.DNSRecord `dynamodbav:"Records"`
	VerificationStatus string             `dynamodbav:"VerificationStatus"`
	SSLStatus          string             `dynamodbav:"SSLStatus"`
	CertificateID      string             `dynamodbav:"CertificateID"`
	DeploymentID       string             `dynamodbav:"DeploymentID"`
	CreatedAt          int64              `dynamodbav:"CreatedAt"`
	UpdatedAt          int64              `dynamodbav:"UpdatedAt"`
	VerifiedAt         int64              `dynamodbav:"VerifiedAt,omitempty"`
	ExpiresAt          int64              `dynamodbav:"ExpiresAt"`
}

type hostnameItem struct {
	ID        string `dynamodbav:"ID"`
	ItemType  string `dynamodbav:"ItemType"`
	ClaimID   string `dynamodbav:"ClaimID"`
	State     string `dynamodbav:"State"`
	ExpiresAt int64  `dynamodbav:"ExpiresAt"`
}

func hostnameID(domain, subdomain string) string {
	return itemTypeHostname + "#" + domain + "#" + subdomain
}

// live reports whether the hostname is still held at now
func (h hostnameItem) live(now time.Time) bool {
	switch models.VerificationStatus(h.State) {
	case models.VerificationExpired:
		return false
	case models.VerificationPending:
		return h.ExpiresAt > now.UnixMilli()
	default:
		return true
	}
}

func toClaimItem(c *models.DomainClaim) claimItem {
	item := claimItem{
		ID:                 c.ID,
		ItemType:           itemTypeClaim,
		OrganizationID:     c.OrganizationID,
		Domain:             c.Domain,
		Subdomain:          c.Subdomain,
		Token:              c.Token,
		Records:            c.Records,
		VerificationStatus: string(c.VerificationStatus),
		SSLStatus:          string(c.SSLStatus),
		CertificateID:      c.CertificateID,
		DeploymentID:       c.DeploymentID,
		CreatedAt:          c.CreatedAt.UnixMilli(),
		UpdatedAt:          c.UpdatedAt.UnixMilli(),
		ExpiresAt:          c.ExpiresAt.UnixMilli(),
	}
	if c.VerifiedAt != nil {
		item.VerifiedAt = c.VerifiedAt.UnixMilli()
	}
	return item
}

func (item claimItem) toModel() *models.DomainClaim {
	c := &models.DomainClaim{
		ID:                 item.ID,
		OrganizationID:     item.OrganizationID,
		Domain:             item.Domain,
		Subdomain:          item.Subdomain,
		Token:              item.Token,
		Records:            item.Records,
		VerificationStatus: models.VerificationStatus(item.VerificationStatus),
		SSLStatus:          models.SSLStatus(item.SSLStatus),
		CertificateID:      item.CertificateID,
		DeploymentID:       item.DeploymentID,
		CreatedAt:          time.UnixMilli(item.CreatedAt).UTC(),
		UpdatedAt:          time.UnixMilli(item.UpdatedAt).UTC(),
		ExpiresAt:          time.UnixMilli(item.ExpiresAt).UTC(),
	}
	if item.VerifiedAt != 0 {
		t := time.UnixMilli(item.VerifiedAt).UTC()
		c.VerifiedAt = &t
	}
	return c
}

func millis(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UnixMilli(), 10)}
}

func str(s string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s}
}

// Create stores a claim and takes its hostname in one transaction. A
// hostname held by an expired or lapsed claim is taken over and the old
// claim removed.
func (co *ClaimOperations) Create(ctx context.Context, claim *models.DomainClaim) error {
	hostKey := hostnameID(claim.Domain, claim.Subdomain)
	log := logger.WithFields(map[string]interface{}{
		"claim_id": claim.ID,
		"hostname": claim.Hostname(),
	})

	claimAv, err := attributevalue.MarshalMap(toClaimItem(claim))
	if err != nil {
		return fmt.Errorf("failed to marshal claim: %w", err)
	}
	hostAv, err := attributevalue.MarshalMap(hostnameItem{
		ID:        hostKey,
		ItemType:  itemTypeHostname,
		ClaimID:   claim.ID,
		State:     string(claim.VerificationStatus),
		ExpiresAt: claim.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal hostname: %w", err)
	}

	existing, err := co.getHostname(ctx, hostKey)
	if err != nil {
		return err
	}

	var items []types.TransactWriteItem
	if existing == nil {
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName:           aws.String(co.tableName),
			Item:                hostAv,
			ConditionExpression: aws.String("attribute_not_exists(ID)"),
		}})
	} else {
		if existing.live(claim.CreatedAt) {
			return fmt.Errorf("claim for %q: %w", claim.Hostname(), ErrAlreadyExists)
		}
		items = append(items,
			types.TransactWriteItem{Put: &types.Put{
				TableName: aws.String(co.tableName),
				Item:      hostAv,
				ConditionExpression: aws.String(
					"ClaimID = :old AND (#state = :expired OR (#state = :pending AND ExpiresAt <= :now))"),
				ExpressionAttributeNames: map[string]string{"#state": "State"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":old":     str(existing.ClaimID),
					":expired": str(string(models.VerificationExpired)),
					":pending": str(string(models.VerificationPending)),
					":now":     millis(claim.CreatedAt),
				},
			}},
			types.TransactWriteItem{Delete: &types.Delete{
				TableName: aws.String(co.tableName),
				Key:       idKey(existing.ClaimID),
			}},
		)
	}
	items = append(items, types.TransactWriteItem{Put: &types.Put{
		TableName:           aws.String(co.tableName),
		Item:                claimAv,
		ConditionExpression: aws.String("attribute_not_exists(ID)"),
	}})

	_, err = co.client.DynamoDB.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		if conditionFailed(err) {
			return fmt.Errorf("claim for %q: %w", claim.Hostname(), ErrAlreadyExists)
		}
		log.WithField("error", err.Error()).Error("Failed to create claim in DynamoDB")
		return fmt.Errorf("failed to create claim: %w", err)
	}

	if existing != nil {
		log.WithField("replaced_claim_id", existing.ClaimID).Info("Replaced expired domain claim")
	}
	log.Info("Domain claim created in DynamoDB")
	return nil
}

func (co *ClaimOperations) getHostname(ctx context.Context, key string) (*hostnameItem, error) {
	result, err := co.client.DynamoDB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(co.tableName),
		Key:            idKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get hostname: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}
	var h hostnameItem
	if err := attributevalue.UnmarshalMap(result.Item, &h); err != nil {
		return nil, fmt.Errorf("failed to unmarshal hostname: %w", err)
	}
	return &h, nil
}

// Get retrieves a claim by ID
func (co *ClaimOperations) Get(ctx context.Context, id string) (*models.DomainClaim, error) {
	result, err := co.client.DynamoDB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(co.tableName),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"claim_id": id,
			"error":    err.Error(),
		}).Error("Failed to get claim from DynamoDB")
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	if result.Item == nil {
		return nil, fmt.Errorf("claim %q: %w", id, ErrNotFound)
	}

	var item claimItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal claim: %w", err)
	}
	if item.ItemType != itemTypeClaim {
		return nil, fmt.Errorf("claim %q: %w", id, ErrNotFound)
	}
	return item.toModel(), nil
}

// FindByHostname returns the claim currently holding (domain, subdomain)
func (co *ClaimOperations) FindByHostname(ctx context.Context, domain, subdomain string) (*models.DomainClaim, error) {
	h, err := co.getHostname(ctx, hostnameID(domain, subdomain))
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("claim for %q/%q: %w", domain, subdomain, ErrNotFound)
	}
	return co.Get(ctx, h.ClaimID)
}

// ListByOrganization returns the organization's claims, oldest first
func (co *ClaimOperations) ListByOrganization(ctx context.Context, organizationID string) ([]*models.DomainClaim, error) {
	return co.scan(ctx, "ItemType = :type AND OrganizationID = :org", map[string]types.AttributeValue{
		":type": str(itemTypeClaim),
		":org":  str(organizationID),
	})
}

// ListByVerificationStatus returns every claim in status, oldest first
func (co *ClaimOperations) ListByVerificationStatus(ctx context.Context, status models.VerificationStatus) ([]*models.DomainClaim, error) {
	return co.scan(ctx, "ItemType = :type AND VerificationStatus = :status", map[string]types.AttributeValue{
		":type":   str(itemTypeClaim),
		":status": str(string(status)),
	})
}

func (co *ClaimOperations) scan(ctx context.Context, filter string, values map[string]types.AttributeValue) ([]*models.DomainClaim, error) {
	claims := []*models.DomainClaim{}
	paginator := dynamodb.NewScanPaginator(co.client.DynamoDB, &dynamodb.ScanInput{
		TableName:                 aws.String(co.tableName),
		FilterExpression:          aws.String(filter),
		ExpressionAttributeValues: values,
		ConsistentRead:            aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claims: %w", err)
		}
		var items []claimItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal claim: %w", err)
		}
		for _, item := range items {
			claims = append(claims, item.toModel())
		}
	}

	sort.Slice(claims, func(i, j int) bool {
		if claims[i].CreatedAt.Equal(claims[j].CreatedAt) {
			return claims[i].ID < claims[j].ID
		}
		return claims[i].CreatedAt.Before(claims[j].CreatedAt)
	})
	return claims, nil
}

// AttachDeployment links the claim to its owning deployment
func (co *ClaimOperations) AttachDeployment(ctx context.Context, id, deploymentID string, at time.Time) error {
	_, err := co.client.DynamoDB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(co.tableName),
		Key:              idKey(id),
		UpdateExpression: aws.String("SET DeploymentID = :deployment, UpdatedAt = :at"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":deployment": str(deploymentID),
			":at":         millis(at),
			":type":       str(itemTypeClaim),
		},
		ConditionExpression: aws.String("ItemType = :type"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("claim %q: %w", id, ErrNotFound)
		}
		return fmt.Errorf("failed to attach deployment: %w", err)
	}
	return nil
}

// MarkVerified moves a pending claim to verified together with its hostname item
func (co *ClaimOperations) MarkVerified(ctx context.Context, id string, records []models.DNSRecord, at time.Time) (bool, error) {
	recordsAv, err := attributevalue.Marshal(records)
	if err != nil {
		return false, fmt.Errorf("failed to marshal records: %w", err)
	}
	return co.moveVerification(ctx, id, models.VerificationVerified,
		"SET VerificationStatus = :to, SSLStatus = :ssl, Records = :records, VerifiedAt = :at, UpdatedAt = :at",
		map[string]types.AttributeValue{
			":ssl":     str(string(models.SSLPending)),
			":records": recordsAv,
		}, at)
}

// MarkExpired moves a pending claim to expired together with its hostname item
func (co *ClaimOperations) MarkExpired(ctx context.Context, id string, at time.Time) (bool, error) {
	return co.moveVerification(ctx, id, models.VerificationExpired,
		"SET VerificationStatus = :to, UpdatedAt = :at", nil, at)
}

func (co *ClaimOperations) moveVerification(ctx context.Context, id string, to models.VerificationStatus, update string, extra map[string]types.AttributeValue, at time.Time) (bool, error) {
	claim, err := co.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if claim.VerificationStatus != models.VerificationPending {
		return false, nil
	}

	values := map[string]types.AttributeValue{
		":to":      str(string(to)),
		":at":      millis(at),
		":pending": str(string(models.VerificationPending)),
	}
	for k, v := range extra {
		values[k] = v
	}

	_, err = co.client.DynamoDB.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &types.Update{
				TableName:                 aws.String(co.tableName),
				Key:                       idKey(id),
				UpdateExpression:          aws.String(update),
				ConditionExpression:       aws.String("VerificationStatus = :pending"),
				ExpressionAttributeValues: values,
			}},
			{Update: &types.Update{
				TableName:                aws.String(co.tableName),
				Key:                      idKey(hostnameID(claim.Domain, claim.Subdomain)),
				UpdateExpression:         aws.String("SET #state = :to"),
				ConditionExpression:      aws.String("ClaimID = :id"),
				ExpressionAttributeNames: map[string]string{"#state": "State"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":to": str(string(to)),
					":id": str(id),
				},
			}},
		},
	})
	if err != nil {
		if conditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to update claim: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"claim_id": id,
		"status":   to,
	}).Debug("Claim verification status updated in DynamoDB")
	return true, nil
}

// SetCertificate stores the provider handle while ssl_status is pending
func (co *ClaimOperations) SetCertificate(ctx context.Context, id, certificateID string, at time.Time) (bool, error) {
	return co.updateSSL(ctx, id, "SET CertificateID = :cert, UpdatedAt = :at", map[string]types.AttributeValue{
		":cert": str(certificateID),
	}, at)
}

// AdvanceSSL moves ssl_status from pending to active or failed
func (co *ClaimOperations) AdvanceSSL(ctx context.Context, id string, to models.SSLStatus, at time.Time) (bool, error) {
	if to != models.SSLActive && to != models.SSLFailed {
		return false, fmt.Errorf("invalid ssl transition to %q", to)
	}
	return co.updateSSL(ctx, id, "SET SSLStatus = :to, UpdatedAt = :at", map[string]types.AttributeValue{
		":to": str(string(to)),
	}, at)
}

func (co *ClaimOperations) updateSSL(ctx context.Context, id, update string, values map[string]types.AttributeValue, at time.Time) (bool, error) {
	values[":at"] = millis(at)
	values[":pending"] = str(string(models.SSLPending))

	_, err := co.client.DynamoDB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(co.tableName),
		Key:                       idKey(id),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String("SSLStatus = :pending"),
		ExpressionAttributeValues: values,
	})
	if err == nil {
		return true, nil
	}
	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		return false, fmt.Errorf("failed to update claim ssl: %w", err)
	}
	if _, err := co.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// Delete removes a claim and releases its hostname
func (co *ClaimOperations) Delete(ctx context.Context, id string) error {
	claim, err := co.Get(ctx, id)
	if err != nil {
		return err
	}

	_, err = co.client.DynamoDB.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Delete: &types.Delete{
				TableName:           aws.String(co.tableName),
				Key:                 idKey(id),
				ConditionExpression: aws.String("attribute_exists(ID)"),
			}},
			{Delete: &types.Delete{
				TableName:                 aws.String(co.tableName),
				Key:                       idKey(hostnameID(claim.Domain, claim.Subdomain)),
				ConditionExpression:       aws.String("attribute_not_exists(ID) OR ClaimID = :id"),
				ExpressionAttributeValues: map[string]types.AttributeValue{":id": str(id)},
			}},
		},
	})
	if err != nil {
		if conditionFailed(err) {
			return fmt.Errorf("claim %q: %w", id, ErrNotFound)
		}
		return fmt.Errorf("failed to delete claim: %w", err)
	}

	logger.WithField("claim_id", id).Info("Domain claim deleted from DynamoDB")
	return nil
}

// conditionFailed reports whether a write was rejected by a condition expression
func conditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, r := range tce.CancellationReasons {
			if aws.ToString(r.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}
