package database

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	appConfig "github.com/imyashkale/hera/internal/config"
	"github.com/imyashkale/hera/internal/logger"
)

// Config holds the DynamoDB configuration
type Config struct {
	DeploymentsTable string
	ClaimsTable      string
	Region           string
}

// API is the subset of the DynamoDB client used by the operations in this package
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Client wraps the DynamoDB client
type Client struct {
	DynamoDB         API
	DeploymentsTable string
	ClaimsTable      string
}

// NewConfig creates a new database configuration from the application config
func NewConfig(appCfg *appConfig.Config) *Config {
	return &Config{
		DeploymentsTable: appCfg.GetDeploymentsTableName(),
		ClaimsTable:      appCfg.GetClaimsTableName(),
		Region:           appCfg.GetAWSRegion(),
	}
}

// NewClient creates a new DynamoDB client
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)

	for _, table := range []string{cfg.DeploymentsTable, cfg.ClaimsTable} {
		if err := ensureTableExists(ctx, dynamoClient, table); err != nil {
			logger.WithField("table", table).Warnf("Could not verify table existence: %v", err)
		}
	}

	return &Client{
		DynamoDB:         dynamoClient,
		DeploymentsTable: cfg.DeploymentsTable,
		ClaimsTable:      cfg.ClaimsTable,
	}, nil
}

// ensureTableExists checks if the DynamoDB table exists
func ensureTableExists(ctx context.Context, client API, tableName string) error {
	_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	})

	if err != nil {
		return fmt.Errorf("table %s does not exist or cannot be accessed: %w", tableName, err)
	}

	logger.WithField("table", tableName).Info("DynamoDB table verified successfully")
	return nil
}
