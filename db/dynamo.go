package db

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	defaultRegion      = "us-east-1"
	defaultTablePrefix = "StockTrackRecord"
	stocksTableSuffix  = "-Stocks"
)

// TablePrefix names the main table; the stocks table is derived from it.
func TablePrefix() string {
	if prefix := os.Getenv("DYNAMODB_TABLE_PREFIX"); prefix != "" {
		return prefix
	}
	return defaultTablePrefix
}

func MainTable() string   { return TablePrefix() }
func StocksTable() string { return TablePrefix() + stocksTableSuffix }

// ConnectDynamo builds the DynamoDB client. DYNAMODB_ENDPOINT points it at a
// local instance with throwaway credentials; otherwise the default AWS chain
// applies.
func ConnectDynamo(ctx context.Context) (*dynamodb.Client, error) {
	region := os.Getenv("DYNAMODB_REGION")
	if region == "" {
		region = defaultRegion
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	endpoint := os.Getenv("DYNAMODB_ENDPOINT")
	if endpoint != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// EnsureTables creates the main table and the stocks table if they do not
// exist yet. Safe to call on every startup.
func EnsureTables(ctx context.Context, client *dynamodb.Client) error {
	if err := createTable(ctx, client, mainTableInput(MainTable())); err != nil {
		return fmt.Errorf("create table %s: %w", MainTable(), err)
	}
	if err := createTable(ctx, client, stocksTableInput(StocksTable())); err != nil {
		return fmt.Errorf("create table %s: %w", StocksTable(), err)
	}
	return nil
}

func createTable(ctx context.Context, client *dynamodb.Client, input *dynamodb.CreateTableInput) error {
	_, err := client.CreateTable(ctx, input)
	var inUse *types.ResourceInUseException
	if errors.As(err, &inUse) {
		return nil
	}
	return err
}

// mainTableInput declares the composite-key table and its three indexes:
// GSI1 serves the channel list and the cross-channel ticker view, GSI2 is a
// hash-only uniqueness index on the external channel id, and GSI3 is a
// keys-only lookup from external video id back to the primary key.
func mainTableInput(name string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName:   aws.String(name),
		BillingMode: types.BillingModePayPerRequest,
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("SK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI1PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI1SK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI2PK"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("GSI3PK"), AttributeType: types.ScalarAttributeTypeS},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			{
				IndexName: aws.String("GSI1-index"),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("GSI1PK"), KeyType: types.KeyTypeHash},
					{AttributeName: aws.String("GSI1SK"), KeyType: types.KeyTypeRange},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
			{
				IndexName: aws.String("GSI2-index"),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("GSI2PK"), KeyType: types.KeyTypeHash},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
			{
				IndexName: aws.String("GSI3-index"),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("GSI3PK"), KeyType: types.KeyTypeHash},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeKeysOnly},
			},
		},
	}
}

func stocksTableInput(name string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName:   aws.String(name),
		BillingMode: types.BillingModePayPerRequest,
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("ticker"), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("ticker"), AttributeType: types.ScalarAttributeTypeS},
		},
	}
}
