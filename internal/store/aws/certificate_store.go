package aws

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/bifrost/internal/store"
)

// maxInsertAttempts bounds retries when two inserts land on the same
// lookup_key and inserted_at.
const maxInsertAttempts = 3

// DynamoDBAPI is the subset of the DynamoDB client used by CertificateStore.
type DynamoDBAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// CertificateStore is a DynamoDB implementation of store.CertificateStore.
//
// The table is keyed by lookup_key (partition#subject#issuer) with inserted_at
// (unix nanoseconds) as the range key, so the newest certificate for a lookup
// is the first item of a descending query.
type CertificateStore struct {
	client    DynamoDBAPI
	tableName string
}

// NewCertificateStore creates a new DynamoDB certificate store
func NewCertificateStore(client DynamoDBAPI, tableName string) *CertificateStore {
	return &CertificateStore{
		client:    client,
		tableName: tableName,
	}
}

// GetCertificate returns the most recently inserted certificate for the lookup.
func (s *CertificateStore) GetCertificate(ctx context.Context, subjectTLS, subjectCA string, partition store.Partition) (*x509.Certificate, error) {
	if err := store.ValidatePartition("get", partition); err != nil {
		return nil, err
	}

	keyEx := expression.Key("lookup_key").Equal(expression.Value(store.LookupKey(partition, subjectTLS, subjectCA)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyEx).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return nil, store.Unavailable("get", partition, wrapAWSError(err, "failed to query certificate"))
	}

	if len(result.Items) == 0 {
		return nil, store.ErrCertNotFound
	}

	var rec store.CertRecord
	if err := attributevalue.UnmarshalMap(result.Items[0], &rec); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal certificate: %v", store.ErrInvalidCertRecord, err)
	}

	return rec.Certificate()
}

// AddCertificate puts a new item, refusing to replace an existing one.
func (s *CertificateStore) AddCertificate(ctx context.Context, cert *x509.Certificate, partition store.Partition) error {
	if err := store.ValidatePartition("add", partition); err != nil {
		return err
	}

	rec := store.NewCertRecord(cert, partition)

	for attempt := 1; ; attempt++ {
		item, err := attributevalue.MarshalMap(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal certificate: %w", err)
		}

		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.tableName),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(lookup_key)"),
		})
		if err == nil {
			break
		}

		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) && attempt < maxInsertAttempts {
			rec.InsertedAt++
			continue
		}
		return store.Unavailable("add", partition, wrapAWSError(err, "failed to put certificate"))
	}

	log.Debug().
		Str("partition", string(partition)).
		Str("subject", rec.SubjectCN).
		Str("issuer", rec.IssuerCN).
		Str("serial_number", rec.SerialNumber).
		Msg("certificate added")

	return nil
}
