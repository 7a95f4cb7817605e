package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"sightline/internal/domain"
)

const (
	pkPrefixSession = "SESSION#"
	skState         = "STATE#"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore keeps one item per photo session, guarded by a version attribute.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// NewDynamoStore creates a DynamoDB-backed Store.
func NewDynamoStore(api dynamodbAPI, tableName string, ttl time.Duration) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &DynamoStore{api: api, tableName: tableName, ttl: ttl, now: time.Now}, nil
}

// sessionPK returns the DynamoDB partition key for a session.
func sessionPK(id string) string {
	return pkPrefixSession + id
}

func (s *DynamoStore) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(id)},
		"SK": &types.AttributeValueMemberS{Value: skState},
	}
}

// Create writes a new session item, failing if one already exists.
func (s *DynamoStore) Create(ctx context.Context, rec *domain.SessionRecord) error {
	if rec == nil || rec.ID == "" {
		return errMissingIdentifier
	}
	now := s.now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Version = 1

	item, err := s.recordItem(rec)
	if err != nil {
		return fmt.Errorf("repository: Create: %w", err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("repository: Create: %w", err)
	}
	return nil
}

// Get reads a session item with a consistent read.
func (s *DynamoStore) Get(ctx context.Context, id string) (*domain.SessionRecord, error) {
	if id == "" {
		return nil, errMissingIdentifier
	}
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: Get: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	rec, err := itemToRecord(out.Item)
	if err != nil {
		return nil, fmt.Errorf("repository: Get decode: %w", err)
	}
	return rec, nil
}

// Update replaces the session item if its stored version still matches rec.Version.
func (s *DynamoStore) Update(ctx context.Context, rec *domain.SessionRecord) error {
	if rec == nil || rec.ID == "" {
		return errMissingIdentifier
	}
	next := rec.Clone()
	next.Version = rec.Version + 1
	next.UpdatedAt = s.now().UTC()

	item, err := s.recordItem(next)
	if err != nil {
		return fmt.Errorf("repository: Update: %w", err)
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(PK) AND version = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.Version, 10)},
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return ErrNotFound
			}
			return ErrVersionConflict
		}
		return fmt.Errorf("repository: Update: %w", err)
	}
	rec.Version = next.Version
	rec.UpdatedAt = next.UpdatedAt
	return nil
}

// Delete removes the session item. Deleting a missing session is not an error.
func (s *DynamoStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errMissingIdentifier
	}
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(id),
	})
	if err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}

func (s *DynamoStore) Close() error { return nil }

func (s *DynamoStore) recordItem(rec *domain.SessionRecord) (map[string]types.AttributeValue, error) {
	turns, err := json.Marshal(rec.Turns)
	if err != nil {
		return nil, fmt.Errorf("marshal turns: %w", err)
	}
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: sessionPK(rec.ID)},
		"SK":             &types.AttributeValueMemberS{Value: skState},
		"sessionId":      &types.AttributeValueMemberS{Value: rec.ID},
		"imageKey":       &types.AttributeValueMemberS{Value: rec.ImageKey},
		"classification": &types.AttributeValueMemberS{Value: string(rec.Classification)},
		"turns":          &types.AttributeValueMemberS{Value: string(turns)},
		"version":        &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.Version, 10)},
		"createdAt":      &types.AttributeValueMemberS{Value: rec.CreatedAt.UTC().Format(time.RFC3339Nano)},
		"updatedAt":      &types.AttributeValueMemberS{Value: rec.UpdatedAt.UTC().Format(time.RFC3339Nano)},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Add(s.ttl).Unix(), 10)},
	}, nil
}

// itemToRecord converts a DynamoDB attribute map to a SessionRecord.
func itemToRecord(item map[string]types.AttributeValue) (*domain.SessionRecord, error) {
	id, err := strAttr(item, "sessionId")
	if err != nil {
		return nil, err
	}
	imageKey, _ := strAttr(item, "imageKey")
	classification, _ := strAttr(item, "classification") // empty until classified
	rawTurns, err := strAttr(item, "turns")
	if err != nil {
		return nil, err
	}
	version, err := intAttr(item, "version")
	if err != nil {
		return nil, err
	}

	var turns []domain.Turn
	if err := json.Unmarshal([]byte(rawTurns), &turns); err != nil {
		return nil, fmt.Errorf("repository: decode turns: %w", err)
	}

	rec := &domain.SessionRecord{
		ID:             id,
		ImageKey:       imageKey,
		Classification: domain.Classification(classification),
		Turns:          turns,
		Version:        version,
	}
	if v, err := strAttr(item, "createdAt"); err == nil {
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v, err := strAttr(item, "updatedAt"); err == nil {
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	return rec, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
