package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/biomech-analyzer/internal/analysis"
)

// DynamoDB key layout: one item per session, PK ANALYSIS#{id}, SK META.
const (
	pkPrefix = "ANALYSIS#"
	skMeta   = "META"
)

// RecordTTL is how long analysis records live before DynamoDB expires them.
// Reviewed sessions are exported by the review workflow well before this.
const RecordTTL = 90 * 24 * time.Hour

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoStore implements AnalysisStore on a single DynamoDB table.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
}

var _ AnalysisStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName}
}

func sessionPK(id string) string {
	return pkPrefix + id
}

func sessionKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(id)},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

func expiresAt() int64 {
	return time.Now().Add(RecordTTL).Unix()
}

func (s *DynamoStore) Put(ctx context.Context, session *analysis.Session) error {
	if session.CreatedAt == 0 {
		session.CreatedAt = time.Now().Unix()
	}
	item, err := attributevalue.MarshalMap(session)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", session.ID, err)
	}
	for k, v := range sessionKey(session.ID) {
		item[k] = v
	}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt(), 10)}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put session %s: %w", session.ID, err)
	}

	log.Debug().Str("sessionId", session.ID).Str("status", session.Status).Msg("Session persisted to DynamoDB")
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, id string) (*analysis.Session, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.tableName,
		Key:            sessionKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var session analysis.Session
	if err := attributevalue.UnmarshalMap(result.Item, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	session.ID = id
	return &session, nil
}

// UpdateStatus changes the status with a conditional write, so concurrent
// runs cannot both move a record out of the same state.
func (s *DynamoStore) UpdateStatus(ctx context.Context, id, status string, sessErr *analysis.SessionError) error {
	allowed := analysis.AllowedFrom(status)
	if len(allowed) == 0 {
		return transitionError(id, "*", status)
	}

	values := map[string]types.AttributeValue{
		":s": &types.AttributeValueMemberS{Value: status},
	}
	cond := "attribute_exists(PK) AND #s IN ("
	for i, from := range allowed {
		name := ":from" + strconv.Itoa(i)
		values[name] = &types.AttributeValueMemberS{Value: from}
		if i > 0 {
			cond += ", "
		}
		cond += name
	}
	cond += ")"

	update := "SET #s = :s REMOVE #e"
	if status == analysis.StatusError && sessErr != nil {
		av, err := attributevalue.MarshalMap(sessErr)
		if err != nil {
			return fmt.Errorf("marshal session error: %w", err)
		}
		values[":e"] = &types.AttributeValueMemberM{Value: av}
		update = "SET #s = :s, #e = :e"
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 sessionKey(id),
		UpdateExpression:    aws.String(update),
		ConditionExpression: aws.String(cond),
		ExpressionAttributeNames: map[string]string{
			"#s": "status", // reserved word
			"#e": "error",
		},
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return fmt.Errorf("update status %s: %w", id, ErrNotFound)
			}
			from := ""
			if v, ok := ccf.Item["status"].(*types.AttributeValueMemberS); ok {
				from = v.Value
			}
			return transitionError(id, from, status)
		}
		return fmt.Errorf("update session status %s -> %s: %w", id, status, err)
	}

	log.Debug().Str("sessionId", id).Str("status", status).Msg("Session status updated")
	return nil
}
