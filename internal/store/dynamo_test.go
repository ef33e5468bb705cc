package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fpang/biomech-analyzer/internal/analysis"
)

type fakeDynamo struct {
	items     map[string]map[string]types.AttributeValue
	lastPut   *dynamodb.PutItemInput
	lastUpd   *dynamodb.UpdateItemInput
	updateErr error
}

func keyOf(key map[string]types.AttributeValue) string {
	pk := key["PK"].(*types.AttributeValueMemberS).Value
	sk := key["SK"].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPut = in
	f.items[keyOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.lastUpd = in
	return &dynamodb.UpdateItemOutput{}, f.updateErr
}

func TestDynamoStore_PutGet(t *testing.T) {
	fake := &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
	s := NewDynamoStore(fake, "biomech")
	ctx := context.Background()

	if err := s.Put(ctx, sampleSession("abc")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if pk := fake.lastPut.Item["PK"].(*types.AttributeValueMemberS).Value; pk != "ANALYSIS#abc" {
		t.Errorf("PK = %q", pk)
	}
	if _, ok := fake.lastPut.Item["expiresAt"]; !ok {
		t.Error("expiresAt not set")
	}
	if _, ok := fake.lastPut.Item["sessionId"]; ok {
		t.Error("session id should live only in the key")
	}

	got, err := s.Get(ctx, "abc")
	if err != nil || got == nil {
		t.Fatalf("Get() = (%v, %v)", got, err)
	}
	if got.ID != "abc" || got.Frames[0].SimilarityToGold != 95 || got.Classification != analysis.Excelente {
		t.Errorf("round trip lost data: %+v", got)
	}

	if got, err := s.Get(ctx, "missing"); got != nil || err != nil {
		t.Errorf("Get(missing) = (%v, %v)", got, err)
	}
}

func TestDynamoStore_UpdateStatus(t *testing.T) {
	fake := &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
	s := NewDynamoStore(fake, "biomech")
	ctx := context.Background()

	if err := s.UpdateStatus(ctx, "abc", analysis.StatusProcessing, nil); err != nil {
		t.Fatal(err)
	}
	cond := *fake.lastUpd.ConditionExpression
	if !strings.Contains(cond, "#s IN (:from0, :from1)") {
		t.Errorf("condition = %q", cond)
	}
	if v := fake.lastUpd.ExpressionAttributeValues[":from1"].(*types.AttributeValueMemberS).Value; v != analysis.StatusError {
		t.Errorf(":from1 = %q, want ERROR", v)
	}
	if *fake.lastUpd.UpdateExpression != "SET #s = :s REMOVE #e" {
		t.Errorf("update = %q", *fake.lastUpd.UpdateExpression)
	}

	if err := s.UpdateStatus(ctx, "abc", analysis.StatusError, analysis.NewSessionError("boom")); err != nil {
		t.Fatal(err)
	}
	if _, ok := fake.lastUpd.ExpressionAttributeValues[":e"].(*types.AttributeValueMemberM); !ok {
		t.Error("error payload not written")
	}

	if err := s.UpdateStatus(ctx, "abc", analysis.StatusPendingAI, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("unreachable status error = %v", err)
	}
}

func TestDynamoStore_ConditionFailures(t *testing.T) {
	tests := []struct {
		name string
		item map[string]types.AttributeValue
		want error
	}{
		{"missing", nil, ErrNotFound},
		{"wrong state", map[string]types.AttributeValue{"status": &types.AttributeValueMemberS{Value: analysis.StatusAIAnalyzed}}, ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{Item: tt.item}}
			err := NewDynamoStore(fake, "biomech").UpdateStatus(context.Background(), "abc", analysis.StatusProcessing, nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}
