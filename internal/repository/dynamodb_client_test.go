package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"collections-agent/internal/domain"
)

type fakeDynamo struct {
	putErr       error
	queryPages   []*dynamodb.QueryOutput
	queryErr     error
	lastPutInput *dynamodb.PutItemInput
	queryInputs  []dynamodb.QueryInput
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryInputs = append(f.queryInputs, *in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.queryPages) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	page := f.queryPages[0]
	f.queryPages = f.queryPages[1:]
	return page, nil
}

func makeSummaryItem(date, summary, outcome string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":      &types.AttributeValueMemberS{Value: "CUST#42"},
		"SK":      &types.AttributeValueMemberS{Value: "SUM#" + date},
		"date":    &types.AttributeValueMemberS{Value: date},
		"summary": &types.AttributeValueMemberS{Value: summary},
		"outcome": &types.AttributeValueMemberS{Value: outcome},
	}
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "history-table")
	require.NoError(t, err)
	c.newID = func() string { return "id-1" }
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "t")
	require.Error(t, err)
	_, err = New(&fakeDynamo{}, " ")
	require.Error(t, err)
}

func TestAppendSummary_ConditionalPut(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	date := time.Date(2026, 3, 1, 10, 30, 0, 5, time.UTC)

	err := c.AppendSummary(context.Background(), "42", domain.ConversationSummary{
		Date:           date,
		Summary:        "Debtor agreed to a payment plan.",
		Outcome:        domain.OutcomeSuccessful,
		ConversationID: "conv-1",
	})
	require.NoError(t, err)

	in := db.lastPutInput
	require.Equal(t, "history-table", *in.TableName)
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *in.ConditionExpression)
	require.Equal(t, "CUST#42", in.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "SUM#2026-03-01T10:30:00.000000005Z#id-1", in.Item["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "successful", in.Item["outcome"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "conv-1", in.Item["conversationId"].(*types.AttributeValueMemberS).Value)
}

func TestAppendSummary_Validation(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	now := time.Now()

	err := c.AppendSummary(context.Background(), "", domain.ConversationSummary{Date: now, Outcome: domain.OutcomePending})
	require.ErrorContains(t, err, "customer id")

	err = c.AppendSummary(context.Background(), "42", domain.ConversationSummary{Date: now, Outcome: "maybe"})
	require.ErrorContains(t, err, "invalid outcome")

	err = c.AppendSummary(context.Background(), "42", domain.ConversationSummary{Outcome: domain.OutcomePending})
	require.ErrorContains(t, err, "date")
}

func TestAppendSummary_DynamoError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{putErr: errors.New("ConditionalCheckFailedException")})
	err := c.AppendSummary(context.Background(), "42", domain.ConversationSummary{Date: time.Now(), Outcome: domain.OutcomePending})
	require.ErrorContains(t, err, "AppendSummary")
}

func TestSummarySK_SortsChronologically(t *testing.T) {
	a := summarySK(time.Date(2026, 1, 1, 0, 0, 0, 100, time.UTC), "x")
	b := summarySK(time.Date(2026, 1, 1, 0, 0, 0, 20000, time.UTC), "x")
	require.Less(t, a, b)
}

func TestListSummaries_PaginatesInOrder(t *testing.T) {
	db := &fakeDynamo{queryPages: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{makeSummaryItem("2026-03-01T10:00:00Z", "first", "pending")},
			LastEvaluatedKey: map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: "CUST#42"}},
		},
		{
			Items: []map[string]types.AttributeValue{makeSummaryItem("2026-03-02T10:00:00Z", "second", "successful")},
		},
	}}
	c := mustNewClient(t, db)

	got, err := c.ListSummaries(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "first", got[0].Summary)
	require.Equal(t, domain.OutcomeSuccessful, got[1].Outcome)
	require.Equal(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), got[1].Date)

	require.Len(t, db.queryInputs, 2)
	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", *db.queryInputs[0].KeyConditionExpression)
	require.True(t, *db.queryInputs[0].ScanIndexForward)
	require.Nil(t, db.queryInputs[0].ExclusiveStartKey)
	require.NotNil(t, db.queryInputs[1].ExclusiveStartKey)
}

func TestListSummaries_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("ResourceNotFoundException")})
	_, err := c.ListSummaries(context.Background(), "42")
	require.ErrorContains(t, err, "ListSummaries query")

	item := makeSummaryItem("2026-03-01T10:00:00Z", "first", "pending")
	delete(item, "summary")
	c = mustNewClient(t, &fakeDynamo{queryPages: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{item}}}})
	_, err = c.ListSummaries(context.Background(), "42")
	require.ErrorContains(t, err, "summary")

	_, err = c.ListSummaries(context.Background(), " ")
	require.ErrorContains(t, err, "customer id")
}
