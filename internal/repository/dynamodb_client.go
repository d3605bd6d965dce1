package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"collections-agent/internal/domain"
)

const (
	pkPrefixCustomer = "CUST#"
	skPrefixSummary  = "SUM#"
)

// sortTimeLayout is fixed-width so sort keys order chronologically.
const sortTimeLayout = "2006-01-02T15:04:05.000000000Z"

// dynamodbAPI is the minimal DynamoDB interface required by Client.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// HistoryStore is the per-customer conversation history. Summaries are only
// ever appended.
type HistoryStore interface {
	AppendSummary(ctx context.Context, customerID string, summary domain.ConversationSummary) error
	ListSummaries(ctx context.Context, customerID string) ([]domain.ConversationSummary, error)
}

// Client stores conversation history in a single DynamoDB table: one
// partition per customer, one item per summary.
type Client struct {
	api       dynamodbAPI
	tableName string
	newID     func() string
}

func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, newID: uuid.NewString}, nil
}

func customerPK(customerID string) string {
	return pkPrefixCustomer + customerID
}

func summarySK(ts time.Time, id string) string {
	return skPrefixSummary + ts.UTC().Format(sortTimeLayout) + "#" + id
}

// AppendSummary adds a summary to the customer's history. The conditional
// put never overwrites an existing entry.
func (c *Client) AppendSummary(ctx context.Context, customerID string, summary domain.ConversationSummary) error {
	if err := validateAppend(customerID, summary); err != nil {
		return err
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                summaryItem(customerID, summarySK(summary.Date, c.newID()), summary),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: AppendSummary: %w", err)
	}
	return nil
}

// ListSummaries returns the customer's history oldest first.
func (c *Client) ListSummaries(ctx context.Context, customerID string) ([]domain.ConversationSummary, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, errors.New("repository: customer id must not be empty")
	}
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: customerPK(customerID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixSummary},
		},
		ScanIndexForward: aws.Bool(true),
	}

	var out []domain.ConversationSummary
	for {
		page, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: ListSummaries query: %w", err)
		}
		for _, item := range page.Items {
			s, err := itemToSummary(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListSummaries unmarshal: %w", err)
			}
			out = append(out, s)
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = page.LastEvaluatedKey
	}
	return out, nil
}

func validateAppend(customerID string, summary domain.ConversationSummary) error {
	if strings.TrimSpace(customerID) == "" {
		return errors.New("repository: customer id must not be empty")
	}
	if !summary.Outcome.Valid() {
		return fmt.Errorf("repository: invalid outcome %q", summary.Outcome)
	}
	if summary.Date.IsZero() {
		return errors.New("repository: summary date must be set")
	}
	return nil
}

func summaryItem(customerID, sk string, s domain.ConversationSummary) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: customerPK(customerID)},
		"SK":             &types.AttributeValueMemberS{Value: sk},
		"customerId":     &types.AttributeValueMemberS{Value: customerID},
		"conversationId": &types.AttributeValueMemberS{Value: s.ConversationID},
		"date":           &types.AttributeValueMemberS{Value: s.Date.UTC().Format(time.RFC3339Nano)},
		"summary":        &types.AttributeValueMemberS{Value: s.Summary},
		"outcome":        &types.AttributeValueMemberS{Value: string(s.Outcome)},
	}
}

func itemToSummary(item map[string]types.AttributeValue) (domain.ConversationSummary, error) {
	date, err := strAttr(item, "date")
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, date)
	if err != nil {
		return domain.ConversationSummary{}, fmt.Errorf("repository: parse attribute %q: %w", "date", err)
	}
	text, err := strAttr(item, "summary")
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	outcome, err := strAttr(item, "outcome")
	if err != nil {
		return domain.ConversationSummary{}, err
	}
	conversationID, _ := strAttr(item, "conversationId") // optional

	return domain.ConversationSummary{
		Date:           ts,
		Summary:        text,
		Outcome:        domain.Outcome(outcome),
		ConversationID: conversationID,
	}, nil
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
