// Package ddb provides a repository for timesheet claim records in DynamoDB.
// Each claim is a single item keyed by companyId (partition key) and
// timesheetId (sort key). Timesheet content lives in top-level attributes
// next to the chain attributes.
package ddb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kylejryan/timesheet-claim-chains/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// TimestampLayout is the ISO-8601 layout stored in createdAt, updatedAt and link timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

const (
	condAbsent        = "attribute_not_exists(companyId) AND attribute_not_exists(timesheetId)"
	condNotSuperseded = "attribute_exists(timesheetId) AND attribute_not_exists(resubmittedTo)"
)

// ErrConditionFailed is returned by [Repo.PutClaim] when a guarded write is rejected.
var ErrConditionFailed = errors.New("conditional write rejected")

// API is the subset of the DynamoDB client used by [Repo].
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// PutCondition selects the guard applied to a put when conditional writes are enabled.
type PutCondition int

const (
	// PutAlways overwrites whatever is stored under the key.
	PutAlways PutCondition = iota
	// PutIfAbsent only writes when no item exists under the key.
	PutIfAbsent
	// PutIfNotSuperseded only writes when the stored item has no resubmittedTo link yet.
	PutIfNotSuperseded
)

// Repo wraps a DynamoDB client and table name for claim operations.
type Repo struct {
	client API
	table  string
	awsCfg *aws.Config
	opts   *Options
}

// New creates a Repo for the given table. Call [Repo.Connect] before use.
func New(awsCfg *aws.Config, table string, opts ...Option) *Repo {
	options := newOptions()
	for _, o := range opts {
		o(options)
	}

	return &Repo{
		awsCfg: awsCfg,
		table:  table,
		opts:   options,
	}
}

// Connect initializes the DynamoDB client, using the API injected with
// [WithAPI] when present. It must complete before the Repo is used concurrently.
func (r *Repo) Connect() error {
	if r.table == "" {
		return errors.New("table name cannot be empty")
	}

	if r.opts.dynamoDBAPI != nil {
		r.client = r.opts.dynamoDBAPI
		return nil
	}

	if r.awsCfg == nil {
		return errors.New("aws config cannot be nil")
	}
	r.client = dynamodb.NewFromConfig(*r.awsCfg)
	return nil
}

// Open creates and connects a Repo. With validate set it also runs [Repo.Init]
// so a misconfigured table fails at start-up instead of on the first request.
func Open(ctx context.Context, awsCfg *aws.Config, table string, validate bool, opts ...Option) (*Repo, error) {
	r := New(awsCfg, table, opts...)
	if err := r.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to DynamoDB: %w", err)
	}
	if validate {
		if err := r.Init(ctx); err != nil {
			return nil, fmt.Errorf("claim table failed validation: %w", err)
		}
	}
	return r, nil
}

// Table returns the table name.
func (r *Repo) Table() string { return r.table }

// ConditionalWrites reports whether PutClaim sends its condition expressions.
func (r *Repo) ConditionalWrites() bool { return r.opts.conditionalWrites }

// Init checks that the table exists, is active, and is keyed by companyId (HASH) and timesheetId (RANGE).
func (r *Repo) Init(ctx context.Context) error {
	out, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(r.table)})
	if err != nil {
		var notFound *dynamodbtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return fmt.Errorf("table %s does not exist", r.table)
		}
		return fmt.Errorf("failed to describe table %s: %w", r.table, err)
	}

	if out.Table == nil || len(out.Table.KeySchema) != 2 {
		return fmt.Errorf("table %s must have a composite primary key", r.table)
	}

	for _, k := range out.Table.KeySchema {
		name := aws.ToString(k.AttributeName)
		switch k.KeyType {
		case dynamodbtypes.KeyTypeHash:
			if name != models.AttrCompanyID {
				return fmt.Errorf("table %s has partition key %s, expected %s", r.table, name, models.AttrCompanyID)
			}
		case dynamodbtypes.KeyTypeRange:
			if name != models.AttrTimesheetID {
				return fmt.Errorf("table %s has sort key %s, expected %s", r.table, name, models.AttrTimesheetID)
			}
		}
	}

	if out.Table.TableStatus != dynamodbtypes.TableStatusActive {
		return fmt.Errorf("table %s is not active (status: %s)", r.table, out.Table.TableStatus)
	}

	return nil
}

// GetClaim reads a claim with a strongly consistent read. It returns nil, nil when no claim exists under the key.
func (r *Repo) GetClaim(ctx context.Context, companyID, timesheetID string) (*models.Claim, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &r.table,
		Key:            MakeKey(companyID, timesheetID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read claim %s/%s from DynamoDB table %s: %w", companyID, timesheetID, r.table, err)
	}

	if len(out.Item) == 0 {
		return nil, nil
	}

	c, err := unmarshalClaim(out.Item)
	if err != nil {
		return nil, fmt.Errorf("failed to decode claim %s/%s: %w", companyID, timesheetID, err)
	}
	return c, nil
}

// PutClaim writes the whole claim, replacing any item under the same key.
// cond is only sent when the Repo was built with [WithConditionalWrites].
func (r *Repo) PutClaim(ctx context.Context, c *models.Claim, cond PutCondition) error {
	if c == nil {
		return errors.New("claim cannot be nil")
	}

	if c.CompanyID == "" || c.TimesheetID == "" {
		return errors.New("claim companyId and timesheetId cannot be empty")
	}

	item, err := marshalClaim(c)
	if err != nil {
		return fmt.Errorf("failed to encode claim %s/%s: %w", c.CompanyID, c.TimesheetID, err)
	}

	input := &dynamodb.PutItemInput{
		TableName: &r.table,
		Item:      item,
	}

	if r.opts.conditionalWrites {
		switch cond {
		case PutIfAbsent:
			input.ConditionExpression = aws.String(condAbsent)
		case PutIfNotSuperseded:
			input.ConditionExpression = aws.String(condNotSuperseded)
		}
	}

	if _, err := r.client.PutItem(ctx, input); err != nil {
		var ccf *dynamodbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("claim %s/%s: %w", c.CompanyID, c.TimesheetID, ErrConditionFailed)
		}
		return fmt.Errorf("failed to write claim %s/%s to DynamoDB table %s: %w", c.CompanyID, c.TimesheetID, r.table, err)
	}

	return nil
}

// marshalClaim encodes the chain attributes and then adds every content field
// that does not collide with them.
func marshalClaim(c *models.Claim) (map[string]dynamodbtypes.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return nil, err
	}

	if len(c.Fields) == 0 {
		return item, nil
	}

	fields, err := attributevalue.MarshalMap(c.Fields)
	if err != nil {
		return nil, err
	}

	for k, v := range fields {
		if models.IsReserved(k) {
			continue
		}
		item[k] = v
	}
	return item, nil
}

// unmarshalClaim decodes the chain attributes and collects the rest into
// Fields. Content values keep their stored type (sets, NULL) across a rewrite.
func unmarshalClaim(item map[string]dynamodbtypes.AttributeValue) (*models.Claim, error) {
	var c models.Claim
	if err := attributevalue.UnmarshalMap(item, &c); err != nil {
		return nil, err
	}

	for k, av := range item {
		if models.IsReserved(k) {
			continue
		}

		v, err := models.DecodeAttribute(av)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", k, err)
		}

		if c.Fields == nil {
			c.Fields = make(map[string]any)
		}
		c.Fields[k] = v
	}

	return &c, nil
}

// FormatISO renders t in the stored timestamp format.
func FormatISO(t time.Time) string { return t.UTC().Format(TimestampLayout) }

// NowISO returns the current time in the stored timestamp format.
func NowISO() string { return FormatISO(time.Now()) }

// MakeKey constructs the primary key attributes for a claim.
func MakeKey(companyID, timesheetID string) map[string]dynamodbtypes.AttributeValue {
	return map[string]dynamodbtypes.AttributeValue{
		models.AttrCompanyID:   &dynamodbtypes.AttributeValueMemberS{Value: companyID},
		models.AttrTimesheetID: &dynamodbtypes.AttributeValueMemberS{Value: timesheetID},
	}
}
