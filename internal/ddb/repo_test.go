package ddb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kylejryan/timesheet-claim-chains/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockAPI is a mock implementation of API for testing.
type mockAPI struct {
	getItemFunc       func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	putItemFunc       func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	describeTableFunc func(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

func (m *mockAPI) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getItemFunc != nil {
		return m.getItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (m *mockAPI) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if m.putItemFunc != nil {
		return m.putItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockAPI) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if m.describeTableFunc != nil {
		return m.describeTableFunc(ctx, params, optFns...)
	}
	return &dynamodb.DescribeTableOutput{}, nil
}

func newTestRepo(t *testing.T, mock *mockAPI, opts ...Option) *Repo {
	t.Helper()
	cfg := aws.Config{}
	r := New(&cfg, "test-table", append([]Option{WithAPI(mock)}, opts...)...)
	require.NoError(t, r.Connect())
	return r
}

func s(v string) *dynamodbtypes.AttributeValueMemberS { return &dynamodbtypes.AttributeValueMemberS{Value: v} }
func n(v string) *dynamodbtypes.AttributeValueMemberN { return &dynamodbtypes.AttributeValueMemberN{Value: v} }

func TestConnect(t *testing.T) {
	t.Run("empty table name", func(t *testing.T) {
		r := New(&aws.Config{}, "", WithAPI(&mockAPI{}))
		assert.EqualError(t, r.Connect(), "table name cannot be empty")
	})

	t.Run("nil aws config without injected api", func(t *testing.T) {
		r := New(nil, "test-table")
		assert.Error(t, r.Connect())
	})

	t.Run("injected api", func(t *testing.T) {
		mock := &mockAPI{}
		r := newTestRepo(t, mock)
		assert.Same(t, mock, r.client)
		assert.Equal(t, "test-table", r.Table())
	})
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("skips table validation when not asked", func(t *testing.T) {
		calls := 0
		mock := &mockAPI{
			describeTableFunc: func(context.Context, *dynamodb.DescribeTableInput, ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
				calls++
				return nil, errors.New("unexpected")
			},
		}

		r, err := Open(ctx, &aws.Config{}, "test-table", false, WithAPI(mock))
		require.NoError(t, err)
		assert.NotNil(t, r)
		assert.Zero(t, calls)
	})

	t.Run("validates the table when asked", func(t *testing.T) {
		calls := 0
		mock := &mockAPI{
			describeTableFunc: func(context.Context, *dynamodb.DescribeTableInput, ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
				calls++
				return &dynamodb.DescribeTableOutput{Table: &dynamodbtypes.TableDescription{
					TableStatus: dynamodbtypes.TableStatusCreating,
					KeySchema: []dynamodbtypes.KeySchemaElement{
						{AttributeName: aws.String("companyId"), KeyType: dynamodbtypes.KeyTypeHash},
						{AttributeName: aws.String("timesheetId"), KeyType: dynamodbtypes.KeyTypeRange},
					},
				}}, nil
			},
		}

		_, err := Open(ctx, &aws.Config{}, "test-table", true, WithAPI(mock))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not active")
		assert.Equal(t, 1, calls)
	})

	t.Run("empty table name", func(t *testing.T) {
		_, err := Open(ctx, &aws.Config{}, "", false, WithAPI(&mockAPI{}))
		assert.Error(t, err)
	})

	t.Run("reports conditional writes", func(t *testing.T) {
		r, err := Open(ctx, &aws.Config{}, "test-table", false, WithAPI(&mockAPI{}), WithConditionalWrites(true))
		require.NoError(t, err)
		assert.True(t, r.ConditionalWrites())
	})
}

func TestGetClaim(t *testing.T) {
	ctx := context.Background()

	t.Run("absent claim returns nil", func(t *testing.T) {
		var got *dynamodb.GetItemInput
		mock := &mockAPI{
			getItemFunc: func(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
				got = params
				return &dynamodb.GetItemOutput{}, nil
			},
		}

		c, err := newTestRepo(t, mock).GetClaim(ctx, "C1", "T1")
		require.NoError(t, err)
		assert.Nil(t, c)

		require.NotNil(t, got)
		assert.Equal(t, "test-table", aws.ToString(got.TableName))
		assert.True(t, aws.ToBool(got.ConsistentRead))
		assert.Equal(t, MakeKey("C1", "T1"), got.Key)
	})

	t.Run("decodes chain attributes and content fields", func(t *testing.T) {
		mock := &mockAPI{
			getItemFunc: func(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
				return &dynamodb.GetItemOutput{Item: map[string]dynamodbtypes.AttributeValue{
					"companyId":       s("C1"),
					"timesheetId":     s("T2"),
					"billingStatus":   s("Submitted"),
					"version":         n("2"),
					"originalClaimId": s("T1"),
					"resubmittedFrom": &dynamodbtypes.AttributeValueMemberM{Value: map[string]dynamodbtypes.AttributeValue{
						"companyId":   s("C1"),
						"timesheetId": s("T1"),
						"version":     n("1"),
						"reason":      s("correction"),
						"changes": &dynamodbtypes.AttributeValueMemberL{Value: []dynamodbtypes.AttributeValue{
							&dynamodbtypes.AttributeValueMemberM{Value: map[string]dynamodbtypes.AttributeValue{
								"field":     s("hours"),
								"oldValue":  n("8"),
								"newValue":  n("10"),
								"timestamp": s("2024-01-15T12:00:00.000Z"),
							}},
						}},
					}},
					"hours":    n("10"),
					"employee": s("Ada"),
				}}, nil
			},
		}

		c, err := newTestRepo(t, mock).GetClaim(ctx, "C1", "T2")
		require.NoError(t, err)
		require.NotNil(t, c)

		assert.Equal(t, "T2", c.TimesheetID)
		assert.Equal(t, models.StatusSubmitted, c.BillingStatus)
		assert.Equal(t, 2, c.Version)
		assert.Equal(t, "T1", c.OriginalClaimID)
		require.NotNil(t, c.ResubmittedFrom)
		assert.Equal(t, "correction", c.ResubmittedFrom.Reason)
		require.Len(t, c.ResubmittedFrom.Changes, 1)
		assert.Equal(t, float64(8), c.ResubmittedFrom.Changes[0].OldValue)
		assert.Nil(t, c.ResubmittedTo)
		assert.Equal(t, map[string]any{"hours": float64(10), "employee": "Ada"}, c.Fields)
	})

	t.Run("legacy claim without version", func(t *testing.T) {
		mock := &mockAPI{
			getItemFunc: func(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
				return &dynamodb.GetItemOutput{Item: map[string]dynamodbtypes.AttributeValue{
					"companyId":   s("C1"),
					"timesheetId": s("T1"),
				}}, nil
			},
		}

		c, err := newTestRepo(t, mock).GetClaim(ctx, "C1", "T1")
		require.NoError(t, err)
		assert.Equal(t, 0, c.Version)
		assert.Equal(t, 1, c.EffectiveVersion())
		assert.Nil(t, c.Fields)
	})

	t.Run("client error is wrapped", func(t *testing.T) {
		boom := errors.New("throttled")
		mock := &mockAPI{
			getItemFunc: func(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
				return nil, boom
			},
		}

		_, err := newTestRepo(t, mock).GetClaim(ctx, "C1", "T1")
		require.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "C1/T1")
		assert.Contains(t, err.Error(), "test-table")
	})
}

func TestPutClaim(t *testing.T) {
	ctx := context.Background()

	claim := &models.Claim{
		CompanyID:     "C1",
		TimesheetID:   "T1",
		BillingStatus: models.StatusResubmitted,
		Version:       1,
		ResubmittedTo: &models.Link{CompanyID: "C1", TimesheetID: "T2", Version: 2, Changes: []models.Change{}},
		Fields:        map[string]any{"hours": 10, "version": 99},
	}

	t.Run("unconditional by default", func(t *testing.T) {
		var got *dynamodb.PutItemInput
		mock := &mockAPI{
			putItemFunc: func(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
				got = params
				return &dynamodb.PutItemOutput{}, nil
			},
		}

		require.NoError(t, newTestRepo(t, mock).PutClaim(ctx, claim, PutIfNotSuperseded))
		require.NotNil(t, got)
		assert.Nil(t, got.ConditionExpression)
		assert.Equal(t, "test-table", aws.ToString(got.TableName))
		assert.Equal(t, s("C1"), got.Item["companyId"])
		assert.Equal(t, n("10"), got.Item["hours"])
		assert.Equal(t, n("1"), got.Item["version"], "content fields must not overwrite chain attributes")
		assert.Contains(t, got.Item, "resubmittedTo")
		assert.NotContains(t, got.Item, "resubmittedFrom")
	})

	t.Run("conditional writes", func(t *testing.T) {
		tests := []struct {
			cond PutCondition
			want *string
		}{
			{PutAlways, nil},
			{PutIfAbsent, aws.String(condAbsent)},
			{PutIfNotSuperseded, aws.String(condNotSuperseded)},
		}

		for _, tt := range tests {
			var got *dynamodb.PutItemInput
			mock := &mockAPI{
				putItemFunc: func(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
					got = params
					return &dynamodb.PutItemOutput{}, nil
				},
			}

			require.NoError(t, newTestRepo(t, mock, WithConditionalWrites(true)).PutClaim(ctx, claim, tt.cond))
			assert.Equal(t, tt.want, got.ConditionExpression)
		}
	})

	t.Run("condition failure maps to ErrConditionFailed", func(t *testing.T) {
		mock := &mockAPI{
			putItemFunc: func(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
				return nil, &dynamodbtypes.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
			},
		}

		err := newTestRepo(t, mock, WithConditionalWrites(true)).PutClaim(ctx, claim, PutIfAbsent)
		assert.ErrorIs(t, err, ErrConditionFailed)
	})

	t.Run("client error is wrapped", func(t *testing.T) {
		boom := errors.New("network down")
		mock := &mockAPI{
			putItemFunc: func(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
				return nil, boom
			},
		}

		err := newTestRepo(t, mock).PutClaim(ctx, claim, PutAlways)
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, ErrConditionFailed)
	})

	t.Run("invalid claims", func(t *testing.T) {
		r := newTestRepo(t, &mockAPI{})
		assert.Error(t, r.PutClaim(ctx, nil, PutAlways))
		assert.Error(t, r.PutClaim(ctx, &models.Claim{CompanyID: "C1"}, PutAlways))
	})
}

func TestPutThenGetPreservesHistory(t *testing.T) {
	ctx := context.Background()

	var stored map[string]dynamodbtypes.AttributeValue
	mock := &mockAPI{
		putItemFunc: func(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			stored = params.Item
			return &dynamodb.PutItemOutput{}, nil
		},
		getItemFunc: func(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: stored}, nil
		},
	}
	r := newTestRepo(t, mock)

	link := models.Link{
		CompanyID:   "C1",
		TimesheetID: "T1",
		Version:     1,
		Timestamp:   "2024-01-15T12:00:00.000Z",
		Reason:      "correction",
		Changes:     []models.Change{{Field: "status", NewValue: "X", Timestamp: "2024-01-15T12:00:00.000Z"}},
	}
	in := &models.Claim{
		CompanyID:       "C1",
		TimesheetID:     "T2",
		Version:         2,
		ResubmittedFrom: &link,
		ResubmissionHistory: []models.HistoryEvent{
			{Type: models.LinkResubmittedFrom, Link: link, Status: models.StatusSubmitted, RequestedBy: "user-1"},
		},
	}
	require.NoError(t, r.PutClaim(ctx, in, PutAlways))

	hist, ok := stored["resubmissionHistory"].(*dynamodbtypes.AttributeValueMemberL)
	require.True(t, ok)
	entry := hist.Value[0].(*dynamodbtypes.AttributeValueMemberM).Value
	assert.Equal(t, s("resubmittedFrom"), entry["type"])
	assert.Equal(t, s("T1"), entry["timesheetId"], "embedded link fields are flattened into the entry")
	change := entry["changes"].(*dynamodbtypes.AttributeValueMemberL).Value[0].(*dynamodbtypes.AttributeValueMemberM).Value
	assert.NotContains(t, change, "oldValue")

	out, err := r.GetClaim(ctx, "C1", "T2")
	require.NoError(t, err)
	require.Len(t, out.ResubmissionHistory, 1)
	assert.Equal(t, "user-1", out.ResubmissionHistory[0].RequestedBy)
	assert.Equal(t, "correction", out.ResubmissionHistory[0].Reason)
	assert.Nil(t, out.ResubmissionHistory[0].Changes[0].OldValue)
}

func TestRewriteKeepsContentAttributeTypes(t *testing.T) {
	ctx := context.Background()

	item := map[string]dynamodbtypes.AttributeValue{
		"companyId":   s("C1"),
		"timesheetId": s("T1"),
		"tags":        &dynamodbtypes.AttributeValueMemberSS{Value: []string{"billable", "remote"}},
		"rates":       &dynamodbtypes.AttributeValueMemberNS{Value: []string{"12.50", "40"}},
		"digests":     &dynamodbtypes.AttributeValueMemberBS{Value: [][]byte{[]byte("a1")}},
		"notes":       &dynamodbtypes.AttributeValueMemberNULL{Value: true},
		"meta": &dynamodbtypes.AttributeValueMemberM{Value: map[string]dynamodbtypes.AttributeValue{
			"labels": &dynamodbtypes.AttributeValueMemberSS{Value: []string{"x"}},
		}},
	}

	var stored map[string]dynamodbtypes.AttributeValue
	mock := &mockAPI{
		getItemFunc: func(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: item}, nil
		},
		putItemFunc: func(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			stored = params.Item
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	r := newTestRepo(t, mock)

	c, err := r.GetClaim(ctx, "C1", "T1")
	require.NoError(t, err)
	assert.Equal(t, models.StringSet{"billable", "remote"}, c.Fields["tags"])
	assert.Equal(t, models.Null{}, c.Fields["notes"])

	require.NoError(t, r.PutClaim(ctx, c, PutAlways))

	assert.Equal(t, item["tags"], stored["tags"])
	assert.Equal(t, item["rates"], stored["rates"])
	assert.Equal(t, item["digests"], stored["digests"])
	assert.IsType(t, &dynamodbtypes.AttributeValueMemberNULL{}, stored["notes"])
	meta, ok := stored["meta"].(*dynamodbtypes.AttributeValueMemberM)
	require.True(t, ok)
	assert.IsType(t, &dynamodbtypes.AttributeValueMemberSS{}, meta.Value["labels"])
}

func TestNullOldValueSurvivesRewrite(t *testing.T) {
	ctx := context.Background()

	var stored map[string]dynamodbtypes.AttributeValue
	mock := &mockAPI{
		putItemFunc: func(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			stored = params.Item
			return &dynamodb.PutItemOutput{}, nil
		},
		getItemFunc: func(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{Item: stored}, nil
		},
	}
	r := newTestRepo(t, mock)

	in := &models.Claim{
		CompanyID:   "C1",
		TimesheetID: "T2",
		ResubmittedFrom: &models.Link{CompanyID: "C1", TimesheetID: "T1", Version: 1, Changes: []models.Change{
			{Field: "notes", OldValue: models.Null{}, NewValue: "late", Timestamp: "2024-01-15T12:00:00.000Z"},
			{Field: "tags", OldValue: models.StringSet{"a"}, NewValue: "b", Timestamp: "2024-01-15T12:00:00.000Z"},
		}},
	}
	require.NoError(t, r.PutClaim(ctx, in, PutAlways))

	from := stored["resubmittedFrom"].(*dynamodbtypes.AttributeValueMemberM).Value
	changes := from["changes"].(*dynamodbtypes.AttributeValueMemberL).Value
	first := changes[0].(*dynamodbtypes.AttributeValueMemberM).Value
	assert.IsType(t, &dynamodbtypes.AttributeValueMemberNULL{}, first["oldValue"])

	out, err := r.GetClaim(ctx, "C1", "T2")
	require.NoError(t, err)
	require.Len(t, out.ResubmittedFrom.Changes, 2)
	assert.Equal(t, models.Null{}, out.ResubmittedFrom.Changes[0].OldValue)
	assert.Equal(t, "late", out.ResubmittedFrom.Changes[0].NewValue)
	assert.Equal(t, models.StringSet{"a"}, out.ResubmittedFrom.Changes[1].OldValue)
}

func TestInit(t *testing.T) {
	ctx := context.Background()

	table := func(hash, rng string, status dynamodbtypes.TableStatus) *dynamodb.DescribeTableOutput {
		return &dynamodb.DescribeTableOutput{Table: &dynamodbtypes.TableDescription{
			TableStatus: status,
			KeySchema: []dynamodbtypes.KeySchemaElement{
				{AttributeName: aws.String(hash), KeyType: dynamodbtypes.KeyTypeHash},
				{AttributeName: aws.String(rng), KeyType: dynamodbtypes.KeyTypeRange},
			},
		}}
	}

	tests := []struct {
		name    string
		out     *dynamodb.DescribeTableOutput
		err     error
		wantErr string
	}{
		{name: "valid", out: table("companyId", "timesheetId", dynamodbtypes.TableStatusActive)},
		{name: "wrong partition key", out: table("pk", "timesheetId", dynamodbtypes.TableStatusActive), wantErr: "partition key pk"},
		{name: "wrong sort key", out: table("companyId", "sk", dynamodbtypes.TableStatusActive), wantErr: "sort key sk"},
		{name: "not active", out: table("companyId", "timesheetId", dynamodbtypes.TableStatusCreating), wantErr: "not active"},
		{name: "simple key", out: &dynamodb.DescribeTableOutput{Table: &dynamodbtypes.TableDescription{}}, wantErr: "composite primary key"},
		{name: "missing table", err: &dynamodbtypes.ResourceNotFoundException{}, wantErr: "does not exist"},
		{name: "describe error", err: errors.New("denied"), wantErr: "failed to describe table"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockAPI{
				describeTableFunc: func(context.Context, *dynamodb.DescribeTableInput, ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
					return tt.out, tt.err
				},
			}

			err := newTestRepo(t, mock).Init(ctx)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFormatISO(t *testing.T) {
	ts := time.Date(2024, 1, 15, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "2024-01-15T11:00:00.000Z", FormatISO(ts))
}
