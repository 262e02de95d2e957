package table

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/platformkit/entstore/internal/cursor"
)

// Page is one page of a query or scan.
type Page struct {
	Items []Item

	// Next is the opaque resume token for the following page; empty when the
	// backend has no more data past this page.
	Next string
}

// QueryOptions configures QueryTable.
type QueryOptions struct {
	Index        string
	KeyCondition expression.KeyConditionBuilder
	Filter       *expression.ConditionBuilder
	Limit        int32
	Next         string
	Reverse      bool
}

// ScanOptions configures ScanTable.
type ScanOptions struct {
	Index  string
	Filter *expression.ConditionBuilder
	Limit  int32
	Next   string
}

// QueryTable runs a single-partition query. Items are capped at the clamped
// limit; Next is set exactly when more data exists beyond this page. On
// archive-enabled tables a filter excluding archived items is always
// injected, and on TTL-enabled tables expired items are excluded.
func (c *Client) QueryTable(ctx context.Context, t Table, opts QueryOptions) (*Page, error) {
	limit, err := c.clampLimit(t, opts.Limit)
	if err != nil {
		return nil, err
	}

	builder := expression.NewBuilder().WithKeyCondition(opts.KeyCondition)
	builder, hasFilter := c.withFilters(t, builder, opts.Filter)
	expr, err := builder.Build()
	if err != nil {
		return nil, backendError(t, "query", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(t.Name),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(limit + 1),
		ScanIndexForward:          aws.Bool(!opts.Reverse),
	}
	if hasFilter {
		input.FilterExpression = expr.Filter()
	}
	if opts.Index != "" {
		input.IndexName = aws.String(opts.Index)
	}
	if opts.Next != "" {
		start, err := cursor.Decode(opts.Next)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidNext, err)
		}
		input.ExclusiveStartKey = start
	}

	out, err := c.api.Query(ctx, input)
	if err != nil {
		return nil, backendError(t, "query", err)
	}
	return c.buildPage(t, opts.Index, out.Items, out.LastEvaluatedKey, limit)
}

// ScanTable runs a full-table scan with the same limit, filter, and cursor
// contract as QueryTable. Ordering is whatever the backend returns.
func (c *Client) ScanTable(ctx context.Context, t Table, opts ScanOptions) (*Page, error) {
	limit, err := c.clampLimit(t, opts.Limit)
	if err != nil {
		return nil, err
	}

	builder := expression.NewBuilder()
	builder, hasFilter := c.withFilters(t, builder, opts.Filter)

	input := &dynamodb.ScanInput{
		TableName: aws.String(t.Name),
		Limit:     aws.Int32(limit + 1),
	}
	if hasFilter {
		expr, err := builder.Build()
		if err != nil {
			return nil, backendError(t, "scan", err)
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}
	if opts.Index != "" {
		input.IndexName = aws.String(opts.Index)
	}
	if opts.Next != "" {
		start, err := cursor.Decode(opts.Next)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidNext, err)
		}
		input.ExclusiveStartKey = start
	}

	out, err := c.api.Scan(ctx, input)
	if err != nil {
		return nil, backendError(t, "scan", err)
	}
	return c.buildPage(t, opts.Index, out.Items, out.LastEvaluatedKey, limit)
}

// clampLimit resolves the effective page size: zero falls back to the table
// default, values above the table maximum are capped, negatives are invalid.
func (c *Client) clampLimit(t Table, limit int32) (int32, error) {
	def, max := t.limits()
	switch {
	case limit < 0:
		return 0, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	case limit == 0:
		return def, nil
	case limit > max:
		return max, nil
	default:
		return limit, nil
	}
}

// withFilters merges the caller's filter with the implicit not-archived and
// not-expired filters the table schema demands.
func (c *Client) withFilters(t Table, builder expression.Builder, filter *expression.ConditionBuilder) (expression.Builder, bool) {
	var conds []expression.ConditionBuilder
	if filter != nil {
		conds = append(conds, *filter)
	}
	if t.Archive {
		conds = append(conds, expression.Or(
			expression.AttributeNotExists(expression.Name(archiveAttribute)),
			expression.Name(archiveAttribute).NotEqual(expression.Value(true)),
		))
	}
	if t.TTLAttribute != "" {
		conds = append(conds, expression.Or(
			expression.AttributeNotExists(expression.Name(t.TTLAttribute)),
			expression.Name(t.TTLAttribute).GreaterThan(expression.Value(c.clock().Unix())),
		))
	}
	if len(conds) == 0 {
		return builder, false
	}

	combined := conds[0]
	for _, cond := range conds[1:] {
		combined = combined.And(cond)
	}
	return builder.WithFilter(combined), true
}

// buildPage truncates an over-fetched result set to the requested limit and
// derives the resume token. Requesting limit+1 rows lets the page report
// "no more data" precisely instead of trusting the backend's resume key,
// which is set whenever the scan stopped at the limit even at the end of the
// partition.
func (c *Client) buildPage(t Table, index string, raw []map[string]types.AttributeValue, lastEvaluated map[string]types.AttributeValue, limit int32) (*Page, error) {
	items := make([]Item, len(raw))
	for i, r := range raw {
		items[i] = Item(r)
	}

	var next string
	if len(items) > int(limit) {
		items = items[:limit]
		token, err := cursor.Encode(t.resumeKeyFor(items[limit-1], index))
		if err != nil {
			return nil, backendError(t, "paginate", err)
		}
		next = token
	} else if lastEvaluated != nil {
		token, err := cursor.Encode(lastEvaluated)
		if err != nil {
			return nil, backendError(t, "paginate", err)
		}
		next = token
	}

	live := make([]Item, 0, len(items))
	for _, item := range items {
		if c.restoreTTLOnRead(t, item) {
			live = append(live, item)
		}
	}
	return &Page{Items: live, Next: next}, nil
}
