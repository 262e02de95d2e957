package table

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const tableWaitTimeout = 2 * time.Minute

// EnsureTable idempotently creates the backend table, its secondary indexes,
// and its TTL configuration. It checks existence first, waits for a freshly
// created table to become active, and is safe to call repeatedly.
func (c *Client) EnsureTable(ctx context.Context, t Table) error {
	_, err := c.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(t.Name),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if !errors.As(err, &notFound) {
			return backendError(t, "describe", err)
		}
		if err := c.createTable(ctx, t); err != nil {
			return err
		}
	}
	return c.ensureTTL(ctx, t)
}

func (c *Client) createTable(ctx context.Context, t Table) error {
	input := &dynamodb.CreateTableInput{
		TableName:            aws.String(t.Name),
		BillingMode:          types.BillingModePayPerRequest,
		KeySchema:            keySchema(t.Keys),
		AttributeDefinitions: attributeDefinitions(t),
	}
	for _, idx := range t.Indexes {
		gsi := types.GlobalSecondaryIndex{
			IndexName: aws.String(idx.Name),
			KeySchema: keySchema(idx.Keys),
			Projection: &types.Projection{
				ProjectionType: types.ProjectionTypeAll,
			},
		}
		if len(idx.Projected) > 0 {
			gsi.Projection = &types.Projection{
				ProjectionType:   types.ProjectionTypeInclude,
				NonKeyAttributes: idx.Projected,
			}
		}
		input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, gsi)
	}

	if _, err := c.api.CreateTable(ctx, input); err != nil {
		var exists *types.ResourceInUseException
		if errors.As(err, &exists) {
			return nil // lost a create race, the table is on its way
		}
		return backendError(t, "create", err)
	}

	waiter := dynamodb.NewTableExistsWaiter(c.api)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(t.Name),
	}, tableWaitTimeout); err != nil {
		return backendError(t, "wait for table", err)
	}
	return nil
}

func (c *Client) ensureTTL(ctx context.Context, t Table) error {
	if t.TTLAttribute == "" {
		return nil
	}

	out, err := c.api.DescribeTimeToLive(ctx, &dynamodb.DescribeTimeToLiveInput{
		TableName: aws.String(t.Name),
	})
	if err != nil {
		return backendError(t, "describe ttl", err)
	}
	if desc := out.TimeToLiveDescription; desc != nil {
		switch desc.TimeToLiveStatus {
		case types.TimeToLiveStatusEnabled, types.TimeToLiveStatusEnabling:
			if aws.ToString(desc.AttributeName) == t.TTLAttribute {
				return nil
			}
		}
	}

	_, err = c.api.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(t.Name),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String(t.TTLAttribute),
			Enabled:       aws.Bool(true),
		},
	})
	if err != nil {
		return backendError(t, "enable ttl", err)
	}
	return nil
}

func keySchema(keys []KeyAttribute) []types.KeySchemaElement {
	schema := make([]types.KeySchemaElement, 0, len(keys))
	for i, k := range keys {
		keyType := types.KeyTypeHash
		if i > 0 {
			keyType = types.KeyTypeRange
		}
		schema = append(schema, types.KeySchemaElement{
			AttributeName: aws.String(k.Name),
			KeyType:       keyType,
		})
	}
	return schema
}

func attributeDefinitions(t Table) []types.AttributeDefinition {
	seen := map[string]bool{}
	var defs []types.AttributeDefinition
	add := func(keys []KeyAttribute) {
		for _, k := range keys {
			if seen[k.Name] {
				continue
			}
			seen[k.Name] = true
			defs = append(defs, types.AttributeDefinition{
				AttributeName: aws.String(k.Name),
				AttributeType: k.Type,
			})
		}
	}
	add(t.Keys)
	for _, idx := range t.Indexes {
		add(idx.Keys)
	}
	return defs
}
