package table

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	// batchSize is the per-call item ceiling for the backend's batch APIs.
	batchSize = 25

	// maxStalledPasses bounds the unprocessed-item requeue loop: a chunk that
	// makes no progress this many consecutive times aborts the operation
	// instead of spinning.
	maxStalledPasses = 5
)

// GetAllItems fetches the given keys in chunks, re-queuing any keys the
// backend reports as unprocessed until the input is exhausted. Archived and
// expired items are omitted from the result; ordering is not guaranteed.
func (c *Client) GetAllItems(ctx context.Context, t Table, keys []Key) ([]Item, error) {
	pending := make([]map[string]types.AttributeValue, len(keys))
	for i, k := range keys {
		pending[i] = k
	}

	var items []Item
	stalled := 0
	for len(pending) > 0 {
		n := min(batchSize, len(pending))
		chunk := pending[:n]

		out, err := c.api.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: map[string]types.KeysAndAttributes{
				t.Name: {Keys: chunk},
			},
		})
		if err != nil {
			return nil, backendError(t, "batch get", err)
		}

		for _, raw := range out.Responses[t.Name] {
			item := Item(raw)
			if t.Archive && isArchived(item) {
				continue
			}
			if c.restoreTTLOnRead(t, item) {
				items = append(items, item)
			}
		}

		unprocessed := out.UnprocessedKeys[t.Name].Keys
		if len(unprocessed) == n {
			stalled++
			if stalled >= maxStalledPasses {
				return nil, backendError(t, "batch get",
					fmt.Errorf("%d keys still unprocessed after %d passes", len(unprocessed), stalled))
			}
		} else {
			stalled = 0
		}
		pending = append(pending[n:], unprocessed...)
	}
	return items, nil
}

// PutAllItems writes the given items in chunks with the same
// unprocessed-requeue contract as GetAllItems: on return every item has been
// applied, or the call has failed.
func (c *Client) PutAllItems(ctx context.Context, t Table, items []Item) error {
	requests := make([]types.WriteRequest, 0, len(items))
	for _, item := range items {
		stored := cloneItem(item)
		if err := c.applyTTLOnWrite(t, stored); err != nil {
			return err
		}
		requests = append(requests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: stored},
		})
	}
	return c.writeAll(ctx, t, "batch put", requests)
}

// DeleteAllItems deletes the given keys in chunks with the same
// unprocessed-requeue contract as PutAllItems.
func (c *Client) DeleteAllItems(ctx context.Context, t Table, keys []Key) error {
	requests := make([]types.WriteRequest, 0, len(keys))
	for _, key := range keys {
		requests = append(requests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: key},
		})
	}
	return c.writeAll(ctx, t, "batch delete", requests)
}

func (c *Client) writeAll(ctx context.Context, t Table, action string, pending []types.WriteRequest) error {
	stalled := 0
	for len(pending) > 0 {
		n := min(batchSize, len(pending))
		chunk := pending[:n]

		out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				t.Name: chunk,
			},
		})
		if err != nil {
			return backendError(t, action, err)
		}

		unprocessed := out.UnprocessedItems[t.Name]
		if len(unprocessed) == n {
			stalled++
			if stalled >= maxStalledPasses {
				return backendError(t, action,
					fmt.Errorf("%d requests still unprocessed after %d passes", len(unprocessed), stalled))
			}
		} else {
			stalled = 0
		}
		pending = append(pending[n:], unprocessed...)
	}
	return nil
}
