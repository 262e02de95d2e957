package table

import (
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// applyTTLOnWrite rewrites a relative TTL delta (seconds remaining) into the
// absolute Unix expiry DynamoDB's TTL reclamation expects. The caller-facing
// representation is always relative; only stored items carry absolute time.
func (c *Client) applyTTLOnWrite(t Table, item Item) error {
	if t.TTLAttribute == "" {
		return nil
	}
	av, ok := item[t.TTLAttribute]
	if !ok {
		return nil
	}
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return fmt.Errorf("%w: attribute %s must be a number", ErrInvalidTTL, t.TTLAttribute)
	}
	delta, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTTL, n.Value)
	}
	if delta <= 0 {
		return fmt.Errorf("%w: ttl delta must be positive, got %d", ErrInvalidTTL, delta)
	}
	absolute := c.clock().Unix() + delta
	item[t.TTLAttribute] = &types.AttributeValueMemberN{Value: strconv.FormatInt(absolute, 10)}
	return nil
}

// restoreTTLOnRead converts a stored absolute expiry back into remaining
// seconds. It reports whether the item is still live; expired items must be
// treated as absent even before DynamoDB reclaims the physical row.
func (c *Client) restoreTTLOnRead(t Table, item Item) bool {
	if t.TTLAttribute == "" {
		return true
	}
	av, ok := item[t.TTLAttribute]
	if !ok {
		return true
	}
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return true
	}
	absolute, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return true
	}
	remaining := absolute - c.clock().Unix()
	if remaining <= 0 {
		return false
	}
	item[t.TTLAttribute] = &types.AttributeValueMemberN{Value: strconv.FormatInt(remaining, 10)}
	return true
}

// isArchived reports whether an item carries the archive marker.
func isArchived(item Item) bool {
	av, ok := item[archiveAttribute]
	if !ok {
		return false
	}
	b, ok := av.(*types.AttributeValueMemberBOOL)
	return ok && b.Value
}
