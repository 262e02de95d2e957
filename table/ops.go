package table

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// GetOptions configures GetItem.
type GetOptions struct {
	// OnNotFound is invoked instead of returning (nil, nil) when the key has
	// no live item. It may synthesize a fallback item or signal its own error.
	OnNotFound func(Key) (Item, error)

	ConsistentRead bool
}

// PutOptions configures PutItem and AddItem.
type PutOptions struct {
	// Condition, Names and Values hold an optional extra condition expression
	// merged with any conditions the client injects itself.
	Condition string
	Names     map[string]string
	Values    map[string]types.AttributeValue

	// OnConditionCheckFailed is invoked when the conditional write loses its
	// race; its return value replaces ErrConditionFailed (nil swallows it).
	OnConditionCheckFailed func(Key, error) error
}

// UpdateOptions configures UpdateItem.
type UpdateOptions struct {
	// Set maps attribute paths (dotted for nested map members) to new values.
	Set Item

	// Remove lists attribute paths to delete from the item.
	Remove []string

	Condition string
	Names     map[string]string
	Values    map[string]types.AttributeValue

	OnConditionCheckFailed func(Key, error) error
}

// GetItem fetches one item. Absent, archived, and expired items all take the
// not-found path: OnNotFound when supplied, (nil, nil) otherwise. A declared
// TTL attribute is re-expressed as remaining seconds before the item is
// returned.
func (c *Client) GetItem(ctx context.Context, t Table, key Key, opts GetOptions) (Item, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(t.Name),
		Key:            key,
		ConsistentRead: aws.Bool(opts.ConsistentRead),
	})
	if err != nil {
		return nil, backendError(t, "get", err)
	}

	item := Item(out.Item)
	live := item != nil && !(t.Archive && isArchived(item)) && c.restoreTTLOnRead(t, item)
	if !live {
		if opts.OnNotFound != nil {
			return opts.OnNotFound(key)
		}
		return nil, nil
	}
	return item, nil
}

// PutItem writes an item unconditionally, or under the caller's condition
// when one is supplied. A relative TTL delta on the declared TTL attribute is
// converted to an absolute expiry before the write.
func (c *Client) PutItem(ctx context.Context, t Table, item Item, opts PutOptions) error {
	stored := cloneItem(item)
	if err := c.applyTTLOnWrite(t, stored); err != nil {
		return err
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(t.Name),
		Item:      stored,
	}
	if opts.Condition != "" {
		input.ConditionExpression = aws.String(opts.Condition)
		input.ExpressionAttributeNames = opts.Names
		input.ExpressionAttributeValues = opts.Values
	}

	_, err := c.api.PutItem(ctx, input)
	return c.classifyWrite(t, "put", t.keyOf(item), err, opts.OnConditionCheckFailed)
}

// AddItem is PutItem with an implicit attribute_not_exists condition for
// every declared key attribute: it fails with ErrConditionFailed when an item
// already exists at the key.
func (c *Client) AddItem(ctx context.Context, t Table, item Item, opts PutOptions) error {
	b := newExprBuilder(opts.Names, opts.Values)
	clauses := make([]string, 0, len(t.Keys)+1)
	for _, k := range t.Keys {
		clauses = append(clauses, "attribute_not_exists("+b.name(k.Name)+")")
	}
	if opts.Condition != "" {
		clauses = append(clauses, "("+opts.Condition+")")
	}

	opts.Condition = strings.Join(clauses, " AND ")
	opts.Names = b.names
	opts.Values = b.values
	return c.PutItem(ctx, t, item, opts)
}

// UpdateItem applies attribute-level SET and REMOVE expressions to an
// existing item. Conditions requiring the full key to exist are always
// injected, and on archive-enabled tables an implicit not-archived guard is
// added. The post-update item is returned with TTL re-expressed as remaining
// seconds.
func (c *Client) UpdateItem(ctx context.Context, t Table, key Key, opts UpdateOptions) (Item, error) {
	b := newExprBuilder(opts.Names, opts.Values)

	set := cloneItem(opts.Set)
	if err := c.applyTTLOnWrite(t, set); err != nil {
		return nil, err
	}

	var parts []string
	if len(set) > 0 {
		clauses := make([]string, 0, len(set))
		for _, path := range sortedPaths(set) {
			clauses = append(clauses, b.name(path)+" = "+b.value(set[path]))
		}
		parts = append(parts, "SET "+strings.Join(clauses, ", "))
	}
	if len(opts.Remove) > 0 {
		refs := make([]string, 0, len(opts.Remove))
		for _, path := range opts.Remove {
			refs = append(refs, b.name(path))
		}
		parts = append(parts, "REMOVE "+strings.Join(refs, ", "))
	}

	conds := make([]string, 0, len(t.Keys)+3)
	for _, k := range t.Keys {
		conds = append(conds, "attribute_exists("+b.name(k.Name)+")")
	}
	if t.Archive {
		arch := b.name(archiveAttribute)
		conds = append(conds, "(attribute_not_exists("+arch+") OR "+arch+" <> "+
			b.value(&types.AttributeValueMemberBOOL{Value: true})+")")
	}
	if t.TTLAttribute != "" {
		// An expired row is logically absent even while it still exists
		// physically; refuse to update it.
		ttl := b.name(t.TTLAttribute)
		now := b.value(&types.AttributeValueMemberN{Value: strconv.FormatInt(c.clock().Unix(), 10)})
		conds = append(conds, "(attribute_not_exists("+ttl+") OR "+ttl+" > "+now+")")
	}
	if opts.Condition != "" {
		conds = append(conds, "("+opts.Condition+")")
	}

	out, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(t.Name),
		Key:                       key,
		UpdateExpression:          aws.String(strings.Join(parts, " ")),
		ConditionExpression:       aws.String(strings.Join(conds, " AND ")),
		ExpressionAttributeNames:  b.names,
		ExpressionAttributeValues: b.values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return nil, c.classifyWrite(t, "update", key, err, opts.OnConditionCheckFailed)
	}

	item := Item(out.Attributes)
	c.restoreTTLOnRead(t, item)
	return item, nil
}

// DeleteItem removes an item and reports whether a live item was actually
// removed; deleting an absent, archived, or already-expired item returns
// false without error.
func (c *Client) DeleteItem(ctx context.Context, t Table, key Key) (bool, error) {
	out, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(t.Name),
		Key:          key,
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, backendError(t, "delete", err)
	}

	old := Item(out.Attributes)
	if old == nil || (t.Archive && isArchived(old)) || !c.restoreTTLOnRead(t, old) {
		return false, nil
	}
	return true, nil
}

// ArchiveItem soft-deletes an item on an archive-enabled table. The write is
// guarded by "archive flag differs from the requested value", so the loser of
// two concurrent identical calls observes ErrConditionFailed.
func (c *Client) ArchiveItem(ctx context.Context, t Table, key Key) error {
	return c.setArchive(ctx, t, key, true)
}

// UnarchiveItem reverses ArchiveItem under the same differing-value guard.
func (c *Client) UnarchiveItem(ctx context.Context, t Table, key Key) error {
	return c.setArchive(ctx, t, key, false)
}

func (c *Client) setArchive(ctx context.Context, t Table, key Key, flag bool) error {
	if !t.Archive {
		return ErrArchiveNotEnabled
	}

	b := newExprBuilder(nil, nil)
	arch := b.name(archiveAttribute)
	requested := b.value(&types.AttributeValueMemberBOOL{Value: flag})

	conds := make([]string, 0, len(t.Keys)+1)
	for _, k := range t.Keys {
		conds = append(conds, "attribute_exists("+b.name(k.Name)+")")
	}
	if flag {
		conds = append(conds, "(attribute_not_exists("+arch+") OR "+arch+" <> "+requested+")")
	} else {
		conds = append(conds, arch+" <> "+requested)
	}

	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(t.Name),
		Key:                       key,
		UpdateExpression:          aws.String("SET " + arch + " = " + requested),
		ConditionExpression:       aws.String(strings.Join(conds, " AND ")),
		ExpressionAttributeNames:  b.names,
		ExpressionAttributeValues: b.values,
	})
	return c.classifyWrite(t, "archive", key, err, nil)
}

// classifyWrite maps a write error into the package taxonomy, honoring the
// caller's condition-failure override when one is supplied.
func (c *Client) classifyWrite(t Table, action string, key Key, err error, onConditionCheckFailed func(Key, error) error) error {
	if err == nil {
		return nil
	}
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		if onConditionCheckFailed != nil {
			return onConditionCheckFailed(key, ErrConditionFailed)
		}
		return ErrConditionFailed
	}
	return backendError(t, action, err)
}

// exprBuilder allocates expression aliases, merging in any caller-supplied
// name and value maps so injected and caller conditions can share one
// expression namespace.
type exprBuilder struct {
	names  map[string]string
	values map[string]types.AttributeValue
	n, v   int
}

func newExprBuilder(names map[string]string, values map[string]types.AttributeValue) *exprBuilder {
	b := &exprBuilder{
		names:  make(map[string]string, len(names)+4),
		values: make(map[string]types.AttributeValue, len(values)+4),
	}
	for k, v := range names {
		b.names[k] = v
	}
	for k, v := range values {
		b.values[k] = v
	}
	return b
}

// name registers a dotted attribute path and returns its aliased reference,
// e.g. "tags.color" becomes "#n0.#n1".
func (b *exprBuilder) name(path string) string {
	segments := strings.Split(path, ".")
	refs := make([]string, 0, len(segments))
	for _, seg := range segments {
		ref := "#n" + strconv.Itoa(b.n)
		b.n++
		b.names[ref] = seg
		refs = append(refs, ref)
	}
	return strings.Join(refs, ".")
}

func (b *exprBuilder) value(av types.AttributeValue) string {
	ref := ":v" + strconv.Itoa(b.v)
	b.v++
	b.values[ref] = av
	return ref
}

func sortedPaths(set Item) []string {
	paths := make([]string, 0, len(set))
	for path := range set {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func cloneItem(item Item) Item {
	if item == nil {
		return nil
	}
	cp := make(Item, len(item))
	for k, v := range item {
		cp[k] = v
	}
	return cp
}
