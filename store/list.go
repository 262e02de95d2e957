package store

import (
	"context"
	"sort"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"

	"github.com/platformkit/entstore/internal/cursor"
	"github.com/platformkit/entstore/table"
)

// ListOptions configures List. AccountID and SubscriptionID are required;
// everything else narrows or pages the result.
type ListOptions struct {
	AccountID      string
	SubscriptionID string

	// IDPrefix restricts the listing to ids beginning with the prefix.
	IDPrefix string

	// Tags restricts the listing to entities carrying every given tag with
	// exactly the given value.
	Tags map[string]string

	// Limit is the page size. Zero means the store default; values above the
	// maximum are capped; negative values are rejected.
	Limit int

	// Next resumes a previous listing from its returned token.
	Next string
}

// EntityPage is one page of a listing.
type EntityPage struct {
	Items []Entity

	// Next is the resume token for the following page, empty when the listing
	// is exhausted.
	Next string
}

// List returns one tenant's entities of a type in ascending id order,
// optionally narrowed by id prefix and tags. Pages are always full (up to the
// effective limit) unless the listing is exhausted, and Next is set exactly
// when more matches exist.
func (s *Store) List(ctx context.Context, entityType string, opts ListOptions) (*EntityPage, error) {
	if _, err := s.definition(entityType); err != nil {
		return nil, err
	}
	if err := validateScope(opts.AccountID, opts.SubscriptionID); err != nil {
		return nil, err
	}
	limit, err := s.clampLimit(opts.Limit)
	if err != nil {
		return nil, err
	}
	for key := range opts.Tags {
		if err := validateTagKey(key); err != nil {
			return nil, err
		}
	}

	kc := s.keyCondition(entityType, opts.AccountID, opts.SubscriptionID, opts.IDPrefix)
	filter := tagFilter(opts.Tags)

	// Tag filtering happens after the key read on the backend, so a single
	// query page may come back short, or even empty, while matches remain.
	// Keep querying until a full page is assembled or the partition ends.
	var collected []table.Item
	next := opts.Next
	for {
		page, err := s.tables.QueryTable(ctx, s.table, table.QueryOptions{
			KeyCondition: kc,
			Filter:       filter,
			Limit:        int32(limit),
			Next:         next,
		})
		if err != nil {
			return nil, err
		}
		collected = append(collected, page.Items...)
		next = page.Next
		if len(collected) > limit || next == "" {
			break
		}
	}

	if len(collected) > limit {
		collected = collected[:limit]
		last := collected[limit-1]
		token, err := cursor.Encode(table.Key{attrPK: last[attrPK], attrSK: last[attrSK]})
		if err != nil {
			return nil, err
		}
		next = token
	}

	items := make([]Entity, 0, len(collected))
	for _, item := range collected {
		e, err := s.unmarshalEntity(item)
		if err != nil {
			return nil, err
		}
		items = append(items, *e)
	}
	return &EntityPage{Items: items, Next: next}, nil
}

// clampLimit mirrors the table layer's limit contract so the listing loop
// knows the effective page size it is assembling.
func (s *Store) clampLimit(limit int) (int, error) {
	switch {
	case limit < 0:
		return 0, table.ErrInvalidLimit
	case limit == 0:
		return s.config.DefaultListLimit, nil
	case limit > s.config.MaxListLimit:
		return s.config.MaxListLimit, nil
	default:
		return limit, nil
	}
}

func (s *Store) keyCondition(entityType, accountID, subscriptionID, idPrefix string) expression.KeyConditionBuilder {
	kc := expression.Key(attrPK).Equal(expression.Value(partitionKey(accountID, subscriptionID, entityType)))
	if idPrefix != "" {
		kc = kc.And(expression.Key(attrSK).BeginsWith(idPrefix))
	}
	return kc
}

// tagFilter builds the conjunction of per-tag equality conditions; every
// requested tag must match.
func tagFilter(tags map[string]string) *expression.ConditionBuilder {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var combined expression.ConditionBuilder
	for i, key := range keys {
		cond := expression.Name(attrTags + "." + key).Equal(expression.Value(tags[key]))
		if i == 0 {
			combined = cond
		} else {
			combined = combined.And(cond)
		}
	}
	return &combined
}
