package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/platformkit/entstore/table"
)

// GetTags returns an entity's tags and current version without touching
// either.
func (s *Store) GetTags(ctx context.Context, entityType string, key Key) (*TagSet, error) {
	e, err := s.Get(ctx, entityType, key)
	if err != nil {
		return nil, err
	}
	return &TagSet{Tags: e.Tags, Version: e.Version}, nil
}

// ReplaceTags swaps the entity's whole tag map, leaving Data untouched, and
// returns the new tag set with its new version. A non-empty version makes the
// write compare-and-swap; an empty version writes unconditionally.
func (s *Store) ReplaceTags(ctx context.Context, entityType string, key Key, tags map[string]string, version string) (*TagSet, error) {
	if tags == nil {
		tags = map[string]string{}
	}
	for tagKey := range tags {
		if err := validateTagKey(tagKey); err != nil {
			return nil, err
		}
	}
	return s.mutateTags(ctx, entityType, key, version, table.Item{
		attrTags: marshalTags(tags),
	}, nil)
}

// SetTag sets one tag to a value, leaving the rest of the tag map and Data
// untouched. Version follows the same optional compare-and-swap rule as
// ReplaceTags.
func (s *Store) SetTag(ctx context.Context, entityType string, key Key, tagKey, tagValue, version string) (*TagSet, error) {
	if err := validateTagKey(tagKey); err != nil {
		return nil, err
	}
	return s.mutateTags(ctx, entityType, key, version, table.Item{
		attrTags + "." + tagKey: &types.AttributeValueMemberS{Value: tagValue},
	}, nil)
}

// DeleteTag removes one tag. Removing a tag the entity does not carry is not
// an error, but still mints a new version: the mutation was requested and
// acknowledged, so the entity's history reflects it.
func (s *Store) DeleteTag(ctx context.Context, entityType string, key Key, tagKey, version string) (*TagSet, error) {
	if err := validateTagKey(tagKey); err != nil {
		return nil, err
	}
	return s.mutateTags(ctx, entityType, key, version, nil, []string{attrTags + "." + tagKey})
}

// mutateTags applies a tag-level update together with a version bump. A
// non-empty expected version guards the write with compare-and-swap; an empty
// one writes unconditionally against any live entity at the key.
func (s *Store) mutateTags(ctx context.Context, entityType string, key Key, expectedVersion string, set table.Item, remove []string) (*TagSet, error) {
	if _, err := s.definition(entityType); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	if set == nil {
		set = table.Item{}
	}
	version := s.newVersion()
	set[attrVersion] = &types.AttributeValueMemberS{Value: version}

	opts := table.UpdateOptions{Set: set, Remove: remove}
	if expectedVersion != "" {
		opts.Condition = "#cver = :cver"
		opts.Names = map[string]string{"#cver": attrVersion}
		opts.Values = map[string]types.AttributeValue{
			":cver": &types.AttributeValueMemberS{Value: expectedVersion},
		}
	}

	item, err := s.tables.UpdateItem(ctx, s.table, s.keyOf(entityType, key), opts)
	if err != nil {
		if errors.Is(err, table.ErrConditionFailed) {
			_, cerr := s.resolveWriteConflict(ctx, entityType, key, false, Entity{})
			if cerr == nil {
				cerr = fmt.Errorf("%w: version mismatch on %s", ErrConflict, key.ID)
			}
			return nil, cerr
		}
		return nil, err
	}

	e, err := s.unmarshalEntity(item)
	if err != nil {
		return nil, err
	}
	return &TagSet{Tags: e.Tags, Version: e.Version}, nil
}
