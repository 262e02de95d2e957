package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/platformkit/entstore/table"
)

const (
	attrPK      = "pk"
	attrSK      = "sk"
	attrData    = "data"
	attrTags    = "tags"
	attrVersion = "version"

	// minDeletePrefix is the shortest id prefix a prefix delete accepts. A
	// shorter prefix would sweep most of a tenant's entities in one call.
	minDeletePrefix = 3
)

// Key addresses a single entity.
type Key struct {
	AccountID      string
	SubscriptionID string
	ID             string
}

// DeleteKey addresses the target of a delete: either one entity by ID, or a
// whole id subtree by IDPrefix. Exactly one of the two must be set.
type DeleteKey struct {
	AccountID      string
	SubscriptionID string
	ID             string
	IDPrefix       string
}

// Entity is one stored entity.
type Entity struct {
	AccountID      string
	SubscriptionID string
	EntityType     string
	ID             string

	// Data is the opaque caller payload. The store never inspects it.
	Data json.RawMessage

	// Tags are free-form labels, mutable independently of Data.
	Tags map[string]string

	// Version is minted by the store on every mutation. Callers pass the
	// version they last read to mutate with compare-and-swap semantics.
	Version string

	// Expires is the entity's expiry instant, zero for entities that do not
	// expire.
	Expires time.Time
}

// TagSet is the tag view of an entity: its tags plus the version that guards
// further mutations.
type TagSet struct {
	Tags    map[string]string
	Version string
}

// validateKeyPart rejects empty components and components that would corrupt
// the composite partition key.
func validateKeyPart(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidArgument, field)
	}
	if strings.Contains(value, "/") {
		return fmt.Errorf("%w: %s must not contain %q", ErrInvalidArgument, field, "/")
	}
	return nil
}

func validateScope(accountID, subscriptionID string) error {
	if err := validateKeyPart("account id", accountID); err != nil {
		return err
	}
	return validateKeyPart("subscription id", subscriptionID)
}

func validateKey(key Key) error {
	if err := validateScope(key.AccountID, key.SubscriptionID); err != nil {
		return err
	}
	if key.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidArgument)
	}
	return nil
}

func validateTagKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: tag key is required", ErrInvalidArgument)
	}
	if strings.ContainsAny(key, ". ") {
		return fmt.Errorf("%w: tag key %q must not contain dots or spaces", ErrInvalidArgument, key)
	}
	return nil
}

// partitionKey scopes all of one tenant's entities of one type into a single
// partition.
func partitionKey(accountID, subscriptionID, entityType string) string {
	return accountID + "/" + subscriptionID + "/" + entityType
}

func (s *Store) keyOf(entityType string, key Key) table.Key {
	return table.Key{
		attrPK: &types.AttributeValueMemberS{Value: partitionKey(key.AccountID, key.SubscriptionID, entityType)},
		attrSK: &types.AttributeValueMemberS{Value: key.ID},
	}
}

// marshalEntity builds the stored item. A positive ttl is written as a
// relative delta in seconds; the table layer converts it to an absolute
// expiry.
func (s *Store) marshalEntity(entityType string, e Entity, version string, ttl time.Duration) (table.Item, error) {
	tags := e.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	for key := range tags {
		if err := validateTagKey(key); err != nil {
			return nil, err
		}
	}
	tagsAV, err := attributevalue.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("%w: tags: %v", ErrInvalidArgument, err)
	}

	item := table.Item{
		attrPK:      &types.AttributeValueMemberS{Value: partitionKey(e.AccountID, e.SubscriptionID, entityType)},
		attrSK:      &types.AttributeValueMemberS{Value: e.ID},
		attrTags:    tagsAV,
		attrVersion: &types.AttributeValueMemberS{Value: version},
	}
	if len(e.Data) > 0 {
		item[attrData] = &types.AttributeValueMemberS{Value: string(e.Data)}
	}
	if ttl > 0 {
		seconds := int64(ttl / time.Second)
		if seconds <= 0 {
			seconds = 1
		}
		item[s.config.TTLAttribute] = &types.AttributeValueMemberN{Value: strconv.FormatInt(seconds, 10)}
	}
	return item, nil
}

// unmarshalEntity rebuilds an Entity from a stored item. The TTL attribute
// arrives from the table layer as remaining seconds and is re-expressed as an
// absolute expiry on the store's clock.
func (s *Store) unmarshalEntity(item table.Item) (*Entity, error) {
	pk, ok := item[attrPK].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("entstore: item is missing its partition key")
	}
	parts := strings.SplitN(pk.Value, "/", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("entstore: malformed partition key %q", pk.Value)
	}
	sk, ok := item[attrSK].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("entstore: item is missing its sort key")
	}

	e := &Entity{
		AccountID:      parts[0],
		SubscriptionID: parts[1],
		EntityType:     parts[2],
		ID:             sk.Value,
		Tags:           map[string]string{},
	}
	if data, ok := item[attrData].(*types.AttributeValueMemberS); ok {
		e.Data = json.RawMessage(data.Value)
	}
	if tagsAV, ok := item[attrTags]; ok {
		if err := attributevalue.Unmarshal(tagsAV, &e.Tags); err != nil {
			return nil, fmt.Errorf("entstore: malformed tags on %s/%s: %v", pk.Value, sk.Value, err)
		}
	}
	if version, ok := item[attrVersion].(*types.AttributeValueMemberS); ok {
		e.Version = version.Value
	}
	if expires, ok := item[s.config.TTLAttribute].(*types.AttributeValueMemberN); ok {
		remaining, err := strconv.ParseInt(expires.Value, 10, 64)
		if err == nil && remaining > 0 {
			e.Expires = s.clock().Add(time.Duration(remaining) * time.Second)
		}
	}
	return e, nil
}
