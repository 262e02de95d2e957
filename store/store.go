package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/platformkit/entstore/table"
)

// Store is the entity store. It is safe for concurrent use.
type Store struct {
	tables   *table.Client
	table    table.Table
	config   Config
	registry *Registry
	clock    table.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithRegistry replaces the default entity type registry.
func WithRegistry(r *Registry) Option {
	return func(s *Store) {
		s.registry = r
	}
}

// WithClock sets the time source used for expiry handling. Defaults to
// time.Now.
func WithClock(clock table.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// New creates a Store on top of the given DynamoDB API.
func New(api table.API, cfg Config, opts ...Option) *Store {
	cfg.validate()
	s := &Store{
		config:   cfg,
		registry: DefaultRegistry(),
		clock:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.tables = table.New(api, table.WithClock(s.clock))
	s.table = table.Table{
		Name: cfg.TableName,
		Keys: []table.KeyAttribute{
			{Name: attrPK, Type: types.ScalarAttributeTypeS},
			{Name: attrSK, Type: types.ScalarAttributeTypeS},
		},
		TTLAttribute: cfg.TTLAttribute,
		DefaultLimit: int32(cfg.DefaultListLimit),
		MaxLimit:     int32(cfg.MaxListLimit),
	}
	return s
}

// EnsureTable idempotently provisions the backing table and its TTL
// configuration.
func (s *Store) EnsureTable(ctx context.Context) error {
	return s.tables.EnsureTable(ctx, s.table)
}

func (s *Store) definition(entityType string) (Definition, error) {
	def, ok := s.registry.Lookup(entityType)
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownEntityType, entityType)
	}
	return def, nil
}

func (s *Store) newVersion() string {
	return uuid.NewString()
}

// ephemeralTTL resolves the lifetime of a new ephemeral entity: the caller's
// explicit choice, then the type default, then the store-wide default.
func (s *Store) ephemeralTTL(def Definition, requested time.Duration) time.Duration {
	if requested > 0 {
		return requested
	}
	if def.TTL > 0 {
		return def.TTL
	}
	return s.config.DefaultEphemeralTTL
}

// CreateOptions configures Create.
type CreateOptions struct {
	// TTL overrides the type's default lifetime for ephemeral entities. It is
	// illegal on non-ephemeral types.
	TTL time.Duration
}

// Create stores a new entity and returns it with its minted version. Creating
// over an existing live entity fails with ErrConflict, except for ephemeral
// types, where create is an overwrite: a fresh ephemeral entity simply
// supersedes whatever was at the key.
func (s *Store) Create(ctx context.Context, entityType string, e Entity, opts CreateOptions) (*Entity, error) {
	def, err := s.definition(entityType)
	if err != nil {
		return nil, err
	}
	if err := validateKey(Key{AccountID: e.AccountID, SubscriptionID: e.SubscriptionID, ID: e.ID}); err != nil {
		return nil, err
	}
	if opts.TTL < 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", ErrInvalidArgument)
	}
	if opts.TTL > 0 && !def.Ephemeral {
		return nil, fmt.Errorf("%w: entity type %q does not expire", ErrInvalidArgument, entityType)
	}

	version := s.newVersion()
	var ttl time.Duration
	if def.Ephemeral {
		ttl = s.ephemeralTTL(def, opts.TTL)
	}
	item, err := s.marshalEntity(entityType, e, version, ttl)
	if err != nil {
		return nil, err
	}

	if def.Ephemeral {
		if err := s.tables.PutItem(ctx, s.table, item, table.PutOptions{}); err != nil {
			return nil, err
		}
	} else {
		if err := s.tables.AddItem(ctx, s.table, item, table.PutOptions{}); err != nil {
			if errors.Is(err, table.ErrConditionFailed) {
				return nil, fmt.Errorf("%w: %s already exists", ErrConflict, e.ID)
			}
			return nil, err
		}
	}

	out := e
	out.EntityType = entityType
	out.Version = version
	if out.Tags == nil {
		out.Tags = map[string]string{}
	}
	if ttl > 0 {
		out.Expires = s.clock().Add(ttl)
	}
	return &out, nil
}

// Get fetches one entity. Absent and expired entities both fail with
// ErrNotFound.
func (s *Store) Get(ctx context.Context, entityType string, key Key) (*Entity, error) {
	if _, err := s.definition(entityType); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	item, err := s.tables.GetItem(ctx, s.table, s.keyOf(entityType, key), table.GetOptions{})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key.ID)
	}
	return s.unmarshalEntity(item)
}

// UpdateOptions configures Update.
type UpdateOptions struct {
	// Upsert creates the entity when it does not exist. Without it, updating
	// a missing entity fails with ErrNotFound.
	Upsert bool
}

// Update replaces an entity's data and tags under compare-and-swap on
// e.Version: when the stored version differs the call fails with ErrConflict
// and nothing changes. The entity is returned with its new version. An empty
// e.Version is only legal together with Upsert, where it means "create if
// absent, never overwrite".
func (s *Store) Update(ctx context.Context, entityType string, e Entity, opts UpdateOptions) (*Entity, error) {
	if _, err := s.definition(entityType); err != nil {
		return nil, err
	}
	key := Key{AccountID: e.AccountID, SubscriptionID: e.SubscriptionID, ID: e.ID}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if e.Version == "" {
		if !opts.Upsert {
			return nil, fmt.Errorf("%w: version is required", ErrInvalidArgument)
		}
		return s.upsertCreate(ctx, entityType, e)
	}

	tags := e.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	for tagKey := range tags {
		if err := validateTagKey(tagKey); err != nil {
			return nil, err
		}
	}
	version := s.newVersion()
	set := table.Item{
		attrTags:    marshalTags(tags),
		attrVersion: &types.AttributeValueMemberS{Value: version},
	}
	var remove []string
	if len(e.Data) > 0 {
		set[attrData] = &types.AttributeValueMemberS{Value: string(e.Data)}
	} else {
		remove = append(remove, attrData)
	}

	item, err := s.tables.UpdateItem(ctx, s.table, s.keyOf(entityType, key), table.UpdateOptions{
		Set:       set,
		Remove:    remove,
		Condition: "#cver = :cver",
		Names:     map[string]string{"#cver": attrVersion},
		Values: map[string]types.AttributeValue{
			":cver": &types.AttributeValueMemberS{Value: e.Version},
		},
	})
	if err != nil {
		if errors.Is(err, table.ErrConditionFailed) {
			return s.resolveWriteConflict(ctx, entityType, key, opts.Upsert, e)
		}
		return nil, err
	}
	return s.unmarshalEntity(item)
}

// upsertCreate handles the versionless upsert path: create the entity, and
// report a conflict if someone else created it first.
func (s *Store) upsertCreate(ctx context.Context, entityType string, e Entity) (*Entity, error) {
	created, err := s.Create(ctx, entityType, e, CreateOptions{})
	if err != nil && errors.Is(err, ErrConflict) {
		return nil, fmt.Errorf("%w: %s was created concurrently", ErrConflict, e.ID)
	}
	return created, err
}

// resolveWriteConflict disambiguates a failed compare-and-swap: a missing
// entity is ErrNotFound (or, for upserts, a create), a present one with a
// different version is ErrConflict.
func (s *Store) resolveWriteConflict(ctx context.Context, entityType string, key Key, upsert bool, e Entity) (*Entity, error) {
	item, err := s.tables.GetItem(ctx, s.table, s.keyOf(entityType, key), table.GetOptions{ConsistentRead: true})
	if err != nil {
		return nil, err
	}
	if item == nil {
		if upsert {
			return s.upsertCreate(ctx, entityType, e)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key.ID)
	}
	return nil, fmt.Errorf("%w: version mismatch on %s", ErrConflict, key.ID)
}

// Delete removes one entity by ID, or a whole subtree by IDPrefix, and
// reports whether anything was removed. Deleting what is already gone returns
// false without error. Prefix deletes refuse prefixes shorter than three
// characters.
func (s *Store) Delete(ctx context.Context, entityType string, key DeleteKey) (bool, error) {
	if _, err := s.definition(entityType); err != nil {
		return false, err
	}
	if err := validateScope(key.AccountID, key.SubscriptionID); err != nil {
		return false, err
	}

	switch {
	case key.ID != "" && key.IDPrefix != "":
		return false, fmt.Errorf("%w: id and id prefix are mutually exclusive", ErrInvalidArgument)
	case key.ID != "":
		return s.tables.DeleteItem(ctx, s.table, s.keyOf(entityType, Key{
			AccountID:      key.AccountID,
			SubscriptionID: key.SubscriptionID,
			ID:             key.ID,
		}))
	case key.IDPrefix != "":
		if len(key.IDPrefix) < minDeletePrefix {
			return false, fmt.Errorf("%w: id prefix %q is shorter than %d characters",
				ErrInvalidArgument, key.IDPrefix, minDeletePrefix)
		}
		return s.deleteByPrefix(ctx, entityType, key)
	default:
		return false, fmt.Errorf("%w: either id or id prefix is required", ErrInvalidArgument)
	}
}

func (s *Store) deleteByPrefix(ctx context.Context, entityType string, key DeleteKey) (bool, error) {
	var keys []table.Key
	next := ""
	for {
		page, err := s.tables.QueryTable(ctx, s.table, table.QueryOptions{
			KeyCondition: s.keyCondition(entityType, key.AccountID, key.SubscriptionID, key.IDPrefix),
			Limit:        int32(s.config.MaxListLimit),
			Next:         next,
		})
		if err != nil {
			return false, err
		}
		for _, item := range page.Items {
			keys = append(keys, table.Key{attrPK: item[attrPK], attrSK: item[attrSK]})
		}
		if page.Next == "" {
			break
		}
		next = page.Next
	}
	if len(keys) == 0 {
		return false, nil
	}
	if err := s.tables.DeleteAllItems(ctx, s.table, keys); err != nil {
		return false, err
	}
	return true, nil
}

func marshalTags(tags map[string]string) types.AttributeValue {
	members := make(map[string]types.AttributeValue, len(tags))
	for k, v := range tags {
		members[k] = &types.AttributeValueMemberS{Value: v}
	}
	return &types.AttributeValueMemberM{Value: members}
}
