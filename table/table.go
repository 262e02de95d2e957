package table

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	// archiveAttribute marks an item as soft-deleted on archive-enabled tables.
	archiveAttribute = "archived"

	defaultPageLimit = 25
	maxPageLimit     = 100
)

// Key is a DynamoDB primary key.
type Key map[string]types.AttributeValue

// Item is a raw DynamoDB item.
type Item map[string]types.AttributeValue

// KeyAttribute declares one key attribute of a table or index, in key-schema
// order (partition key first, then the optional sort key).
type KeyAttribute struct {
	Name string
	Type types.ScalarAttributeType
}

// Index declares a global secondary index.
type Index struct {
	Name string
	Keys []KeyAttribute

	// Projected lists non-key attributes to project. Empty means project all.
	Projected []string
}

// Table declares the schema the client operates against.
type Table struct {
	Name    string
	Keys    []KeyAttribute
	Indexes []Index

	// TTLAttribute, when set, enables relative/absolute expiry translation
	// and expired-is-absent read semantics on that attribute.
	TTLAttribute string

	// Archive enables soft-delete semantics: archived items are invisible to
	// reads and listings, and ArchiveItem/UnarchiveItem become legal.
	Archive bool

	// DefaultLimit and MaxLimit bound page sizes for QueryTable and
	// ScanTable. Zero values fall back to 25 and 100.
	DefaultLimit int32
	MaxLimit     int32
}

func (t Table) limits() (def, max int32) {
	def, max = t.DefaultLimit, t.MaxLimit
	if def <= 0 {
		def = defaultPageLimit
	}
	if max <= 0 {
		max = maxPageLimit
	}
	return def, max
}

func (t Table) index(name string) (Index, bool) {
	for _, idx := range t.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return Index{}, false
}

// keyOf extracts the declared key attributes from an item.
func (t Table) keyOf(item Item) Key {
	key := make(Key, len(t.Keys))
	for _, k := range t.Keys {
		if av, ok := item[k.Name]; ok {
			key[k.Name] = av
		}
	}
	return key
}

// resumeKeyFor builds the resume position pointing just past the given item.
// For index reads the position must carry both the table keys and the index
// keys, matching what DynamoDB returns as LastEvaluatedKey.
func (t Table) resumeKeyFor(item Item, indexName string) Key {
	key := t.keyOf(item)
	if indexName == "" {
		return key
	}
	if idx, ok := t.index(indexName); ok {
		for _, k := range idx.Keys {
			if av, ok := item[k.Name]; ok {
				key[k.Name] = av
			}
		}
	}
	return key
}

// Clock is the time source used for TTL translation, injectable for tests.
type Clock func() time.Time

// Client executes schema-aware operations against DynamoDB.
type Client struct {
	api   API
	clock Clock
}

// Option configures a Client.
type Option func(*Client)

// WithClock sets the time source used for TTL translation. Defaults to
// time.Now.
func WithClock(clock Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// New creates a Client on top of the given DynamoDB API.
func New(api API, opts ...Option) *Client {
	c := &Client{
		api:   api,
		clock: time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}
