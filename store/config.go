package store

import "time"

const (
	defaultTableName    = "entstore-entities"
	defaultTTLAttribute = "expires"
	defaultListLimit    = 25
	maxListLimit        = 100
	defaultEphemeralTTL = 10 * time.Minute
)

// Config carries the tunable settings of a Store. The zero value is usable;
// validate fills in defaults for anything left unset.
type Config struct {
	// TableName is the backing DynamoDB table. Defaults to "entstore-entities".
	TableName string

	// TTLAttribute is the item attribute holding entity expiry, which must
	// match the attribute the table's TTL configuration points at. Defaults
	// to "expires".
	TTLAttribute string

	// DefaultListLimit is the page size used when a listing does not specify
	// one. Defaults to 25.
	DefaultListLimit int

	// MaxListLimit caps the page size of a listing. Defaults to 100.
	MaxListLimit int

	// DefaultEphemeralTTL applies to ephemeral entities created without an
	// explicit TTL when their type declares none. Defaults to 10 minutes.
	DefaultEphemeralTTL time.Duration
}

func (c *Config) validate() {
	if c.TableName == "" {
		c.TableName = defaultTableName
	}
	if c.TTLAttribute == "" {
		c.TTLAttribute = defaultTTLAttribute
	}
	if c.DefaultListLimit <= 0 {
		c.DefaultListLimit = defaultListLimit
	}
	if c.MaxListLimit <= 0 {
		c.MaxListLimit = maxListLimit
	}
	if c.MaxListLimit < c.DefaultListLimit {
		c.MaxListLimit = c.DefaultListLimit
	}
	if c.DefaultEphemeralTTL <= 0 {
		c.DefaultEphemeralTTL = defaultEphemeralTTL
	}
}
