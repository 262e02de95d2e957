// Package store provides multi-tenant entity storage on top of a single
// DynamoDB table.
//
// Entities are addressed by account, subscription, type, and id. The account,
// subscription, and type form the partition key, so every operation is scoped
// to one tenant's entities of one type; the id is the sort key, which makes
// hierarchical ids (for example "parent/child") listable and deletable by
// prefix.
//
// Every entity carries an opaque data payload, a free-form tag map, and a
// server-minted version. The version changes on every mutation, including tag
// mutations, and callers pass the version they last observed to get
// compare-and-swap semantics: a mutation with a stale version fails with
// ErrConflict instead of silently overwriting newer state. Tag values are
// plain strings, and tag keys must not contain dots or spaces, because a key
// becomes part of a document path in the stored item; offending keys fail
// with ErrInvalidArgument.
//
// Entity types registered as ephemeral expire automatically. Their time to
// live is expressed to callers as a remaining duration and stored as an
// absolute expiry; an expired entity behaves as deleted even before the
// backend reclaims the row.
package store
