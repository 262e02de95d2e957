// Package table provides a schema-aware wrapper over partitioned DynamoDB
// tables: single-item CRUD with injected key conditions, chunked batch
// operations that retry unprocessed members, query/scan with opaque
// pagination tokens, attribute-level TTL translation, and optional
// archive (soft delete) semantics.
//
// # Declaring a table
//
// A [Table] declares everything the client needs to operate on it:
//
//	tbl := table.Table{
//	    Name: "entities",
//	    Keys: []table.KeyAttribute{
//	        {Name: "pk", Type: types.ScalarAttributeTypeS},
//	        {Name: "sk", Type: types.ScalarAttributeTypeS},
//	    },
//	    TTLAttribute: "expires",
//	}
//
// # TTL translation
//
// When a table declares a TTL attribute, callers always see relative
// remaining time: writes interpret the attribute as a delta in seconds from
// now and store the absolute Unix expiry; reads convert the stored absolute
// expiry back into remaining seconds. An item whose expiry has passed is
// treated as absent on every read path, whether or not DynamoDB has
// physically reclaimed it.
//
// # Errors
//
// Backend failures are classified into a small taxonomy before they leave
// this package:
//
//   - [ErrInvalidLimit] - non-positive page limit
//   - [ErrInvalidNext] - unparseable pagination token
//   - [ErrInvalidTTL] - unparseable or negative TTL delta
//   - [ErrArchiveNotEnabled] - archive operation on a non-archive table
//   - [ErrConditionFailed] - a conditional write lost its race
//   - [BackendError] - any other backend failure, wrapping the cause
package table
