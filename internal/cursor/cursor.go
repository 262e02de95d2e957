// Package cursor encodes DynamoDB resume positions as opaque pagination tokens.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrInvalidCursor is returned when a token cannot be decoded back into a
// resume position.
var ErrInvalidCursor = errors.New("cursor: invalid pagination token")

// attr is the wire form of a single key attribute. Exactly one field is set.
type attr struct {
	S *string `json:"s,omitempty"`
	N *string `json:"n,omitempty"`
	B []byte  `json:"b,omitempty"`
}

// Encode serializes a LastEvaluatedKey-shaped attribute map into an opaque,
// URL-safe token. Only scalar key attributes (string, number, binary) are
// legal in a DynamoDB key, so any other member type is rejected.
func Encode(key map[string]types.AttributeValue) (string, error) {
	if len(key) == 0 {
		return "", fmt.Errorf("%w: empty resume key", ErrInvalidCursor)
	}

	wire := make(map[string]attr, len(key))
	for name, av := range key {
		switch v := av.(type) {
		case *types.AttributeValueMemberS:
			s := v.Value
			wire[name] = attr{S: &s}
		case *types.AttributeValueMemberN:
			n := v.Value
			wire[name] = attr{N: &n}
		case *types.AttributeValueMemberB:
			wire[name] = attr{B: v.Value}
		default:
			return "", fmt.Errorf("%w: unsupported key attribute type for %q", ErrInvalidCursor, name)
		}
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode is the stateless inverse of Encode. Any token not previously issued
// by Encode fails with ErrInvalidCursor; no backend-shaped error ever leaks
// through this path.
func Decode(token string) (map[string]types.AttributeValue, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidCursor)
	}

	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	var wire map[string]attr
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if len(wire) == 0 {
		return nil, fmt.Errorf("%w: empty resume key", ErrInvalidCursor)
	}

	key := make(map[string]types.AttributeValue, len(wire))
	for name, a := range wire {
		switch {
		case a.S != nil:
			key[name] = &types.AttributeValueMemberS{Value: *a.S}
		case a.N != nil:
			key[name] = &types.AttributeValueMemberN{Value: *a.N}
		case a.B != nil:
			key[name] = &types.AttributeValueMemberB{Value: a.B}
		default:
			return nil, fmt.Errorf("%w: attribute %q has no value", ErrInvalidCursor, name)
		}
	}
	return key, nil
}
