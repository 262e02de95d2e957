package store_test

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDB is an in-memory DynamoDB stand-in faithful enough for the store's
// access patterns: conditional writes, update expressions, sorted queries
// with pagination, and batch writes.
type fakeDB struct {
	mu    sync.Mutex
	items map[itemKey]map[string]types.AttributeValue

	queryCalls int
}

type itemKey struct {
	pk string
	sk string
}

func newFakeDB() *fakeDB {
	return &fakeDB{items: map[itemKey]map[string]types.AttributeValue{}}
}

func keyOfInput(key map[string]types.AttributeValue) itemKey {
	pk, _ := key["pk"].(*types.AttributeValueMemberS)
	sk, _ := key["sk"].(*types.AttributeValueMemberS)
	k := itemKey{}
	if pk != nil {
		k.pk = pk.Value
	}
	if sk != nil {
		k.sk = sk.Value
	}
	return k
}

func cloneAV(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	cp := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		if m, ok := v.(*types.AttributeValueMemberM); ok {
			cp[k] = &types.AttributeValueMemberM{Value: cloneAV(m.Value)}
			continue
		}
		cp[k] = v
	}
	return cp
}

func (f *fakeDB) GetItem(ctx context.Context, input *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: cloneAV(f.items[keyOfInput(input.Key)])}, nil
}

func (f *fakeDB) PutItem(ctx context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := keyOfInput(input.Item)
	if input.ConditionExpression != nil {
		ok, err := evalCondition(*input.ConditionExpression,
			f.items[key], input.ExpressionAttributeNames, input.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
		}
	}
	f.items[key] = cloneAV(input.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDB) DeleteItem(ctx context.Context, input *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := keyOfInput(input.Key)
	old := f.items[key]
	delete(f.items, key)

	out := &dynamodb.DeleteItemOutput{}
	if input.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = cloneAV(old)
	}
	return out, nil
}

func (f *fakeDB) UpdateItem(ctx context.Context, input *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := keyOfInput(input.Key)
	existing := f.items[key]

	if input.ConditionExpression != nil {
		ok, err := evalCondition(*input.ConditionExpression,
			existing, input.ExpressionAttributeNames, input.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
		}
	}

	updated := cloneAV(existing)
	if updated == nil {
		updated = cloneAV(input.Key)
	}
	if input.UpdateExpression != nil {
		if err := applyUpdateExpression(*input.UpdateExpression, updated,
			input.ExpressionAttributeNames, input.ExpressionAttributeValues); err != nil {
			return nil, err
		}
	}
	f.items[key] = updated

	out := &dynamodb.UpdateItemOutput{}
	if input.ReturnValues == types.ReturnValueAllNew {
		out.Attributes = cloneAV(updated)
	}
	return out, nil
}

func (f *fakeDB) Query(ctx context.Context, input *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++

	var keys []itemKey
	for k := range f.items {
		ok, err := evalCondition(aws.ToString(input.KeyConditionExpression),
			f.items[k], input.ExpressionAttributeNames, input.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].pk != keys[j].pk {
			return keys[i].pk < keys[j].pk
		}
		return keys[i].sk < keys[j].sk
	})
	if input.ScanIndexForward != nil && !*input.ScanIndexForward {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}

	if input.ExclusiveStartKey != nil {
		start := keyOfInput(input.ExclusiveStartKey)
		idx := 0
		for i, k := range keys {
			if k == start {
				idx = i + 1
				break
			}
		}
		keys = keys[idx:]
	}

	limit := len(keys)
	if input.Limit != nil && int(*input.Limit) < limit {
		limit = int(*input.Limit)
	}
	page := keys[:limit]

	out := &dynamodb.QueryOutput{}
	if limit < len(keys) && limit > 0 {
		last := page[limit-1]
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: last.pk},
			"sk": &types.AttributeValueMemberS{Value: last.sk},
		}
	}

	for _, k := range page {
		item := f.items[k]
		if input.FilterExpression != nil {
			ok, err := evalCondition(*input.FilterExpression,
				item, input.ExpressionAttributeNames, input.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out.Items = append(out.Items, cloneAV(item))
	}
	return out, nil
}

func (f *fakeDB) Scan(ctx context.Context, input *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	q, err := f.Query(ctx, &dynamodb.QueryInput{
		TableName:                 input.TableName,
		KeyConditionExpression:    aws.String("attribute_exists(pk)"),
		FilterExpression:          input.FilterExpression,
		ExpressionAttributeNames:  input.ExpressionAttributeNames,
		ExpressionAttributeValues: input.ExpressionAttributeValues,
		Limit:                     input.Limit,
		ExclusiveStartKey:         input.ExclusiveStartKey,
	})
	if err != nil {
		return nil, err
	}
	return &dynamodb.ScanOutput{Items: q.Items, LastEvaluatedKey: q.LastEvaluatedKey}, nil
}

func (f *fakeDB) BatchGetItem(ctx context.Context, input *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := &dynamodb.BatchGetItemOutput{Responses: map[string][]map[string]types.AttributeValue{}}
	for name, req := range input.RequestItems {
		for _, key := range req.Keys {
			if item, ok := f.items[keyOfInput(key)]; ok {
				out.Responses[name] = append(out.Responses[name], cloneAV(item))
			}
		}
	}
	return out, nil
}

func (f *fakeDB) BatchWriteItem(ctx context.Context, input *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, requests := range input.RequestItems {
		for _, req := range requests {
			if req.PutRequest != nil {
				f.items[keyOfInput(req.PutRequest.Item)] = cloneAV(req.PutRequest.Item)
			}
			if req.DeleteRequest != nil {
				delete(f.items, keyOfInput(req.DeleteRequest.Key))
			}
		}
	}
	return &dynamodb.BatchWriteItemOutput{}, nil
}

func (f *fakeDB) CreateTable(ctx context.Context, input *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeDB) DescribeTable(ctx context.Context, input *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{
			TableName:   input.TableName,
			TableStatus: types.TableStatusActive,
		},
	}, nil
}

func (f *fakeDB) DescribeTimeToLive(ctx context.Context, input *dynamodb.DescribeTimeToLiveInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTimeToLiveOutput, error) {
	return &dynamodb.DescribeTimeToLiveOutput{
		TimeToLiveDescription: &types.TimeToLiveDescription{
			TimeToLiveStatus: types.TimeToLiveStatusDisabled,
		},
	}, nil
}

func (f *fakeDB) UpdateTimeToLive(ctx context.Context, input *dynamodb.UpdateTimeToLiveInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error) {
	return &dynamodb.UpdateTimeToLiveOutput{}, nil
}

// --- minimal condition and update expression evaluation ---

type exprToken struct {
	kind string // word, lparen, rparen, comma, op
	text string
}

func tokenizeExpr(s string) []exprToken {
	var toks []exprToken
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ':
			i++
		case c == '(':
			toks = append(toks, exprToken{"lparen", "("})
			i++
		case c == ')':
			toks = append(toks, exprToken{"rparen", ")"})
			i++
		case c == ',':
			toks = append(toks, exprToken{"comma", ","})
			i++
		case c == '=':
			toks = append(toks, exprToken{"op", "="})
			i++
		case c == '<' || c == '>':
			if i+1 < len(s) && (s[i+1] == '=' || (c == '<' && s[i+1] == '>')) {
				toks = append(toks, exprToken{"op", s[i : i+2]})
				i += 2
			} else {
				toks = append(toks, exprToken{"op", string(c)})
				i++
			}
		default:
			j := i
			for j < len(s) && !strings.ContainsRune(" (),=<>", rune(s[j])) {
				j++
			}
			toks = append(toks, exprToken{"word", s[i:j]})
			i = j
		}
	}
	return toks
}

type exprEval struct {
	toks   []exprToken
	pos    int
	item   map[string]types.AttributeValue
	names  map[string]string
	values map[string]types.AttributeValue
}

func evalCondition(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	e := &exprEval{toks: tokenizeExpr(expr), item: item, names: names, values: values}
	result, err := e.parseOr()
	if err != nil {
		return false, fmt.Errorf("fake: condition %q: %w", expr, err)
	}
	if e.pos != len(e.toks) {
		return false, fmt.Errorf("fake: condition %q: trailing tokens", expr)
	}
	return result, nil
}

func (e *exprEval) parseOr() (bool, error) {
	result, err := e.parseAnd()
	if err != nil {
		return false, err
	}
	for e.peekWord("OR") {
		e.pos++
		rhs, err := e.parseAnd()
		if err != nil {
			return false, err
		}
		result = result || rhs
	}
	return result, nil
}

func (e *exprEval) parseAnd() (bool, error) {
	result, err := e.parseUnary()
	if err != nil {
		return false, err
	}
	for e.peekWord("AND") {
		e.pos++
		rhs, err := e.parseUnary()
		if err != nil {
			return false, err
		}
		result = result && rhs
	}
	return result, nil
}

func (e *exprEval) parseUnary() (bool, error) {
	if e.pos >= len(e.toks) {
		return false, fmt.Errorf("unexpected end of expression")
	}
	tok := e.toks[e.pos]
	if tok.kind == "lparen" {
		e.pos++
		result, err := e.parseOr()
		if err != nil {
			return false, err
		}
		if err := e.expect("rparen"); err != nil {
			return false, err
		}
		return result, nil
	}
	if tok.kind != "word" {
		return false, fmt.Errorf("unexpected token %q", tok.text)
	}

	switch tok.text {
	case "attribute_exists", "attribute_not_exists":
		e.pos++
		if err := e.expect("lparen"); err != nil {
			return false, err
		}
		av, err := e.parsePathValue()
		if err != nil {
			return false, err
		}
		if err := e.expect("rparen"); err != nil {
			return false, err
		}
		exists := av != nil
		if tok.text == "attribute_not_exists" {
			exists = !exists
		}
		return exists, nil
	case "begins_with":
		e.pos++
		if err := e.expect("lparen"); err != nil {
			return false, err
		}
		lhs, err := e.parsePathValue()
		if err != nil {
			return false, err
		}
		if err := e.expect("comma"); err != nil {
			return false, err
		}
		rhs, err := e.parseOperand()
		if err != nil {
			return false, err
		}
		if err := e.expect("rparen"); err != nil {
			return false, err
		}
		ls, lok := lhs.(*types.AttributeValueMemberS)
		rs, rok := rhs.(*types.AttributeValueMemberS)
		return lok && rok && strings.HasPrefix(ls.Value, rs.Value), nil
	}

	lhs, err := e.parseOperand()
	if err != nil {
		return false, err
	}
	if e.pos >= len(e.toks) || e.toks[e.pos].kind != "op" {
		return false, fmt.Errorf("expected comparison operator")
	}
	op := e.toks[e.pos].text
	e.pos++
	rhs, err := e.parseOperand()
	if err != nil {
		return false, err
	}
	return compareAV(lhs, op, rhs)
}

func (e *exprEval) parseOperand() (types.AttributeValue, error) {
	if e.pos >= len(e.toks) || e.toks[e.pos].kind != "word" {
		return nil, fmt.Errorf("expected operand")
	}
	word := e.toks[e.pos].text
	if strings.HasPrefix(word, ":") {
		e.pos++
		av, ok := e.values[word]
		if !ok {
			return nil, fmt.Errorf("unbound value %s", word)
		}
		return av, nil
	}
	return e.parsePathValue()
}

// parsePathValue consumes a (possibly aliased, possibly dotted) attribute
// path and resolves it against the item; missing paths resolve to nil.
func (e *exprEval) parsePathValue() (types.AttributeValue, error) {
	if e.pos >= len(e.toks) || e.toks[e.pos].kind != "word" {
		return nil, fmt.Errorf("expected attribute path")
	}
	word := e.toks[e.pos].text
	e.pos++

	segments, err := e.resolvePath(word)
	if err != nil {
		return nil, err
	}
	var current types.AttributeValue
	scope := e.item
	for i, seg := range segments {
		if scope == nil {
			return nil, nil
		}
		av, ok := scope[seg]
		if !ok {
			return nil, nil
		}
		current = av
		if i < len(segments)-1 {
			m, ok := av.(*types.AttributeValueMemberM)
			if !ok {
				return nil, nil
			}
			scope = m.Value
		}
	}
	return current, nil
}

func (e *exprEval) resolvePath(word string) ([]string, error) {
	parts := strings.Split(word, ".")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.HasPrefix(part, "#") {
			name, ok := e.names[part]
			if !ok {
				return nil, fmt.Errorf("unbound name %s", part)
			}
			segments = append(segments, name)
			continue
		}
		segments = append(segments, part)
	}
	return segments, nil
}

func (e *exprEval) peekWord(text string) bool {
	return e.pos < len(e.toks) && e.toks[e.pos].kind == "word" && e.toks[e.pos].text == text
}

func (e *exprEval) expect(kind string) error {
	if e.pos >= len(e.toks) || e.toks[e.pos].kind != kind {
		return fmt.Errorf("expected %s", kind)
	}
	e.pos++
	return nil
}

func compareAV(lhs types.AttributeValue, op string, rhs types.AttributeValue) (bool, error) {
	// Comparisons against missing attributes never match, <> included; that
	// is why guards pair them with attribute_not_exists.
	if lhs == nil || rhs == nil {
		return false, nil
	}

	var cmp int
	switch l := lhs.(type) {
	case *types.AttributeValueMemberS:
		r, ok := rhs.(*types.AttributeValueMemberS)
		if !ok {
			return op == "<>", nil
		}
		cmp = strings.Compare(l.Value, r.Value)
	case *types.AttributeValueMemberN:
		r, ok := rhs.(*types.AttributeValueMemberN)
		if !ok {
			return op == "<>", nil
		}
		ln, err := strconv.ParseInt(l.Value, 10, 64)
		if err != nil {
			return false, err
		}
		rn, err := strconv.ParseInt(r.Value, 10, 64)
		if err != nil {
			return false, err
		}
		switch {
		case ln < rn:
			cmp = -1
		case ln > rn:
			cmp = 1
		}
	case *types.AttributeValueMemberBOOL:
		r, ok := rhs.(*types.AttributeValueMemberBOOL)
		if !ok {
			return op == "<>", nil
		}
		if l.Value == r.Value {
			cmp = 0
		} else {
			cmp = 1
		}
		if op != "=" && op != "<>" {
			return false, fmt.Errorf("unsupported bool comparison %s", op)
		}
	default:
		return false, fmt.Errorf("unsupported operand type %T", lhs)
	}

	switch op {
	case "=":
		return cmp == 0, nil
	case "<>":
		return cmp != 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	default:
		return false, fmt.Errorf("unsupported operator %s", op)
	}
}

// applyUpdateExpression supports the SET and REMOVE clauses the store emits.
func applyUpdateExpression(expr string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) error {
	e := &exprEval{item: item, names: names, values: values}
	toks := tokenizeExpr(expr)
	i := 0
	for i < len(toks) {
		switch {
		case toks[i].kind == "word" && toks[i].text == "SET":
			i++
			for {
				if i >= len(toks) || toks[i].kind != "word" {
					return fmt.Errorf("fake: malformed SET clause in %q", expr)
				}
				segments, err := e.resolvePath(toks[i].text)
				if err != nil {
					return err
				}
				i++
				if i >= len(toks) || toks[i].text != "=" {
					return fmt.Errorf("fake: malformed SET clause in %q", expr)
				}
				i++
				if i >= len(toks) || !strings.HasPrefix(toks[i].text, ":") {
					return fmt.Errorf("fake: malformed SET clause in %q", expr)
				}
				av, ok := values[toks[i].text]
				if !ok {
					return fmt.Errorf("fake: unbound value %s", toks[i].text)
				}
				i++
				if err := setPath(item, segments, av); err != nil {
					return err
				}
				if i < len(toks) && toks[i].kind == "comma" {
					i++
					continue
				}
				break
			}
		case toks[i].kind == "word" && toks[i].text == "REMOVE":
			i++
			for {
				if i >= len(toks) || toks[i].kind != "word" {
					return fmt.Errorf("fake: malformed REMOVE clause in %q", expr)
				}
				segments, err := e.resolvePath(toks[i].text)
				if err != nil {
					return err
				}
				i++
				removePath(item, segments)
				if i < len(toks) && toks[i].kind == "comma" {
					i++
					continue
				}
				break
			}
		default:
			return fmt.Errorf("fake: unsupported update clause at %q", toks[i].text)
		}
	}
	return nil
}

func setPath(item map[string]types.AttributeValue, segments []string, av types.AttributeValue) error {
	scope := item
	for _, seg := range segments[:len(segments)-1] {
		m, ok := scope[seg].(*types.AttributeValueMemberM)
		if !ok {
			return fmt.Errorf("fake: document path %s is not a map", seg)
		}
		scope = m.Value
	}
	scope[segments[len(segments)-1]] = av
	return nil
}

func removePath(item map[string]types.AttributeValue, segments []string) {
	scope := item
	for _, seg := range segments[:len(segments)-1] {
		m, ok := scope[seg].(*types.AttributeValueMemberM)
		if !ok {
			return
		}
		scope = m.Value
	}
	delete(scope, segments[len(segments)-1])
}
