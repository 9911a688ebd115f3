package store_test

// An in-memory stand-in for DynamoDB that evaluates the condition and
// update expressions the store emits, with TransactWriteItems atomicity:
// every condition is checked against the same snapshot, and either all
// operations apply or none do. Used to exercise full transaction
// composition without a real table.

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type fakeDB struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue

	// beforeTransact, when set, runs once before the next transaction is
	// evaluated and is cleared first so it can issue store calls itself.
	// Used to interleave a competing mutation into the read-modify gap.
	beforeTransact func()
}

func newFakeDB(tableNames ...string) *fakeDB {
	f := &fakeDB{tables: make(map[string]map[string]map[string]types.AttributeValue)}
	for _, name := range tableNames {
		f.tables[name] = make(map[string]map[string]types.AttributeValue)
	}
	return f
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

// seed stores an item directly, bypassing all conditions.
func (f *fakeDB) seed(table string, item map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := item["id"].(*types.AttributeValueMemberS).Value
	f.table(table)[id] = copyItem(item)
}

func (f *fakeDB) table(name string) map[string]map[string]types.AttributeValue {
	t, ok := f.tables[name]
	if !ok {
		t = make(map[string]map[string]types.AttributeValue)
		f.tables[name] = t
	}
	return t
}

func (f *fakeDB) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := params.Key["id"].(*types.AttributeValueMemberS).Value
	item := f.table(*params.TableName)[id]
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *fakeDB) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	hook := f.beforeTransact
	f.beforeTransact = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Phase 1: evaluate every condition against the current snapshot.
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, item := range params.TransactItems {
		op, err := parseTransactItem(item)
		if err != nil {
			return nil, err
		}
		current := f.table(op.tableName)[op.id]
		if evalCondition(op.condExpr, op.names, op.values, current) {
			reasons[i] = types.CancellationReason{Code: aws.String("None")}
			continue
		}
		failed = true
		reason := types.CancellationReason{Code: aws.String("ConditionalCheckFailed")}
		if op.returnOld {
			reason.Item = copyItem(current)
		}
		reasons[i] = reason
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	// Phase 2: apply all operations.
	for _, item := range params.TransactItems {
		op, _ := parseTransactItem(item)
		table := f.table(op.tableName)
		switch op.kind {
		case "put":
			table[op.id] = copyItem(op.item)
		case "delete":
			delete(table, op.id)
		case "update":
			current := table[op.id]
			if current == nil {
				current = map[string]types.AttributeValue{
					"id": &types.AttributeValueMemberS{Value: op.id},
				}
				table[op.id] = current
			}
			if err := applyUpdate(op.updateExpr, op.names, op.values, current); err != nil {
				return nil, err
			}
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

type parsedOp struct {
	kind       string
	tableName  string
	id         string
	item       map[string]types.AttributeValue
	condExpr   string
	updateExpr string
	names      map[string]string
	values     map[string]types.AttributeValue
	returnOld  bool
}

func parseTransactItem(item types.TransactWriteItem) (parsedOp, error) {
	switch {
	case item.Put != nil:
		p := item.Put
		return parsedOp{
			kind:      "put",
			tableName: *p.TableName,
			id:        p.Item["id"].(*types.AttributeValueMemberS).Value,
			item:      p.Item,
			condExpr:  aws.ToString(p.ConditionExpression),
			names:     p.ExpressionAttributeNames,
			values:    p.ExpressionAttributeValues,
			returnOld: p.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld,
		}, nil
	case item.Update != nil:
		u := item.Update
		return parsedOp{
			kind:       "update",
			tableName:  *u.TableName,
			id:         u.Key["id"].(*types.AttributeValueMemberS).Value,
			condExpr:   aws.ToString(u.ConditionExpression),
			updateExpr: aws.ToString(u.UpdateExpression),
			names:      u.ExpressionAttributeNames,
			values:     u.ExpressionAttributeValues,
			returnOld:  u.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld,
		}, nil
	case item.Delete != nil:
		d := item.Delete
		return parsedOp{
			kind:      "delete",
			tableName: *d.TableName,
			id:        d.Key["id"].(*types.AttributeValueMemberS).Value,
			condExpr:  aws.ToString(d.ConditionExpression),
			names:     d.ExpressionAttributeNames,
			values:    d.ExpressionAttributeValues,
			returnOld: d.ReturnValuesOnConditionCheckFailure == types.ReturnValuesOnConditionCheckFailureAllOld,
		}, nil
	}
	return parsedOp{}, fmt.Errorf("fake: unsupported transact item")
}

// evalCondition evaluates the expression grammar the store emits: terms
// joined by AND, each of attribute_exists, attribute_not_exists, equality
// or greater-than against a value placeholder.
func evalCondition(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) bool {
	if expr == "" {
		return true
	}
	for _, term := range strings.Split(expr, " AND ") {
		if !evalTerm(strings.TrimSpace(term), names, values, item) {
			return false
		}
	}
	return true
}

func evalTerm(term string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) bool {
	resolveName := func(placeholder string) string {
		if attr, ok := names[placeholder]; ok {
			return attr
		}
		return placeholder
	}

	switch {
	case strings.HasPrefix(term, "attribute_exists("):
		attr := resolveName(strings.TrimSuffix(strings.TrimPrefix(term, "attribute_exists("), ")"))
		if item == nil {
			return false
		}
		_, ok := item[attr]
		return ok
	case strings.HasPrefix(term, "attribute_not_exists("):
		attr := resolveName(strings.TrimSuffix(strings.TrimPrefix(term, "attribute_not_exists("), ")"))
		if item == nil {
			return true
		}
		_, ok := item[attr]
		return !ok
	}

	fields := strings.Fields(term)
	if len(fields) != 3 {
		panic(fmt.Sprintf("fake: cannot parse condition term %q", term))
	}
	attr := resolveName(fields[0])
	want := values[fields[2]]
	if item == nil {
		return false
	}
	have, ok := item[attr]
	if !ok {
		return false
	}

	switch fields[1] {
	case "=":
		return attrEqual(have, want)
	case ">":
		return attrNumber(have) > attrNumber(want)
	}
	panic(fmt.Sprintf("fake: unsupported operator in %q", term))
}

func attrEqual(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		return ok && attrNumber(av) == attrNumber(bv)
	}
	return false
}

func attrNumber(v types.AttributeValue) int64 {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		panic(fmt.Sprintf("fake: expected number attribute, got %T", v))
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		panic(fmt.Sprintf("fake: bad number %q", n.Value))
	}
	return parsed
}

// applyUpdate handles the store's single update form, "ADD <attr> <value>".
func applyUpdate(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) error {
	fields := strings.Fields(expr)
	if len(fields) != 3 || fields[0] != "ADD" {
		return fmt.Errorf("fake: unsupported update expression %q", expr)
	}
	attr := fields[1]
	if resolved, ok := names[attr]; ok {
		attr = resolved
	}
	delta := attrNumber(values[fields[2]])

	var current int64
	if existing, ok := item[attr]; ok {
		current = attrNumber(existing)
	}
	item[attr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(current+delta, 10)}
	return nil
}
