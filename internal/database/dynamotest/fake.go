// Package dynamotest provides an in-memory DynamoDB for tests of the
// database package. It evaluates the condition, filter and update
// expressions those operations send: comparisons, attribute_exists,
// attribute_not_exists, AND/OR/NOT, SET and REMOVE.
package dynamotest

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

// Fake is a single-partition-key DynamoDB keyed on the string attribute ID
type Fake struct {
	mu     sync.Mutex
	tables map[string]map[string]item
	err    error
	calls  map[string]int
}

// New returns an empty Fake. Tables are created on first write.
func New() *Fake {
	return &Fake{
		tables: map[string]map[string]item{},
		calls:  map[string]int{},
	}
}

// FailWith makes every following call return err; nil restores normal operation
func (f *Fake) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls returns how often op was called
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Len returns the number of items stored in table
func (f *Fake) Len(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

func (f *Fake) enter(op string) error {
	f.calls[op]++
	return f.err
}

func (f *Fake) table(name *string) map[string]item {
	t, ok := f.tables[aws.ToString(name)]
	if !ok {
		t = map[string]item{}
		f.tables[aws.ToString(name)] = t
	}
	return t
}

func keyOf(key item) (string, error) {
	id, ok := key["ID"].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("dynamotest: key must carry string attribute ID")
	}
	return id.Value, nil
}

func clone(in item) item {
	if in == nil {
		return nil
	}
	out := make(item, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

// GetItem implements the DynamoDB GetItem call
func (f *Fake) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetItem"); err != nil {
		return nil, err
	}
	k, err := keyOf(in.Key)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: clone(f.table(in.TableName)[k])}, nil
}

// PutItem implements the DynamoDB PutItem call
func (f *Fake) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("PutItem"); err != nil {
		return nil, err
	}
	w := write{table: in.TableName, put: in.Item, cond: in.ConditionExpression, names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	if err := f.apply([]write{w}, false); err != nil {
		return nil, err
	}
	return &dynamodb.PutItemOutput{}, nil
}

// UpdateItem implements the DynamoDB UpdateItem call
func (f *Fake) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateItem"); err != nil {
		return nil, err
	}
	w := write{table: in.TableName, key: in.Key, update: in.UpdateExpression, cond: in.ConditionExpression, names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	if err := f.apply([]write{w}, false); err != nil {
		return nil, err
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

// DeleteItem implements the DynamoDB DeleteItem call
func (f *Fake) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteItem"); err != nil {
		return nil, err
	}
	w := write{table: in.TableName, key: in.Key, delete: true, cond: in.ConditionExpression, names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	if err := f.apply([]write{w}, false); err != nil {
		return nil, err
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

// Scan implements the DynamoDB Scan call. Every result fits one page.
func (f *Fake) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Scan"); err != nil {
		return nil, err
	}

	var filter predicate
	if in.FilterExpression != nil {
		var err error
		if filter, err = parseCondition(*in.FilterExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues); err != nil {
			return nil, err
		}
	}

	t := f.table(in.TableName)
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &dynamodb.ScanOutput{}
	for _, k := range keys {
		if filter == nil || filter(t[k]) {
			out.Items = append(out.Items, clone(t[k]))
		}
	}
	out.Count = int32(len(out.Items))
	out.ScannedCount = int32(len(keys))
	return out, nil
}

// TransactWriteItems applies every write or none of them
func (f *Fake) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("TransactWriteItems"); err != nil {
		return nil, err
	}

	writes := make([]write, 0, len(in.TransactItems))
	for _, ti := range in.TransactItems {
		switch {
		case ti.Put != nil:
			p := ti.Put
			writes = append(writes, write{table: p.TableName, put: p.Item, cond: p.ConditionExpression, names: p.ExpressionAttributeNames, values: p.ExpressionAttributeValues})
		case ti.Update != nil:
			u := ti.Update
			writes = append(writes, write{table: u.TableName, key: u.Key, update: u.UpdateExpression, cond: u.ConditionExpression, names: u.ExpressionAttributeNames, values: u.ExpressionAttributeValues})
		case ti.Delete != nil:
			d := ti.Delete
			writes = append(writes, write{table: d.TableName, key: d.Key, delete: true, cond: d.ConditionExpression, names: d.ExpressionAttributeNames, values: d.ExpressionAttributeValues})
		case ti.ConditionCheck != nil:
			c := ti.ConditionCheck
			writes = append(writes, write{table: c.TableName, key: c.Key, check: true, cond: c.ConditionExpression, names: c.ExpressionAttributeNames, values: c.ExpressionAttributeValues})
		default:
			return nil, fmt.Errorf("dynamotest: empty transact item")
		}
	}
	if err := f.apply(writes, true); err != nil {
		return nil, err
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

// DescribeTable reports every table as active
func (f *Fake) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DescribeTable"); err != nil {
		return nil, err
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   in.TableName,
		TableStatus: types.TableStatusActive,
	}}, nil
}

type write struct {
	table  *string
	key    item
	put    item
	update *string
	delete bool
	check  bool
	cond   *string
	names  map[string]string
	values map[string]types.AttributeValue
}

// apply checks every condition first and then performs the writes. Callers hold f.mu.
func (f *Fake) apply(writes []write, transact bool) error {
	keys := make([]string, len(writes))
	reasons := make([]types.CancellationReason, len(writes))
	failed := false
	for i, w := range writes {
		src := w.key
		if w.put != nil {
			src = w.put
		}
		k, err := keyOf(src)
		if err != nil {
			return err
		}
		keys[i] = k
		reasons[i] = types.CancellationReason{Code: aws.String("None")}
		if w.cond == nil {
			continue
		}
		ok, err := evalCondition(*w.cond, w.names, w.values, f.table(w.table)[k])
		if err != nil {
			return err
		}
		if !ok {
			failed = true
			reasons[i] = types.CancellationReason{
				Code:    aws.String("ConditionalCheckFailed"),
				Message: aws.String("The conditional request failed"),
			}
		}
	}
	if failed {
		if !transact {
			return conditionFailed()
		}
		return &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}

	// build every result before touching the tables
	results := make([]item, len(writes))
	for i, w := range writes {
		current := f.table(w.table)[keys[i]]
		switch {
		case w.check, w.delete:
		case w.put != nil:
			results[i] = clone(w.put)
		case w.update != nil:
			next := clone(current)
			if next == nil {
				next = clone(w.key)
			}
			if err := applyUpdate(*w.update, w.names, w.values, next); err != nil {
				return err
			}
			results[i] = next
		}
	}
	for i, w := range writes {
		t := f.table(w.table)
		switch {
		case w.check:
		case w.delete:
			delete(t, keys[i])
		default:
			t[keys[i]] = results[i]
		}
	}
	return nil
}

type predicate func(item) bool

func evalCondition(expr string, names map[string]string, values map[string]types.AttributeValue, it item) (bool, error) {
	p, err := parseCondition(expr, names, values)
	if err != nil {
		return false, err
	}
	return p(it), nil
}

func parseCondition(expr string, names map[string]string, values map[string]types.AttributeValue) (predicate, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, names: names, values: values}
	pred, err := p.or()
	if err != nil {
		return nil, fmt.Errorf("dynamotest: %q: %w", expr, err)
	}
	if !p.done() {
		return nil, fmt.Errorf("dynamotest: %q: unexpected %q", expr, p.peek())
	}
	return pred, nil
}

func tokenize(expr string) ([]string, error) {
	var toks []string
	for i := 0; i < len(expr); {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(' || c == ')' || c == ',' || c == '=':
			toks = append(toks, string(c))
			i++
		case c == '<' || c == '>':
			if i+1 < len(expr) && (expr[i+1] == '=' || (c == '<' && expr[i+1] == '>')) {
				toks = append(toks, expr[i:i+2])
				i += 2
			} else {
				toks = append(toks, string(c))
				i++
			}
		case isWordByte(c):
			j := i
			for j < len(expr) && isWordByte(expr[j]) {
				j++
			}
			toks = append(toks, expr[i:j])
			i = j
		default:
			return nil, fmt.Errorf("dynamotest: unsupported character %q in %q", c, expr)
		}
	}
	return toks, nil
}

func isWordByte(c byte) bool {
	return c == '_' || c == '#' || c == ':' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

type parser struct {
	toks   []string
	pos    int
	names  map[string]string
	values map[string]types.AttributeValue
}

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() string {
	if p.done() {
		return ""
	}
	return p.toks[p.pos]
}

func (p *parser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) expect(tok string) error {
	if got := p.next(); got != tok {
		return fmt.Errorf("expected %q, got %q", tok, got)
	}
	return nil
}

func (p *parser) keyword(kw string) bool {
	if strings.EqualFold(p.peek(), kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) or() (predicate, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		l := left
		left = func(it item) bool { return l(it) || right(it) }
	}
	return left, nil
}

func (p *parser) and() (predicate, error) {
	left, err := p.not()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		right, err := p.not()
		if err != nil {
			return nil, err
		}
		l := left
		left = func(it item) bool { return l(it) && right(it) }
	}
	return left, nil
}

func (p *parser) not() (predicate, error) {
	if p.keyword("NOT") {
		inner, err := p.not()
		if err != nil {
			return nil, err
		}
		return func(it item) bool { return !inner(it) }, nil
	}
	return p.primary()
}

func (p *parser) primary() (predicate, error) {
	if p.peek() == "(" {
		p.next()
		inner, err := p.or()
		if err != nil {
			return nil, err
		}
		return inner, p.expect(")")
	}

	tok := p.next()
	switch strings.ToLower(tok) {
	case "attribute_exists", "attribute_not_exists":
		if err := p.expect("("); err != nil {
			return nil, err
		}
		path, err := p.path(p.next())
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		want := strings.EqualFold(tok, "attribute_exists")
		return func(it item) bool {
			_, ok := it[path]
			return ok == want
		}, nil
	}

	left, err := p.operand(tok)
	if err != nil {
		return nil, err
	}
	op := p.next()
	switch op {
	case "=", "<>", "<", "<=", ">", ">=":
	default:
		return nil, fmt.Errorf("unsupported operator %q", op)
	}
	right, err := p.operand(p.next())
	if err != nil {
		return nil, err
	}
	return func(it item) bool { return compare(left(it), right(it), op) }, nil
}

func (p *parser) path(tok string) (string, error) {
	if strings.HasPrefix(tok, "#") {
		name, ok := p.names[tok]
		if !ok {
			return "", fmt.Errorf("missing attribute name %s", tok)
		}
		return name, nil
	}
	if tok == "" || strings.HasPrefix(tok, ":") {
		return "", fmt.Errorf("expected attribute path, got %q", tok)
	}
	return tok, nil
}

func (p *parser) operand(tok string) (func(item) types.AttributeValue, error) {
	if strings.HasPrefix(tok, ":") {
		v, ok := p.values[tok]
		if !ok {
			return nil, fmt.Errorf("missing attribute value %s", tok)
		}
		return func(item) types.AttributeValue { return v }, nil
	}
	path, err := p.path(tok)
	if err != nil {
		return nil, err
	}
	return func(it item) types.AttributeValue { return it[path] }, nil
}

// compare follows DynamoDB: a missing operand makes every comparison false
func compare(a, b types.AttributeValue, op string) bool {
	if a == nil || b == nil {
		return false
	}
	var c int
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return op == "<>"
		}
		c = strings.Compare(av.Value, bv.Value)
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return op == "<>"
		}
		x, err1 := strconv.ParseFloat(av.Value, 64)
		y, err2 := strconv.ParseFloat(bv.Value, 64)
		if err1 != nil || err2 != nil {
			return false
		}
		switch {
		case x < y:
			c = -1
		case x > y:
			c = 1
		}
	default:
		eq := reflect.DeepEqual(a, b)
		switch op {
		case "=":
			return eq
		case "<>":
			return !eq
		}
		return false
	}
	switch op {
	case "=":
		return c == 0
	case "<>":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	default:
		return c >= 0
	}
}

// applyUpdate runs the SET and REMOVE clauses of expr against it
func applyUpdate(expr string, names map[string]string, values map[string]types.AttributeValue, it item) error {
	toks, err := tokenize(expr)
	if err != nil {
		return err
	}
	p := &parser{toks: toks, names: names, values: values}
	action := ""
	for !p.done() {
		switch {
		case p.keyword("SET"):
			action = "SET"
			continue
		case p.keyword("REMOVE"):
			action = "REMOVE"
			continue
		case p.peek() == ",":
			p.next()
			continue
		}

		path, err := p.path(p.next())
		if err != nil {
			return fmt.Errorf("dynamotest: %q: %w", expr, err)
		}
		switch action {
		case "SET":
			if err := p.expect("="); err != nil {
				return fmt.Errorf("dynamotest: %q: %w", expr, err)
			}
			val, err := p.operand(p.next())
			if err != nil {
				return fmt.Errorf("dynamotest: %q: %w", expr, err)
			}
			v := val(it)
			if v == nil {
				return fmt.Errorf("dynamotest: %q: %s is unset", expr, path)
			}
			it[path] = v
		case "REMOVE":
			delete(it, path)
		default:
			return fmt.Errorf("dynamotest: %q: clause must start with SET or REMOVE", expr)
		}
	}
	return nil
}
