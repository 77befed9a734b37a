package dynamotest

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

func tokenize(s string) []string {
	var toks []string
	for i := 0; i < len(s); {
		ch := s[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n':
			i++
		case strings.IndexByte("(),+-", ch) >= 0:
			toks = append(toks, string(ch))
			i++
		case ch == '<' || ch == '>' || ch == '=':
			if i+1 < len(s) && (s[i+1] == '=' || (ch == '<' && s[i+1] == '>')) {
				toks = append(toks, s[i:i+2])
				i += 2
			} else {
				toks = append(toks, string(ch))
				i++
			}
		default:
			j := i
			for j < len(s) && isIdent(s[j]) {
				j++
			}
			if j == i {
				j++
			}
			toks = append(toks, s[i:j])
			i = j
		}
	}
	return toks
}

func isIdent(c byte) bool {
	return c == '_' || c == '#' || c == ':' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

type parser struct {
	toks   []string
	pos    int
	names  map[string]string
	values map[string]types.AttributeValue
	item   Item
}

func newParser(expr string, names map[string]string, values map[string]types.AttributeValue, item Item) *parser {
	return &parser{toks: tokenize(expr), names: names, values: values, item: item}
}

func (p *parser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *parser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) expect(tok string) error {
	if got := p.next(); !strings.EqualFold(got, tok) {
		return fmt.Errorf("dynamotest: expected %q, got %q in %v", tok, got, p.toks)
	}
	return nil
}

func (p *parser) keyword(kw string) bool {
	return strings.EqualFold(p.peek(), kw)
}

func (p *parser) path(tok string) ([]string, error) {
	parts := strings.Split(tok, ".")
	for i, part := range parts {
		if strings.HasPrefix(part, "#") {
			name, ok := p.names[part]
			if !ok {
				return nil, fmt.Errorf("dynamotest: undefined name %s", part)
			}
			parts[i] = name
		}
	}
	return parts, nil
}

func (p *parser) operand() (types.AttributeValue, error) {
	tok := p.next()
	if strings.HasPrefix(tok, ":") {
		v, ok := p.values[tok]
		if !ok {
			return nil, fmt.Errorf("dynamotest: undefined value %s", tok)
		}
		return v, nil
	}
	if strings.EqualFold(tok, "if_not_exists") {
		if err := p.expect("("); err != nil {
			return nil, err
		}
		path, err := p.path(p.next())
		if err != nil {
			return nil, err
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
		fallback, err := p.operand()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		if v := lookup(p.item, path); v != nil {
			return v, nil
		}
		return fallback, nil
	}
	path, err := p.path(tok)
	if err != nil {
		return nil, err
	}
	return lookup(p.item, path), nil
}

func evalCondition(expr *string, names map[string]string, values map[string]types.AttributeValue, item Item) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	p := newParser(*expr, names, values, item)
	ok, err := p.or()
	if err != nil {
		return false, err
	}
	if p.pos != len(p.toks) {
		return false, fmt.Errorf("dynamotest: trailing tokens in %q", *expr)
	}
	return ok, nil
}

func (p *parser) or() (bool, error) {
	l, err := p.and()
	if err != nil {
		return false, err
	}
	for p.keyword("OR") {
		p.next()
		r, err := p.and()
		if err != nil {
			return false, err
		}
		l = l || r
	}
	return l, nil
}

func (p *parser) and() (bool, error) {
	l, err := p.unary()
	if err != nil {
		return false, err
	}
	for p.keyword("AND") {
		p.next()
		r, err := p.unary()
		if err != nil {
			return false, err
		}
		l = l && r
	}
	return l, nil
}

func (p *parser) unary() (bool, error) {
	switch {
	case p.keyword("NOT"):
		p.next()
		v, err := p.unary()
		return !v, err
	case p.peek() == "(":
		p.next()
		v, err := p.or()
		if err != nil {
			return false, err
		}
		return v, p.expect(")")
	case p.keyword("attribute_exists"), p.keyword("attribute_not_exists"):
		fn := strings.ToLower(p.next())
		if err := p.expect("("); err != nil {
			return false, err
		}
		path, err := p.path(p.next())
		if err != nil {
			return false, err
		}
		if err := p.expect(")"); err != nil {
			return false, err
		}
		exists := lookup(p.item, path) != nil
		if fn == "attribute_exists" {
			return exists, nil
		}
		return !exists, nil
	}

	left, err := p.operand()
	if err != nil {
		return false, err
	}
	op := p.next()
	right, err := p.operand()
	if err != nil {
		return false, err
	}
	if left == nil || right == nil {
		return false, nil
	}
	c, comparable := compare(left, right)
	switch op {
	case "=":
		return comparable && c == 0, nil
	case "<>":
		return !comparable || c != 0, nil
	case "<":
		return comparable && c < 0, nil
	case "<=":
		return comparable && c <= 0, nil
	case ">":
		return comparable && c > 0, nil
	case ">=":
		return comparable && c >= 0, nil
	default:
		return false, fmt.Errorf("dynamotest: unsupported operator %q", op)
	}
}

func lookup(item Item, path []string) types.AttributeValue {
	var cur types.AttributeValue = &types.AttributeValueMemberM{Value: item}
	for _, part := range path {
		m, ok := cur.(*types.AttributeValueMemberM)
		if !ok || m.Value == nil {
			return nil
		}
		cur, ok = m.Value[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func compare(a, b types.AttributeValue) (int, bool) {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, false
		}
		return strings.Compare(av.Value, bv.Value), true
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, false
		}
		return decimal.RequireFromString(av.Value).Cmp(decimal.RequireFromString(bv.Value)), true
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok {
			return 0, false
		}
		if av.Value == bv.Value {
			return 0, true
		}
		if !av.Value {
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func compareValues(a, b types.AttributeValue) int {
	c, _ := compare(a, b)
	return c
}

type assignment struct {
	path  []string
	value types.AttributeValue
}

// applyUpdate evaluates every SET operand against the current item before
// writing any of them. A missing item is created from key.
func applyUpdate(expr *string, names map[string]string, values map[string]types.AttributeValue, current Item, key Item) (Item, error) {
	next := cloneItem(current)
	if next == nil {
		next = cloneItem(key)
	}
	if expr == nil {
		return next, nil
	}
	p := newParser(*expr, names, values, current)

	var (
		sets    []assignment
		removes [][]string
	)
	for p.pos < len(p.toks) {
		clause := strings.ToUpper(p.next())
		switch clause {
		case "SET":
			for {
				path, err := p.path(p.next())
				if err != nil {
					return nil, err
				}
				if err := p.expect("="); err != nil {
					return nil, err
				}
				v, err := p.arith()
				if err != nil {
					return nil, err
				}
				sets = append(sets, assignment{path: path, value: v})
				if p.peek() != "," {
					break
				}
				p.next()
			}
		case "REMOVE":
			for {
				path, err := p.path(p.next())
				if err != nil {
					return nil, err
				}
				removes = append(removes, path)
				if p.peek() != "," {
					break
				}
				p.next()
			}
		default:
			return nil, fmt.Errorf("dynamotest: unsupported update clause %q", clause)
		}
	}

	for _, a := range sets {
		if err := assign(next, a.path, a.value); err != nil {
			return nil, err
		}
	}
	for _, path := range removes {
		remove(next, path)
	}
	return next, nil
}

func (p *parser) arith() (types.AttributeValue, error) {
	left, err := p.operand()
	if err != nil {
		return nil, err
	}
	op := p.peek()
	if op != "+" && op != "-" {
		return left, nil
	}
	p.next()
	right, err := p.operand()
	if err != nil {
		return nil, err
	}
	ln, lok := left.(*types.AttributeValueMemberN)
	rn, rok := right.(*types.AttributeValueMemberN)
	if !lok || !rok {
		return nil, fmt.Errorf("dynamotest: arithmetic on non-number operands")
	}
	l := decimal.RequireFromString(ln.Value)
	r := decimal.RequireFromString(rn.Value)
	if op == "+" {
		return &types.AttributeValueMemberN{Value: l.Add(r).String()}, nil
	}
	return &types.AttributeValueMemberN{Value: l.Sub(r).String()}, nil
}

func assign(item Item, path []string, v types.AttributeValue) error {
	cur := item
	for i, part := range path[:len(path)-1] {
		m, ok := cur[part].(*types.AttributeValueMemberM)
		if !ok {
			return fmt.Errorf("dynamotest: document path %s is not a map", strings.Join(path[:i+1], "."))
		}
		cur = m.Value
	}
	cur[path[len(path)-1]] = v
	return nil
}

func remove(item Item, path []string) {
	cur := item
	for _, part := range path[:len(path)-1] {
		m, ok := cur[part].(*types.AttributeValueMemberM)
		if !ok {
			return
		}
		cur = m.Value
	}
	delete(cur, path[len(path)-1])
}
