package builtin

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

func calculatorTool() Tool {
	return Tool{
		Name:        "calculator",
		Description: "Evaluates mathematical expressions. Supports +, -, *, /, % and ^, parentheses, the constants pi and e, and the functions sqrt, abs, sin, cos, tan, log, ln, ceil and floor.",
		Category:    "math",
		Tags:        []string{"math", "calculate", "compute"},
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expression": map[string]any{
					"type":        "string",
					"description": "The expression to evaluate, e.g. '2 + 2', '10 * (5 - 3)', 'sqrt(16)'",
				},
			},
			"required": []any{"expression"},
		},
		Execute: func(_ context.Context, args map[string]any) (any, error) {
			expression, err := stringArg(args, "expression")
			if err != nil {
				return nil, err
			}
			result, err := evaluateExpression(expression)
			if err != nil {
				return nil, invalidArgs("failed to evaluate expression: %v", err)
			}
			return map[string]any{
				"expression": expression,
				"result":     result,
			}, nil
		},
	}
}

var calculatorFuncs = map[string]func(float64) float64{
	"sqrt":  math.Sqrt,
	"abs":   math.Abs,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"log":   math.Log10,
	"ln":    math.Log,
	"ceil":  math.Ceil,
	"floor": math.Floor,
}

var calculatorConsts = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}

// evaluateExpression parses and evaluates expr with the usual precedence:
// ^ binds tighter than unary minus, which binds tighter than * / %.
func evaluateExpression(expr string) (float64, error) {
	p := &exprParser{src: strings.ToLower(expr)}
	v, err := p.parseSum()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return 0, fmt.Errorf("unexpected %q at offset %d", p.src[p.pos], p.pos)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("result is not a finite number")
	}
	return v, nil
}

type exprParser struct {
	src string
	pos int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *exprParser) parseSum() (float64, error) {
	left, err := p.parseProduct()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseProduct()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.parseProduct()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseProduct() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		op := p.peek()
		if op != '*' && op != '/' && op != '%' {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		switch op {
		case '*':
			left *= right
		case '/':
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		case '%':
			if right == 0 {
				return 0, fmt.Errorf("modulo by zero")
			}
			left = math.Mod(left, right)
		}
	}
}

func (p *exprParser) parseUnary() (float64, error) {
	switch p.peek() {
	case '-':
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	case '+':
		p.pos++
		return p.parseUnary()
	}
	return p.parsePower()
}

func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return 0, err
	}
	if p.peek() != '^' {
		return base, nil
	}
	p.pos++
	// right associative
	exp, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	return math.Pow(base, exp), nil
}

func (p *exprParser) parsePrimary() (float64, error) {
	c := p.peek()
	switch {
	case c == 0:
		return 0, fmt.Errorf("unexpected end of expression")
	case c == '(':
		p.pos++
		v, err := p.parseSum()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	case c == '.' || (c >= '0' && c <= '9'):
		return p.parseNumber()
	case unicode.IsLetter(rune(c)):
		return p.parseIdent()
	}
	return 0, fmt.Errorf("unexpected %q at offset %d", c, p.pos)
}

func (p *exprParser) parseNumber() (float64, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if (c >= '0' && c <= '9') || c == '.' {
			p.pos++
			continue
		}
		break
	}
	v, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", p.src[start:p.pos])
	}
	return v, nil
}

func (p *exprParser) parseIdent() (float64, error) {
	start := p.pos
	for p.pos < len(p.src) && unicode.IsLetter(rune(p.src[p.pos])) {
		p.pos++
	}
	name := p.src[start:p.pos]

	if fn, ok := calculatorFuncs[name]; ok {
		if p.peek() != '(' {
			return 0, fmt.Errorf("%s needs an argument in parentheses", name)
		}
		arg, err := p.parsePrimary()
		if err != nil {
			return 0, err
		}
		return fn(arg), nil
	}
	if v, ok := calculatorConsts[name]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("unknown identifier %q", name)
}
