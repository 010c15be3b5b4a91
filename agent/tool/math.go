package tool

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/crewflow/agent/contract"
)

const ToolMathEvaluate = "math.evaluate"

// Accepts digits, whitespace, decimal points, operators, and parentheses.
var mathExpressionPattern = regexp.MustCompile(`^[\d\s\+\-\*/%\^\(\)\.]+$`)

type MathEvaluateOutput struct {
	Expression string  `json:"expression"`
	Result     float64 `json:"result"`
}

func MathToolInfo() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: ToolMathEvaluate,
		Desc: "Evaluate a mathematical expression.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"expression": {Type: schema.String, Desc: "Expression to evaluate", Required: true},
		}),
	}
}

func MathHandler(_ context.Context, _ contractx.TurnView, args map[string]any) (any, error) {
	raw, ok := args["expression"]
	if !ok {
		return nil, fmt.Errorf("expression is required")
	}
	expression, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("expression must be a string")
	}

	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("expression is empty")
	}
	if !mathExpressionPattern.MatchString(expression) {
		return nil, fmt.Errorf("expression contains invalid characters")
	}

	result, err := evaluateExpression(expression)
	if err != nil {
		return nil, err
	}
	return MathEvaluateOutput{Expression: expression, Result: result}, nil
}

// evaluateExpression parses with precedence climbing over + - * / % ^ and
// parentheses; ^ binds tightest and associates right.
func evaluateExpression(expression string) (float64, error) {
	p := &exprParser{input: expression}
	value, err := p.parse(0)
	if err != nil {
		return 0, err
	}
	p.skipSpaces()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("unexpected token at position %d", p.pos)
	}
	return value, nil
}

type exprParser struct {
	input string
	pos   int
}

func precedence(op byte) int {
	switch op {
	case '+', '-':
		return 1
	case '*', '/', '%':
		return 2
	case '^':
		return 3
	default:
		return 0
	}
}

func (p *exprParser) parse(minPrec int) (float64, error) {
	left, err := p.parseAtom()
	if err != nil {
		return 0, err
	}

	for {
		p.skipSpaces()
		if p.pos >= len(p.input) {
			return left, nil
		}
		op := p.input[p.pos]
		prec := precedence(op)
		if prec == 0 || prec < minPrec {
			return left, nil
		}
		p.pos++

		next := prec + 1
		if op == '^' { // right-associative
			next = prec
		}
		right, err := p.parse(next)
		if err != nil {
			return 0, err
		}

		switch op {
		case '+':
			left += right
		case '-':
			left -= right
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
		case '^':
			left = math.Pow(left, right)
		}
	}
}

func (p *exprParser) parseAtom() (float64, error) {
	p.skipSpaces()
	if p.pos >= len(p.input) {
		return 0, fmt.Errorf("unexpected end of expression")
	}

	switch p.input[p.pos] {
	case '+':
		p.pos++
		return p.parseAtom()
	case '-':
		p.pos++
		value, err := p.parseAtom()
		return -value, err
	case '(':
		p.pos++
		value, err := p.parse(0)
		if err != nil {
			return 0, err
		}
		p.skipSpaces()
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return 0, fmt.Errorf("missing closing parenthesis at position %d", p.pos)
		}
		p.pos++
		return value, nil
	}
	return p.parseNumber()
}

func (p *exprParser) parseNumber() (float64, error) {
	start := p.pos
	hasDot := false
	for p.pos < len(p.input) {
		ch := p.input[p.pos]
		if ch == '.' {
			if hasDot {
				return 0, fmt.Errorf("invalid number format at position %d", p.pos)
			}
			hasDot = true
			p.pos++
			continue
		}
		if ch < '0' || ch > '9' {
			break
		}
		p.pos++
	}
	if p.pos == start || (hasDot && p.pos == start+1) {
		return 0, fmt.Errorf("expected number at position %d", start)
	}

	value, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", p.input[start:p.pos], err)
	}
	return value, nil
}

func (p *exprParser) skipSpaces() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}
