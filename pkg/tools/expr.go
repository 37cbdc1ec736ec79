package tools

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

var exprConstants = map[string]float64{
	"pi":  math.Pi,
	"e":   math.E,
	"tau": 2 * math.Pi,
	"inf": math.Inf(1),
}

var exprFunctions = map[string]func(args []float64) (float64, error){
	"sqrt": unary(func(x float64) (float64, error) {
		if x < 0 {
			return 0, fmt.Errorf("math domain error: sqrt of negative number")
		}
		return math.Sqrt(x), nil
	}),
	"abs":   unary(pure(math.Abs)),
	"sin":   unary(pure(math.Sin)),
	"cos":   unary(pure(math.Cos)),
	"tan":   unary(pure(math.Tan)),
	"asin":  unary(pure(math.Asin)),
	"acos":  unary(pure(math.Acos)),
	"atan":  unary(pure(math.Atan)),
	"exp":   unary(pure(math.Exp)),
	"floor": unary(pure(math.Floor)),
	"ceil":  unary(pure(math.Ceil)),
	"round": unary(pure(math.RoundToEven)),
	"log10": unary(func(x float64) (float64, error) {
		if x <= 0 {
			return 0, fmt.Errorf("math domain error: log10 of non-positive number")
		}
		return math.Log10(x), nil
	}),
	"log": func(args []float64) (float64, error) {
		if len(args) == 0 || len(args) > 2 {
			return 0, fmt.Errorf("log expects 1 or 2 arguments, got %d", len(args))
		}
		if args[0] <= 0 {
			return 0, fmt.Errorf("math domain error: log of non-positive number")
		}
		if len(args) == 1 {
			return math.Log(args[0]), nil
		}
		if args[1] <= 0 || args[1] == 1 {
			return 0, fmt.Errorf("math domain error: invalid log base %v", args[1])
		}
		return math.Log(args[0]) / math.Log(args[1]), nil
	},
	"max": variadic(func(args []float64) float64 {
		out := args[0]
		for _, v := range args[1:] {
			out = math.Max(out, v)
		}
		return out
	}),
	"min": variadic(func(args []float64) float64 {
		out := args[0]
		for _, v := range args[1:] {
			out = math.Min(out, v)
		}
		return out
	}),
	"sum": variadic(func(args []float64) float64 {
		var out float64
		for _, v := range args {
			out += v
		}
		return out
	}),
}

func pure(fn func(float64) float64) func(float64) (float64, error) {
	return func(x float64) (float64, error) { return fn(x), nil }
}

func unary(fn func(float64) (float64, error)) func([]float64) (float64, error) {
	return func(args []float64) (float64, error) {
		if len(args) != 1 {
			return 0, fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		return fn(args[0])
	}
}

func variadic(fn func([]float64) float64) func([]float64) (float64, error) {
	return func(args []float64) (float64, error) {
		if len(args) == 0 {
			return 0, fmt.Errorf("expected at least 1 argument")
		}
		return fn(args), nil
	}
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

func tokenize(src string) ([]token, error) {
	var out []token
	i := 0
	for i < len(src) {
		c := rune(src[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case unicode.IsDigit(c) || c == '.':
			start := i
			for i < len(src) && (unicode.IsDigit(rune(src[i])) || src[i] == '.') {
				i++
			}
			// scientific notation
			if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
				j := i + 1
				if j < len(src) && (src[j] == '+' || src[j] == '-') {
					j++
				}
				if j < len(src) && unicode.IsDigit(rune(src[j])) {
					i = j
					for i < len(src) && unicode.IsDigit(rune(src[i])) {
						i++
					}
				}
			}
			n, err := strconv.ParseFloat(src[start:i], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at position %d", src[start:i], start)
			}
			out = append(out, token{kind: tokNumber, text: src[start:i], num: n, pos: start})
		case unicode.IsLetter(c) || c == '_':
			start := i
			for i < len(src) && (unicode.IsLetter(rune(src[i])) || unicode.IsDigit(rune(src[i])) || src[i] == '_') {
				i++
			}
			out = append(out, token{kind: tokIdent, text: strings.ToLower(src[start:i]), pos: start})
		case c == '(':
			out = append(out, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			out = append(out, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == ',':
			out = append(out, token{kind: tokComma, text: ",", pos: i})
			i++
		case strings.HasPrefix(src[i:], "**"), strings.HasPrefix(src[i:], "//"):
			out = append(out, token{kind: tokOp, text: src[i : i+2], pos: i})
			i += 2
		case strings.ContainsRune("+-*/%^", c):
			out = append(out, token{kind: tokOp, text: string(c), pos: i})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", c, i)
		}
	}
	out = append(out, token{kind: tokEOF, pos: len(src)})
	return out, nil
}

type exprParser struct {
	toks []token
	pos  int
}

// Evaluate computes an arithmetic expression with the usual precedence rules.
func Evaluate(expression string) (float64, error) {
	toks, err := tokenize(expression)
	if err != nil {
		return 0, err
	}
	p := &exprParser{toks: toks}
	if p.peek().kind == tokEOF {
		return 0, fmt.Errorf("empty expression")
	}
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return 0, fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
	}
	if math.IsNaN(v) {
		return 0, fmt.Errorf("result is not a number")
	}
	return v, nil
}

func (p *exprParser) peek() token { return p.toks[p.pos] }

func (p *exprParser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "+" && t.text != "-") {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if t.text == "+" {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "*" && t.text != "/" && t.text != "%" && t.text != "//") {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		switch t.text {
		case "*":
			left *= right
		case "/", "//", "%":
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			switch t.text {
			case "/":
				left /= right
			case "//":
				left = math.Floor(left / right)
			default:
				left = left - right*math.Floor(left/right)
			}
		}
	}
}

func (p *exprParser) parseUnary() (float64, error) {
	t := p.peek()
	if t.kind == tokOp && (t.text == "-" || t.text == "+") {
		p.next()
		v, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		if t.text == "-" {
			return -v, nil
		}
		return v, nil
	}
	return p.parsePower()
}

func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return 0, err
	}
	t := p.peek()
	if t.kind == tokOp && (t.text == "**" || t.text == "^") {
		p.next()
		exp, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

func (p *exprParser) parsePrimary() (float64, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return t.num, nil
	case tokLParen:
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return 0, fmt.Errorf("missing closing parenthesis at position %d", closing.pos)
		}
		return v, nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.parseCall(t)
		}
		if v, ok := exprConstants[t.text]; ok {
			return v, nil
		}
		return 0, fmt.Errorf("unknown variable: %s", t.text)
	case tokEOF:
		return 0, fmt.Errorf("unexpected end of expression")
	default:
		return 0, fmt.Errorf("unexpected %q at position %d", t.text, t.pos)
	}
}

func (p *exprParser) parseCall(name token) (float64, error) {
	fn, ok := exprFunctions[name.text]
	if !ok {
		return 0, fmt.Errorf("unknown function: %s", name.text)
	}
	p.next() // (
	var args []float64
	if p.peek().kind != tokRParen {
		for {
			v, err := p.parseExpr()
			if err != nil {
				return 0, err
			}
			args = append(args, v)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if closing := p.next(); closing.kind != tokRParen {
		return 0, fmt.Errorf("missing closing parenthesis for %s at position %d", name.text, closing.pos)
	}
	v, err := fn(args)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name.text, err)
	}
	return v, nil
}
