package match

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// queryTokenRe splits a query into parens, operators, quoted phrases and
// bare terms. Alternative order matters: operators are tried before the
// catch-all term pattern.
var queryTokenRe = regexp.MustCompile(`(?i)\s*(\(|\)|AND\b|OR\b|NOT\b|NEAR/\d+\b|"[^"]+"|[^\s()]+)\s*`)

// QueryEngine evaluates a small boolean/proximity language against document
// text. Supported forms: bare terms, "quoted phrases", AND, OR, NOT, NEAR/n
// and parentheses. Operators are case-insensitive; terms match with the same
// word-boundary semantics as literal keywords. NEAR/n requires the start
// positions of its operand phrases to lie within n words of each other.
type QueryEngine struct{}

// Tokenize splits a query expression into its tokens. Quoted phrases stay
// quoted; surrounding whitespace is dropped.
func (QueryEngine) Tokenize(query string) []string {
	var tokens []string
	for _, m := range queryTokenRe.FindAllStringSubmatch(query, -1) {
		if t := m[1]; strings.TrimSpace(t) != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// Evaluate parses and evaluates query against text. On a match it returns
// true along with a human-readable trace of the evaluated expression, built
// from the operand details (for example `(accuser AND "flight log")`).
// Malformed expressions return an error and never match.
func (e QueryEngine) Evaluate(query, text string) (bool, string, error) {
	rpn := e.parseToRPN(e.Tokenize(query))
	return e.evalRPN(rpn, text)
}

// parseToRPN converts the token stream to reverse Polish notation with the
// shunting-yard algorithm. Precedence: NOT > NEAR = AND > OR, left
// associative. Every NEAR/n token keys to the same NEAR precedence.
func (QueryEngine) parseToRPN(tokens []string) []string {
	prec := map[string]int{"NOT": 3, "NEAR": 2, "AND": 2, "OR": 1}
	opKey := func(tok string) string {
		u := strings.ToUpper(tok)
		if strings.HasPrefix(u, "NEAR/") {
			return "NEAR"
		}
		return u
	}

	var out, stack []string
	for _, tok := range tokens {
		u := strings.ToUpper(tok)
		switch {
		case tok == "(":
			stack = append(stack, tok)
		case tok == ")":
			for len(stack) > 0 && stack[len(stack)-1] != "(" {
				out = append(out, stack[len(stack)-1])
				stack = stack[:len(stack)-1]
			}
			if len(stack) > 0 && stack[len(stack)-1] == "(" {
				stack = stack[:len(stack)-1]
			}
		case u == "AND" || u == "OR" || u == "NOT" || strings.HasPrefix(u, "NEAR/"):
			k := opKey(tok)
			for len(stack) > 0 && stack[len(stack)-1] != "(" && prec[opKey(stack[len(stack)-1])] >= prec[k] {
				out = append(out, stack[len(stack)-1])
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, tok)
		default:
			out = append(out, tok)
		}
	}
	for len(stack) > 0 {
		out = append(out, stack[len(stack)-1])
		stack = stack[:len(stack)-1]
	}
	return out
}

type queryResult struct {
	ok     bool
	detail string
}

func (e QueryEngine) evalRPN(rpn []string, text string) (bool, string, error) {
	var stack []queryResult
	pop := func() (queryResult, error) {
		if len(stack) == 0 {
			return queryResult{}, eris.New("match: malformed query expression")
		}
		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return r, nil
	}

	for _, tok := range rpn {
		u := strings.ToUpper(tok)
		switch {
		case u == "NOT":
			a, err := pop()
			if err != nil {
				return false, "", err
			}
			stack = append(stack, queryResult{!a.ok, "NOT(" + a.detail + ")"})
		case u == "AND":
			b, err := pop()
			if err != nil {
				return false, "", err
			}
			a, err := pop()
			if err != nil {
				return false, "", err
			}
			stack = append(stack, queryResult{a.ok && b.ok, "(" + a.detail + " AND " + b.detail + ")"})
		case u == "OR":
			b, err := pop()
			if err != nil {
				return false, "", err
			}
			a, err := pop()
			if err != nil {
				return false, "", err
			}
			stack = append(stack, queryResult{a.ok || b.ok, "(" + a.detail + " OR " + b.detail + ")"})
		case strings.HasPrefix(u, "NEAR/"):
			n, err := strconv.Atoi(u[len("NEAR/"):])
			if err != nil {
				return false, "", eris.Wrapf(err, "match: bad proximity operator %q", tok)
			}
			right, err := pop()
			if err != nil {
				return false, "", err
			}
			left, err := pop()
			if err != nil {
				return false, "", err
			}
			ok := e.nearPresent(left.detail, right.detail, n, text)
			stack = append(stack, queryResult{ok, left.detail + " NEAR/" + strconv.Itoa(n) + " " + right.detail})
		default:
			stack = append(stack, queryResult{termPresent(tok, text), tok})
		}
	}
	if len(stack) == 0 {
		return false, "", nil
	}
	top := stack[len(stack)-1]
	return top.ok, top.detail, nil
}

// termTokens strips one pair of surrounding quotes and splits the term into
// word tokens.
func termTokens(term string) []string {
	term = strings.TrimSpace(term)
	if len(term) >= 2 && strings.HasPrefix(term, `"`) && strings.HasSuffix(term, `"`) {
		term = term[1 : len(term)-1]
	}
	return wordTokenRe.FindAllString(term, -1)
}

func termPresent(term, text string) bool {
	tokens := termTokens(term)
	if len(tokens) == 0 {
		return false
	}
	re, err := regexp.Compile(phrasePattern(tokens))
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

// phrasePositions returns every index in words where phrase starts.
func phrasePositions(words, phrase []string) []int {
	if len(phrase) == 0 {
		return nil
	}
	var positions []int
	for i := 0; i+len(phrase) <= len(words); i++ {
		match := true
		for j, p := range phrase {
			if words[i+j] != p {
				match = false
				break
			}
		}
		if match {
			positions = append(positions, i)
		}
	}
	return positions
}

// nearPresent reports whether the left and right phrases both occur with
// their start positions at most n words apart.
func (QueryEngine) nearPresent(left, right string, n int, text string) bool {
	words := wordTokenRe.FindAllString(strings.ToLower(text), -1)
	leftPhrase := lowerAll(termTokens(left))
	rightPhrase := lowerAll(termTokens(right))
	if len(leftPhrase) == 0 || len(rightPhrase) == 0 {
		return false
	}
	leftPos := phrasePositions(words, leftPhrase)
	rightPos := phrasePositions(words, rightPhrase)
	if len(leftPos) == 0 || len(rightPos) == 0 {
		return false
	}
	for _, i := range leftPos {
		for _, j := range rightPos {
			d := i - j
			if d < 0 {
				d = -d
			}
			if d <= n {
				return true
			}
		}
	}
	return false
}

func lowerAll(tokens []string) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = strings.ToLower(t)
	}
	return out
}
