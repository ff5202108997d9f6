package grading

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"gridsim/internal/store"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

var ErrInvalidCriteria = errors.New("invalid pass criteria")

// Facts are the values a pass criteria expression can refer to.
type Facts struct {
	Score            int
	TotalPoints      int
	MaxPoints        int
	CriticalFailures int
	CorrectSteps     int
	Steps            int
	Timeouts         int
}

func (f Facts) Vars() map[string]any {
	return map[string]any{
		"score":             f.Score,
		"total_points":      f.TotalPoints,
		"max_points":        f.MaxPoints,
		"critical_failures": f.CriticalFailures,
		"correct_steps":     f.CorrectSteps,
		"steps":             f.Steps,
		"timeouts":          f.Timeouts,
	}
}

func FactsFromRecord(r store.SessionRecord) Facts {
	steps := r.StepCount
	if steps < len(r.Steps) {
		steps = len(r.Steps)
	}
	return Facts{
		Score:            r.FinalScorePercent,
		TotalPoints:      r.TotalPoints(),
		MaxPoints:        r.MaxPoints,
		CriticalFailures: r.CriticalFailures(),
		CorrectSteps:     r.CorrectSteps(),
		Steps:            steps,
		Timeouts:         r.Timeouts(),
	}
}

// Criteria is a compiled pass/fail rule. An empty rule passes every session.
type Criteria struct {
	source  string
	program *vm.Program
}

func Compile(cond string) (*Criteria, error) {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return &Criteria{}, nil
	}

	if err := Validate(cond); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCriteria, err)
	}

	program, err := expr.Compile(cond, expr.Env(Facts{}.Vars()), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCriteria, err)
	}

	return &Criteria{source: cond, program: program}, nil
}

func MustCompile(cond string) *Criteria {
	c, err := Compile(cond)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Criteria) String() string {
	return c.source
}

func (c *Criteria) Evaluate(f Facts) (bool, error) {
	if c.program == nil {
		return true, nil
	}

	out, err := expr.Run(c.program, f.Vars())
	if err != nil {
		return false, err
	}

	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("criteria must evaluate to bool (got %T)", out)
	}
	return b, nil
}

// Validate rejects anything beyond comparisons and boolean logic over the
// fact names: no member access, no arithmetic, no function calls.
func Validate(cond string) error {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return nil
	}

	illegalChars := []rune{'{', '}', '[', ']', ';', ':', '?', '@', '#', '$', '\\', '"', '\'', '`'}
	for _, ch := range illegalChars {
		if strings.ContainsRune(cond, ch) {
			return fmt.Errorf("illegal character %q", ch)
		}
	}

	if strings.Contains(cond, ".") {
		return fmt.Errorf("dot access is not allowed")
	}

	illegalOps := []string{"+", "-", "*", "/", "%", "^"}
	for _, op := range illegalOps {
		if strings.Contains(cond, op) {
			return fmt.Errorf("arithmetic operator %q is not allowed", op)
		}
	}

	for i := 0; i < len(cond)-1; i++ {
		if cond[i] != '(' {
			continue
		}
		j := i - 1
		for j >= 0 && unicode.IsSpace(rune(cond[j])) {
			j--
		}
		if j >= 0 && (unicode.IsLetter(rune(cond[j])) || cond[j] == '_') {
			k := j
			for k >= 0 && (unicode.IsLetter(rune(cond[k])) || unicode.IsDigit(rune(cond[k])) || cond[k] == '_') {
				k--
			}
			ident := strings.TrimSpace(cond[k+1 : j+1])
			if ident != "" && !isKeyword(ident) {
				return fmt.Errorf("function calls are not allowed (found %q(...))", ident)
			}
		}
	}

	return nil
}

func isKeyword(ident string) bool {
	switch ident {
	case "and", "or", "not":
		return true
	}
	return false
}
