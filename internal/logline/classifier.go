package logline

import (
	"context"
	"fmt"
	"regexp"
)

// Rule names of the shipped rule set.
const (
	RuleConnect = "connect"
	RuleNoQueue = "noqueue"
	RuleAccept  = "accept"
	RuleRemoved = "removed"
	RuleCleanup = "cleanup"
	RuleQueued  = "queued"
	RuleSpam    = "spam"
	RulePipe    = "pipe"
	RuleSMTP    = "smtp"
	RuleVirtual = "virtual"
)

// Pattern pairs a rule name with the expression that selects its lines.
type Pattern struct {
	Name string
	Expr string
}

// Patterns is the shipped rule set in registration order. The expressions are
// written not to overlap, but nothing relies on that: every match fires.
var Patterns = []Pattern{
	{Name: RuleConnect, Expr: `postfix/smtpd\[\d+\]: connect from`},
	{Name: RuleNoQueue, Expr: `postfix/smtpd.*NOQUEUE`},
	{Name: RuleAccept, Expr: `postfix/smtpd.*client=`},
	{Name: RuleRemoved, Expr: `postfix/qmgr.*removed`},
	{Name: RuleCleanup, Expr: `postfix/cleanup`},
	{Name: RuleQueued, Expr: `postfix/qmgr.*from=`},
	{Name: RuleSpam, Expr: `spamd\[\d+\]:`},
	{Name: RulePipe, Expr: `postfix/pipe`},
	{Name: RuleSMTP, Expr: `postfix/smtp\[.*to=`},
	{Name: RuleVirtual, Expr: `postfix/virtual.*to=`},
}

// HandlerFunc consumes one raw line selected by a rule.
type HandlerFunc func(ctx context.Context, line string) error

// Rule binds a compiled pattern to its handler.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Handler HandlerFunc
}

// Outcome is the result of one handler invocation.
type Outcome struct {
	Rule string
	Err  error
}

// Classifier dispatches lines to every rule whose pattern matches.
type Classifier struct {
	rules []Rule
}

// NewClassifier creates an empty classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Register appends a rule. Rules are evaluated in registration order.
func (c *Classifier) Register(name, expr string, handler HandlerFunc) error {
	if handler == nil {
		return fmt.Errorf("rule %q: nil handler", name)
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("rule %q: %w", name, err)
	}
	c.rules = append(c.rules, Rule{Name: name, Pattern: re, Handler: handler})
	return nil
}

// Rules returns the registered rule names in evaluation order.
func (c *Classifier) Rules() []string {
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.Name
	}
	return names
}

// Dispatch evaluates every pattern against line and invokes each matching
// handler. It returns one Outcome per match; an empty result means the line
// was not recognized.
func (c *Classifier) Dispatch(ctx context.Context, line string) []Outcome {
	var outcomes []Outcome
	for _, r := range c.rules {
		if !r.Pattern.MatchString(line) {
			continue
		}
		outcomes = append(outcomes, Outcome{Rule: r.Name, Err: r.Handler(ctx, line)})
	}
	return outcomes
}
