// Package rules evaluates digest priority rules. Each rule is a CEL
// expression over the current weekly aggregate; rules that evaluate true
// contribute their description to the digest's priority items.
package rules

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
	"github.com/triagewatch/triagewatch/internal/config"
	"github.com/triagewatch/triagewatch/internal/errors"
)

// Input is the variable set a rule expression may reference.
//
//	untriaged     current untriaged defect count
//	total         current total defect count
//	testBugs      current test-bug count
//	productBugs   current product-bug count
//	infraBugs     current infra-bug count
//	trendPercent  week-over-week untriaged change, rounded percent
type Input struct {
	Untriaged    int
	Total        int
	TestBugs     int
	ProductBugs  int
	InfraBugs    int
	TrendPercent int
}

// compiledRule pairs one configured rule with its compiled program
type compiledRule struct {
	name        string
	description string
	program     cel.Program
}

// Engine evaluates the configured priority rules against weekly aggregates
type Engine struct {
	logger *slog.Logger
	rules  []compiledRule
}

// defaultRules apply when the watch file configures none
var defaultRules = []config.RuleConfig{
	{
		Name:        "untriaged-backlog",
		Expression:  "untriaged > 10",
		Description: "High number of untriaged defects requires attention",
	},
	{
		Name:        "untriaged-trend",
		Expression:  "trendPercent > 20",
		Description: "Untriaged defects trending up significantly",
	},
}

// NewEngine compiles the configured rules into an evaluation engine. Every
// expression must type-check to a boolean; a bad rule fails startup rather
// than being skipped at digest time.
func NewEngine(logger *slog.Logger, configured []config.RuleConfig) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(configured) == 0 {
		configured = defaultRules
	}

	env, err := cel.NewEnv(
		cel.Variable("untriaged", cel.IntType),
		cel.Variable("total", cel.IntType),
		cel.Variable("testBugs", cel.IntType),
		cel.Variable("productBugs", cel.IntType),
		cel.Variable("infraBugs", cel.IntType),
		cel.Variable("trendPercent", cel.IntType),
	)
	if err != nil {
		return nil, errors.NewPermanentf("failed to create CEL environment: %w", err)
	}

	compiled := make([]compiledRule, 0, len(configured))
	for _, rule := range configured {
		ast, issues := env.Compile(rule.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, errors.NewPermanentf("failed to compile rule %q: %w", rule.Name, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, errors.NewPermanentf("rule %q must return a boolean, got %v", rule.Name, ast.OutputType())
		}
		program, err := env.Program(ast)
		if err != nil {
			return nil, errors.NewPermanentf("failed to create program for rule %q: %w", rule.Name, err)
		}

		description := rule.Description
		if description == "" {
			description = fmt.Sprintf("rule %s fired", rule.Name)
		}
		compiled = append(compiled, compiledRule{
			name:        rule.Name,
			description: description,
			program:     program,
		})
	}

	return &Engine{logger: logger, rules: compiled}, nil
}

// Evaluate returns the descriptions of every rule that fires for the given
// weekly aggregate, in configuration order. A rule whose evaluation errors
// is logged and skipped; one bad rule never blocks the digest.
func (e *Engine) Evaluate(input Input) []string {
	vars := map[string]interface{}{
		"untriaged":    input.Untriaged,
		"total":        input.Total,
		"testBugs":     input.TestBugs,
		"productBugs":  input.ProductBugs,
		"infraBugs":    input.InfraBugs,
		"trendPercent": input.TrendPercent,
	}

	var fired []string
	for _, rule := range e.rules {
		out, _, err := rule.program.Eval(vars)
		if err != nil {
			e.logger.Warn("failed to evaluate priority rule",
				"rule", rule.name,
				"error", err.Error())
			continue
		}
		passed, ok := out.Value().(bool)
		if !ok {
			e.logger.Warn("priority rule did not return a boolean",
				"rule", rule.name)
			continue
		}
		if passed {
			e.logger.Debug("priority rule fired",
				"rule", rule.name,
				"untriaged", input.Untriaged,
				"trend_percent", input.TrendPercent)
			fired = append(fired, rule.description)
		}
	}
	return fired
}
