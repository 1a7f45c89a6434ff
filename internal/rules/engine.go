// Package rules provides the CEL-Go engine for operator-defined heuristic
// rules. Custom rules run after the built-in behavior flags and add their
// weight to the risk score when their expression fires.
package rules

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine compiles and evaluates custom risk rules.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*compiledRule
}

type compiledRule struct {
	config  *domain.RiskRule
	program cel.Program
}

// NewEngine creates a rule engine with the assessment context variables.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("local_hour", cel.IntType),
		cel.Variable("payee", cel.StringType),
		cel.Variable("local_part", cel.StringType),
		cel.Variable("handle", cel.StringType),
		cel.Variable("note", cel.StringType),
		cel.Variable("new_contact", cel.BoolType),
		cel.Variable("time_anomaly", cel.BoolType),
		cel.Variable("suspicious_upi", cel.BoolType),
		cel.Variable("suspicious_keywords", cel.BoolType),
		cel.Variable("blacklisted", cel.BoolType),
		cel.Variable("amount_anomaly", cel.BoolType),
		cel.Variable("similar_count", cel.IntType),
		cel.Variable("avg_amount", cel.DoubleType),
		cel.Variable("max_amount", cel.DoubleType),
		cel.Variable("tx_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		compiled: make(map[string]*compiledRule),
	}, nil
}

// Context holds the variables a rule expression can reference.
type Context struct {
	Amount        float64
	LocalHour     int
	Payee         string
	LocalPart     string
	Handle        string
	Note          string
	Flags         domain.BehaviorFlags
	AmountAnomaly bool
	SimilarCount  int
	AvgAmount     float64
	MaxAmount     float64
	TxCount       int64
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(cfg *domain.RiskRule) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}
	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a single rule.
func (e *Engine) LoadRule(cfg *domain.RiskRule) error {
	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.compiled[cfg.ID] = compiled
	e.mu.Unlock()
	return nil
}

// ReloadRules clears all existing rules and loads the given set. Disabled
// rules are skipped. This enables hot-reloading from the database.
func (e *Engine) ReloadRules(configs []*domain.RiskRule) error {
	next := make(map[string]*compiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = compiled
	}

	e.mu.Lock()
	e.compiled = next
	e.mu.Unlock()
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// LoadedRules returns the currently loaded rule configurations.
func (e *Engine) LoadedRules() []*domain.RiskRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.RiskRule, 0, len(e.compiled))
	for _, c := range e.compiled {
		out = append(out, c.config)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Evaluate runs every loaded rule against the context and returns the hits
// in rule ID order, so repeated assessments report identical reasons.
// A rule that errors at runtime is skipped; custom rules must never break an
// assessment.
func (e *Engine) Evaluate(rc *Context) []domain.RuleHit {
	e.mu.RLock()
	loaded := make([]*compiledRule, 0, len(e.compiled))
	for _, c := range e.compiled {
		loaded = append(loaded, c)
	}
	e.mu.RUnlock()

	sort.Slice(loaded, func(i, j int) bool { return loaded[i].config.ID < loaded[j].config.ID })

	if len(loaded) == 0 {
		return nil
	}

	activation := map[string]any{
		"amount":              rc.Amount,
		"local_hour":          rc.LocalHour,
		"payee":               rc.Payee,
		"local_part":          rc.LocalPart,
		"handle":              rc.Handle,
		"note":                rc.Note,
		"new_contact":         rc.Flags.NewContact,
		"time_anomaly":        rc.Flags.TimeAnomaly,
		"suspicious_upi":      rc.Flags.SuspiciousUpi,
		"suspicious_keywords": rc.Flags.SuspiciousKeywords,
		"blacklisted":         rc.Flags.IsBlacklisted,
		"amount_anomaly":      rc.AmountAnomaly,
		"similar_count":       rc.SimilarCount,
		"avg_amount":          rc.AvgAmount,
		"max_amount":          rc.MaxAmount,
		"tx_count":            int(rc.TxCount),
	}

	var hits []domain.RuleHit
	for _, rule := range loaded {
		out, _, err := rule.program.Eval(activation)
		if err != nil {
			continue
		}
		if fired, ok := out.(types.Bool); ok && bool(fired) {
			hits = append(hits, domain.RuleHit{
				RuleID: rule.config.ID,
				Weight: rule.config.Weight,
				Reason: rule.config.Reason,
			})
		}
	}
	return hits
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*compiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.RiskRule) (*compiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &compiledRule{
		config:  cfg,
		program: program,
	}, nil
}
