// Package rules implements the per-project rule engine (spec §4.G):
// compiled expression ASTs cached per project, evaluated against a
// candidate resource, with evaluation errors demoted to a deny rather than
// surfaced as a distinct error kind.
//
// Grounded on original_source/aruna-server/src/transactions/rule.rs's
// RuleEngine: an RWMutex-protected map from project index to a compiled
// program, a read-locked rhai engine used only to eval_ast, and add_rule
// taking the write lock to compile and insert. rhai has no Go port in any
// example repo, so the expression language itself is replaced with
// github.com/expr-lang/expr (named, not grounded — see DESIGN.md), keeping
// rule.rs's locking and caching shape unchanged.
package rules

import (
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/cuemby/strata/internal/log"
	"github.com/cuemby/strata/internal/types"
)

// Candidate is the resource shape rule expressions evaluate against,
// mirroring the aruna models::Resource type rule.rs's rhai engine builds a
// type binding for.
type Candidate struct {
	Name        string
	Kind        string
	Description string
	Tags        []string
	Public      bool
	ParentName  string
}

// Engine caches compiled rule programs per project index.
type Engine struct {
	mu       sync.RWMutex
	programs map[types.Index]*vm.Program
}

// NewEngine returns an empty Engine; rules are added via AddRule as Rule
// nodes are created or loaded at startup.
func NewEngine() *Engine {
	return &Engine{programs: make(map[types.Index]*vm.Program)}
}

// AddRule compiles source and binds it to projectIdx, replacing any
// previously bound program. Compilation takes the write lock, matching
// rule.rs's add_rule.
func (e *Engine) AddRule(projectIdx types.Index, source string) error {
	program, err := expr.Compile(source, expr.Env(Candidate{}), expr.AsBool())
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.programs[projectIdx] = program
	e.mu.Unlock()
	return nil
}

// HasRule reports whether a rule is bound to projectIdx. Callers use this
// to decide whether to gate a mutation at all: a project with no bound
// rule has nothing to enforce, so dispatch should skip calling Eval rather
// than treat "no rule" as a denial.
func (e *Engine) HasRule(projectIdx types.Index) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.programs[projectIdx]
	return ok
}

// Eval runs the rule bound to projectIdx against candidate. Per spec §4.G,
// a missing rule or an evaluation error is demoted to false (deny) and
// logged, never surfaced as a distinct error — callers that want "no rule
// bound" to mean "allowed" must check HasRule first.
func (e *Engine) Eval(projectIdx types.Index, candidate Candidate) bool {
	e.mu.RLock()
	program, ok := e.programs[projectIdx]
	e.mu.RUnlock()
	if !ok {
		return false
	}

	out, err := expr.Run(program, candidate)
	if err != nil {
		log.WithComponent("rules").Warn().Err(err).Uint32("project", uint32(projectIdx)).Msg("rule evaluation failed, denying")
		return false
	}
	result, ok := out.(bool)
	if !ok {
		log.WithComponent("rules").Warn().Uint32("project", uint32(projectIdx)).Msg("rule did not evaluate to bool, denying")
		return false
	}
	return result
}
