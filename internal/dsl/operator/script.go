package operator

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/syntrixbase/livequery/pkg/model"
)

// ScriptEnv compiles CEL expressions evaluated against documents.
// Expressions see the document as `doc` and its identifier as `id`.
type ScriptEnv struct {
	env *cel.Env
}

// NewScriptEnv creates a CEL environment with the document variables declared.
func NewScriptEnv() (*ScriptEnv, error) {
	env, err := cel.NewEnv(
		cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &ScriptEnv{env: env}, nil
}

// Script is a compiled CEL predicate. Source is its canonical form.
type Script struct {
	Source string `json:"source"`

	program cel.Program
}

// Compile compiles src, which must evaluate to a bool.
func (e *ScriptEnv) Compile(src string) (*Script, error) {
	ast, issues := e.env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, issues.Err())
	}
	if kind := ast.OutputType().Kind(); kind != types.BoolKind && kind != types.DynKind {
		return nil, fmt.Errorf("%w: expression must return a bool, got %s", ErrInvalidScript, ast.OutputType())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	return &Script{Source: src, program: prg}, nil
}

// Eval runs the script against doc. Runtime errors and non-bool results are false.
func (s *Script) Eval(doc map[string]interface{}) bool {
	if s == nil || s.program == nil {
		return false
	}
	id, _ := doc[model.IDField].(string)
	out, _, err := s.program.Eval(map[string]interface{}{
		"doc": doc,
		"id":  id,
	})
	if err != nil {
		return false
	}
	result, ok := out.Value().(bool)
	return ok && result
}
