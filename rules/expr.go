package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// exprCostLimit bounds the work a single condition expression may do
const exprCostLimit = 1000000

// ExprCompiler compiles CEL condition expressions for authored rules.
//
// Expressions see these variables:
//
//	action    string            kind of the current action
//	parent    string            kind of the parent action, "" when top-level
//	src, dst  string            participant object ids, "" when absent
//	nested    bool              whether the action has a parent
//	rulebook  string            id of the running rulebook
//	timestamp int               clock reading for this run
//	args      map(string, dyn)  the action's payload
//
// and two functions backed by the compiler's perceiver:
//
//	canPerceive(observer, target, sense) bool
//	canSee(observer, target) bool
type ExprCompiler struct {
	env       *cel.Env
	perceiver Perceiver
	programs  map[string]cel.Program // expression -> compiled program
	mu        sync.RWMutex
}

// NewExprCompiler creates a compiler whose perception functions ask p.
// p may be nil, in which case nothing is perceivable.
func NewExprCompiler(p Perceiver) (*ExprCompiler, error) {
	c := &ExprCompiler{
		perceiver: p,
		programs:  make(map[string]cel.Program),
	}

	env, err := cel.NewEnv(
		cel.Variable("action", cel.StringType),
		cel.Variable("parent", cel.StringType),
		cel.Variable("src", cel.StringType),
		cel.Variable("dst", cel.StringType),
		cel.Variable("nested", cel.BoolType),
		cel.Variable("rulebook", cel.StringType),
		cel.Variable("timestamp", cel.IntType),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
		cel.Function("canPerceive",
			cel.Overload("canPerceive_string_string_string",
				[]*cel.Type{cel.StringType, cel.StringType, cel.StringType}, cel.BoolType,
				cel.FunctionBinding(func(args ...ref.Val) ref.Val {
					return types.Bool(c.canPerceive(args[0], args[1], Sense(stringVal(args[2]))))
				}),
			),
		),
		cel.Function("canSee",
			cel.Overload("canSee_string_string",
				[]*cel.Type{cel.StringType, cel.StringType}, cel.BoolType,
				cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
					return types.Bool(c.canPerceive(lhs, rhs, SenseSight))
				}),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	c.env = env

	return c, nil
}

// Compile compiles expression into a Condition. Compilation and type
// errors are returned here, at definition time; evaluation errors surface
// from the Condition at run time.
func (c *ExprCompiler) Compile(expression string) (Condition, error) {
	prog, err := c.program(expression)
	if err != nil {
		return nil, err
	}

	return func(ctx *Context) (bool, error) {
		out, _, err := prog.Eval(activation(ctx))
		if err != nil {
			return false, err
		}
		matched, ok := out.Value().(bool)
		if !ok {
			return false, fmt.Errorf("expression %q evaluated to %T, not bool", expression, out.Value())
		}
		return matched, nil
	}, nil
}

func (c *ExprCompiler) program(expression string) (cel.Program, error) {
	c.mu.RLock()
	prog, exists := c.programs[expression]
	c.mu.RUnlock()
	if exists {
		return prog, nil
	}

	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	if out := ast.OutputType().String(); out != "bool" && out != "dyn" {
		return nil, fmt.Errorf("compile error: expression %q has type %s, want bool", expression, out)
	}

	prog, err := c.env.Program(ast, cel.CostLimit(exprCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	c.mu.Lock()
	c.programs[expression] = prog
	c.mu.Unlock()

	return prog, nil
}

func (c *ExprCompiler) canPerceive(observer, target ref.Val, sense Sense) bool {
	if c.perceiver == nil {
		return false
	}
	return c.perceiver.CanPerceive(ObjectID(stringVal(observer)), ObjectID(stringVal(target)), sense)
}

func stringVal(v ref.Val) string {
	s, _ := v.Value().(string)
	return s
}

func activation(ctx *Context) map[string]any {
	vars := map[string]any{
		"action":    string(ctx.ActionKind()),
		"parent":    "",
		"src":       string(ctx.Src),
		"dst":       string(ctx.Dst),
		"nested":    ctx.Nested,
		"rulebook":  ctx.RulebookID,
		"timestamp": ctx.Timestamp,
		"args":      map[string]any{},
	}
	if ctx.Action != nil {
		if ctx.Action.Parent != nil {
			vars["parent"] = string(ctx.Action.Parent.Kind)
		}
		if ctx.Action.Args != nil {
			vars["args"] = ctx.Action.Args
		}
	}
	return vars
}
