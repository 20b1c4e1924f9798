// internal/service/inventory/infrastructure/rule/cel_engine.go
package rule

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"stockroom/internal/service/inventory/domain"
)

// CELRuleEngine 是 domain.AlertRuleEngine 的 CEL 实现。
// 低库存判定规则是一条运维可配置的表达式（默认 "stock < threshold"），
// 表达式在构造时编译一次，之后每次评估只执行编译产物。
//
// 可用变量: stock (int), threshold (int), price (double), name (string)。
type CELRuleEngine struct {
	program cel.Program
}

// NewCELRuleEngine 编译表达式并校验其返回类型必须为 bool。
func NewCELRuleEngine(expression string) (*CELRuleEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("stock", cel.IntType),
		cel.Variable("threshold", cel.IntType),
		cel.Variable("price", cel.DoubleType),
		cel.Variable("name", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid low-stock rule %q: %w", expression, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("low-stock rule %q must evaluate to bool, got %s", expression, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build CEL program: %w", err)
	}
	return &CELRuleEngine{program: program}, nil
}

// Evaluate 实现 domain.AlertRuleEngine。
func (e *CELRuleEngine) Evaluate(fact domain.AlertFact) (bool, error) {
	out, _, err := e.program.Eval(map[string]interface{}{
		"stock":     fact.Stock,
		"threshold": fact.Threshold,
		"price":     fact.Price,
		"name":      fact.Name,
	})
	if err != nil {
		return false, err
	}
	flagged, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("unexpected result type from rule evaluation: %T", out.Value())
	}
	return flagged, nil
}
