// internal/service/inventory/domain/rule.go
package domain

// AlertFact 是低库存判定规则的输入事实。
type AlertFact struct {
	Stock     int
	Threshold int
	Price     float64
	Name      string
}

// AlertRuleEngine 低库存判定规则的端口。实现方（CEL 适配器）负责
// 把运维配置的表达式编译为可执行规则。
type AlertRuleEngine interface {
	Evaluate(fact AlertFact) (bool, error)
}
