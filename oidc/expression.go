package oidc

import (
	"errors"
	"fmt"
	"slices"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"

	"oauth-gateway/config"

	log "github.com/sirupsen/logrus"
)

var (
	ErrExpressionAddVariable = errors.New("error adding variable to expression script before compile")
	ErrExpressionCompile     = errors.New("error compiling expression")
	ErrExpressionSetVariable = errors.New("error setting variable in expression script")
	ErrExpressionRun         = errors.New("error running expression script")
	ErrExpressionResMissing  = errors.New("variable __res__ not found after expression evaluation")
	ErrExpressionResNotBool  = errors.New("variable __res__ is not a bool after expression evaluation")
)

// The Expression contains a compiled Tengo script for evaluating expressions.
type Expression struct {
	compiled *tengo.Compiled
}

// NewExpression creates a new Expression by compiling the given expression string.
// It returns ErrExpressionCompile if the compilation fails.
func NewExpression(expression string) (*Expression, error) {
	script := tengo.NewScript([]byte(fmt.Sprintf(`
		text := import("text")
		times := import("times")
		__res__ := (%s)
	`, expression)))
	script.SetImports(stdlib.GetModuleMap("text", "times"))
	err := script.Add("user", map[string]any{})
	if err != nil {
		log.WithError(err).Error(ErrExpressionAddVariable.Error())
		return nil, ErrExpressionAddVariable
	}
	compiled, err := script.Compile()
	if err != nil {
		log.WithError(err).Error(ErrExpressionCompile.Error())
		return nil, ErrExpressionCompile
	}
	return &Expression{
		compiled: compiled,
	}, nil
}

// Eval evaluates the expression against the provided user value map.
// It returns the boolean result of the evaluation or an error if the evaluation fails.
func (e *Expression) Eval(value map[string]any) (bool, error) {
	cloned := e.compiled.Clone()
	err := cloned.Set("user", value)
	if err != nil {
		log.WithError(err).Error(ErrExpressionSetVariable.Error())
		return false, ErrExpressionSetVariable
	}
	err = cloned.Run()
	if err != nil {
		log.WithError(err).Error(ErrExpressionRun.Error())
		return false, ErrExpressionRun
	}
	v := cloned.Get("__res__")
	if v == nil {
		log.Error(ErrExpressionResMissing.Error())
		return false, ErrExpressionResMissing
	}
	result, ok := v.Value().(bool)
	if !ok {
		log.Error(ErrExpressionResNotBool.Error())
		return false, ErrExpressionResNotBool
	}
	return result, nil
}

// AccessRule decides whether an authenticated user may see a protected route.
// The zero value allows every authenticated user.
type AccessRule struct {
	Groups     []string
	Expression *Expression
}

// NewAccessRule compiles the protection of a static page.
func NewAccessRule(protection *config.StaticPageProtection) (AccessRule, error) {
	if protection == nil {
		return AccessRule{}, nil
	}
	rule := AccessRule{Groups: protection.Groups}
	if protection.Expression != "" {
		expr, err := NewExpression(protection.Expression)
		if err != nil {
			return AccessRule{}, err
		}
		rule.Expression = expr
	}
	return rule, nil
}

// Allows reports whether user passes the group check and the expression.
// An expression that fails to evaluate denies access.
func (r AccessRule) Allows(user UserSession) bool {
	if !checkHasOneGroup(r.Groups, user.Groups) {
		return false
	}
	if r.Expression == nil {
		return true
	}
	ok, err := r.Expression.Eval(user.expressionValue())
	return err == nil && ok
}

func (u UserSession) expressionValue() map[string]any {
	groups := make([]any, 0, len(u.Groups))
	for _, g := range u.Groups {
		groups = append(groups, g)
	}
	return map[string]any{
		"id":     u.UserID,
		"name":   u.Name,
		"email":  u.Email,
		"groups": groups,
	}
}

func checkHasOneGroup(allowed, present []string) bool {
	// when no group allowed, then no rule presentGroup rule is present
	if len(allowed) == 0 {
		return true
	}
	for _, presentGroup := range present {
		if slices.Contains(allowed, presentGroup) {
			return true
		}
	}
	return false
}
