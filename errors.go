package ruleengine

import "errors"

var (
	// ErrEngineDisposed is returned by operations on a shut-down engine.
	ErrEngineDisposed = errors.New("rule engine disposed")

	// ErrRuleNotFound is returned when an operation names an unmanaged rule.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrRuleNotRunnable is returned by RunNow when the rule is not in the
	// Idle status, including when another execution is in flight.
	ErrRuleNotRunnable = errors.New("rule not in idle status")
)
