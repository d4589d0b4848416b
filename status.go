package ruleengine

import "time"

// RuleStatus is the coarse lifecycle state of a managed rule.
type RuleStatus string

const (
	StatusUninitialized RuleStatus = "UNINITIALIZED"
	StatusInitializing  RuleStatus = "INITIALIZING"
	StatusIdle          RuleStatus = "IDLE"
	StatusRunning       RuleStatus = "RUNNING"
)

// RuleStatusDetail qualifies why a rule is in its current status.
type RuleStatusDetail string

const (
	DetailNone                     RuleStatusDetail = "NONE"
	DetailDisabled                 RuleStatusDetail = "DISABLED"
	DetailInvalidRule              RuleStatusDetail = "INVALID_RULE"
	DetailHandlerInitializingError RuleStatusDetail = "HANDLER_INITIALIZING_ERROR"
	DetailHandlerMissingError      RuleStatusDetail = "HANDLER_MISSING_ERROR"
)

// RuleStatusInfo is a status snapshot with an optional diagnostic message.
type RuleStatusInfo struct {
	Status  RuleStatus       `json:"status"`
	Detail  RuleStatusDetail `json:"detail"`
	Message string           `json:"message,omitempty"`
}

// StatusEvent is emitted on every observable status transition.
type StatusEvent struct {
	RuleUID string         `json:"ruleUID"`
	Status  RuleStatusInfo `json:"status"`
	Source  string         `json:"source"`
	Time    time.Time      `json:"time"`
}

// StatusPublisher receives status transition events. Implementations must not
// assume they are called from any particular goroutine.
type StatusPublisher interface {
	PublishStatus(ev StatusEvent) error
}

// MetricsRecorder observes rule executions and status transitions.
type MetricsRecorder interface {
	RecordExecution(ruleUID, outcome string, elapsed time.Duration)
	RecordStatus(ruleUID, status string)
}
