package ruleengine

// Kind names the category of a rule module.
type Kind string

const (
	KindTrigger   Kind = "trigger"
	KindCondition Kind = "condition"
	KindAction    Kind = "action"
)

// Module is the common read surface of trigger, condition and action
// definitions. Handler factories receive modules through this interface.
type Module interface {
	ModuleID() string
	ModuleTypeUID() string
	ModuleKind() Kind
	ModuleConfig() map[string]any
}

// Trigger declares a module that starts rule execution. Triggers have no
// inputs; their outputs seed the rule context.
type Trigger struct {
	ID      string         `yaml:"id" json:"id"`
	TypeUID string         `yaml:"type" json:"type"`
	Label   string         `yaml:"label,omitempty" json:"label,omitempty"`
	Config  map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

func (t *Trigger) ModuleID() string             { return t.ID }
func (t *Trigger) ModuleTypeUID() string        { return t.TypeUID }
func (t *Trigger) ModuleKind() Kind             { return KindTrigger }
func (t *Trigger) ModuleConfig() map[string]any { return t.Config }

// Condition declares a module that gates action execution. Inputs map input
// names to reference strings ("moduleId.output" or "${contextKey}").
type Condition struct {
	ID      string            `yaml:"id" json:"id"`
	TypeUID string            `yaml:"type" json:"type"`
	Label   string            `yaml:"label,omitempty" json:"label,omitempty"`
	Config  map[string]any    `yaml:"config,omitempty" json:"config,omitempty"`
	Inputs  map[string]string `yaml:"inputs,omitempty" json:"inputs,omitempty"`
}

func (c *Condition) ModuleID() string             { return c.ID }
func (c *Condition) ModuleTypeUID() string        { return c.TypeUID }
func (c *Condition) ModuleKind() Kind             { return KindCondition }
func (c *Condition) ModuleConfig() map[string]any { return c.Config }

// Action declares a module executed when all conditions are satisfied.
type Action struct {
	ID      string            `yaml:"id" json:"id"`
	TypeUID string            `yaml:"type" json:"type"`
	Label   string            `yaml:"label,omitempty" json:"label,omitempty"`
	Config  map[string]any    `yaml:"config,omitempty" json:"config,omitempty"`
	Inputs  map[string]string `yaml:"inputs,omitempty" json:"inputs,omitempty"`
}

func (a *Action) ModuleID() string             { return a.ID }
func (a *Action) ModuleTypeUID() string        { return a.TypeUID }
func (a *Action) ModuleKind() Kind             { return KindAction }
func (a *Action) ModuleConfig() map[string]any { return a.Config }

// Rule is a declarative automation rule. The engine never mutates a Rule
// passed to it; auto-mapped connections live on the engine's internal
// wrappers.
type Rule struct {
	UID         string      `yaml:"uid,omitempty" json:"uid,omitempty"`
	Name        string      `yaml:"name,omitempty" json:"name,omitempty"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Tags        []string    `yaml:"tags,omitempty" json:"tags,omitempty"`
	Triggers    []Trigger   `yaml:"triggers,omitempty" json:"triggers,omitempty"`
	Conditions  []Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	Actions     []Action    `yaml:"actions,omitempty" json:"actions,omitempty"`
}
