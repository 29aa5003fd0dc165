package domain

import (
	"encoding/json"
	"fmt"
)

// RoleContext is one variant of MinimumViableContext. Each variant carries
// exactly the fields its role needs.
type RoleContext interface {
	ContextRole() Role
}

// TranslatorContext is handed to translator workers: the design node and
// target framework, nothing about validation criteria.
type TranslatorContext struct {
	ComponentID   string          `json:"component_id"`
	ComponentName string          `json:"component_name"`
	Design        json.RawMessage `json:"design,omitempty"`
	Framework     string          `json:"framework,omitempty"`
	Constraints   []string        `json:"constraints,omitempty"`
}

// ContextRole implements RoleContext.
func (*TranslatorContext) ContextRole() Role { return RoleTranslator }

// ValidatorContext is handed to validator workers: the artifact under test
// and the checks it must pass. The raw design is deliberately absent.
type ValidatorContext struct {
	ComponentName string          `json:"component_name"`
	SourceTaskID  string          `json:"source_task_id"`
	Artifact      json.RawMessage `json:"artifact,omitempty"`
	CheckerSpec   *CheckerSpec    `json:"checker_spec,omitempty"`
}

// ContextRole implements RoleContext.
func (*ValidatorContext) ContextRole() Role { return RoleValidator }

// RemediatorContext is handed to remediator workers: the failing artifact
// and the failures to fix.
type RemediatorContext struct {
	ComponentName    string          `json:"component_name"`
	ValidationTaskID string          `json:"validation_task_id"`
	Artifact         json.RawMessage `json:"artifact,omitempty"`
	Failures         []string        `json:"failures,omitempty"`
}

// ContextRole implements RoleContext.
func (*RemediatorContext) ContextRole() Role { return RoleRemediator }

// MinimumViableContext is the role-scoped subset of task data given to a
// worker. It serializes as {"role", "task_id", "data"}.
type MinimumViableContext struct {
	TaskID  string
	Variant RoleContext
}

// NewContext wraps a variant for taskID.
func NewContext(taskID string, v RoleContext) MinimumViableContext {
	return MinimumViableContext{TaskID: taskID, Variant: v}
}

// Role returns the role of the wrapped variant, or "" when empty.
func (c MinimumViableContext) Role() Role {
	if c.Variant == nil {
		return ""
	}
	return c.Variant.ContextRole()
}

// Translator returns the translator variant if present.
func (c MinimumViableContext) Translator() (*TranslatorContext, bool) {
	v, ok := c.Variant.(*TranslatorContext)
	return v, ok
}

// Validator returns the validator variant if present.
func (c MinimumViableContext) Validator() (*ValidatorContext, bool) {
	v, ok := c.Variant.(*ValidatorContext)
	return v, ok
}

// Remediator returns the remediator variant if present.
func (c MinimumViableContext) Remediator() (*RemediatorContext, bool) {
	v, ok := c.Variant.(*RemediatorContext)
	return v, ok
}

type contextEnvelope struct {
	Role   Role            `json:"role"`
	TaskID string          `json:"task_id"`
	Data   json.RawMessage `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (c MinimumViableContext) MarshalJSON() ([]byte, error) {
	if c.Variant == nil {
		return json.Marshal(contextEnvelope{TaskID: c.TaskID, Data: json.RawMessage("null")})
	}
	data, err := json.Marshal(c.Variant)
	if err != nil {
		return nil, err
	}
	return json.Marshal(contextEnvelope{Role: c.Role(), TaskID: c.TaskID, Data: data})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *MinimumViableContext) UnmarshalJSON(b []byte) error {
	var env contextEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	c.TaskID = env.TaskID
	var v RoleContext
	switch env.Role {
	case "":
		c.Variant = nil
		return nil
	case RoleTranslator:
		v = &TranslatorContext{}
	case RoleValidator:
		v = &ValidatorContext{}
	case RoleRemediator:
		v = &RemediatorContext{}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRole, env.Role)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decode %s context: %w", env.Role, err)
	}
	c.Variant = v
	return nil
}
