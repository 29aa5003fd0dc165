package convoy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tutu-network/convoy/internal/domain"
)

// ValidateInput is the input payload of a validate task.
type ValidateInput struct {
	ComponentName string          `json:"component_name"`
	SourceTaskID  string          `json:"source_task_id"`
	Artifact      json.RawMessage `json:"artifact,omitempty"`
}

// RemediateInput is the input payload of a remediate task.
type RemediateInput struct {
	ComponentName    string          `json:"component_name"`
	ValidationTaskID string          `json:"validation_task_id"`
	Artifact         json.RawMessage `json:"artifact,omitempty"`
	Failures         []string        `json:"failures,omitempty"`
}

// ChainToValidation creates the validate task for a translate task. The new
// task is blocked by the translate task and joins its convoy and work item.
func (o *Orchestrator) ChainToValidation(ctx context.Context, taskID string, artifact json.RawMessage) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	src, err := o.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	in := ValidateInput{
		ComponentName: componentName(src),
		SourceTaskID:  src.ID,
		Artifact:      artifact,
	}
	return o.appendStageLocked(src, domain.TaskValidate, in)
}

// ChainToRemediation creates the remediate task for a validate task. The
// artifact under repair is carried over from the validation input.
func (o *Orchestrator) ChainToRemediation(ctx context.Context, taskID string, failures []string) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	src, err := o.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	var vin ValidateInput
	if err := decodeInput(src, &vin); err != nil {
		return nil, err
	}
	in := RemediateInput{
		ComponentName:    firstNonEmpty(vin.ComponentName, componentName(src)),
		ValidationTaskID: src.ID,
		Artifact:         vin.Artifact,
		Failures:         failures,
	}
	return o.appendStageLocked(src, domain.TaskRemediate, in)
}

// DiscoveredTask describes work found by a running task.
type DiscoveredTask struct {
	Type       domain.TaskType `json:"type"`
	Input      json.RawMessage `json:"input,omitempty"`
	WorkItemID string          `json:"work_item_id,omitempty"`
}

// AddDiscoveredTask registers new work blocked by the task that found it, in
// the same convoy. The graph may grow this way while execution runs, and
// the new task can never start before its discoverer completes.
func (o *Orchestrator) AddDiscoveredTask(ctx context.Context, discoveredBy string, spec DiscoveredTask) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	src, err := o.store.GetTask(discoveredBy)
	if err != nil {
		return nil, err
	}
	typ := spec.Type
	if typ == "" {
		typ = src.Type
	}
	task := &domain.Task{
		ID:           o.newID("task"),
		Type:         typ,
		Input:        spec.Input,
		ConvoyID:     src.ConvoyID,
		ComponentID:  src.ComponentID,
		BlockedBy:    []string{src.ID},
		Status:       domain.TaskPending,
		MaxAttempts:  src.MaxAttempts,
		WorkItemID:   firstNonEmpty(spec.WorkItemID, src.WorkItemID),
		DiscoveredBy: src.ID,
	}
	if err := o.addTaskLocked(task, domain.EventTaskDiscovered); err != nil {
		return nil, err
	}
	return o.store.GetTask(task.ID)
}

func (o *Orchestrator) appendStageLocked(src *domain.Task, typ domain.TaskType, input any) (*domain.Task, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode %s input: %w", typ, err)
	}
	task := &domain.Task{
		ID:          o.newID("task"),
		Type:        typ,
		Input:       payload,
		ConvoyID:    src.ConvoyID,
		ComponentID: src.ComponentID,
		BlockedBy:   []string{src.ID},
		Status:      domain.TaskPending,
		MaxAttempts: src.MaxAttempts,
		WorkItemID:  src.WorkItemID,
	}
	if err := o.addTaskLocked(task, domain.EventTaskCreated); err != nil {
		return nil, err
	}
	return o.store.GetTask(task.ID)
}

func (o *Orchestrator) addTaskLocked(task *domain.Task, event domain.EventType) error {
	if err := o.store.PutTask(task); err != nil {
		return err
	}
	o.logEvent(event, map[string]any{
		"task_id":    task.ID,
		"convoy_id":  task.ConvoyID,
		"type":       string(task.Type),
		"blocked_by": task.BlockedBy,
	})
	if task.ConvoyID != "" {
		if _, err := o.refreshLocked(task.ConvoyID); err != nil {
			return err
		}
	}
	o.logger.Info("task added",
		slog.String("task_id", task.ID),
		slog.String("type", string(task.Type)),
		slog.String("blocked_by", task.BlockedBy[0]))
	return nil
}

func componentName(t *domain.Task) string {
	var in struct {
		ComponentName string `json:"component_name"`
	}
	if len(t.Input) > 0 && json.Unmarshal(t.Input, &in) == nil && in.ComponentName != "" {
		return in.ComponentName
	}
	return t.ComponentID
}

// ─── Completion ─────────────────────────────────────────────────────────────

// Completion reports whether every task of a convoy is complete, and if not,
// which tasks stand in the way.
type Completion struct {
	ConvoyID string                `json:"convoy_id"`
	Complete bool                  `json:"complete"`
	Blockers []string              `json:"blockers,omitempty"`
	Progress domain.ConvoyProgress `json:"progress"`
}

// CheckConvoyCompletion is complete iff the complete count equals the total.
// Otherwise the BLOCKED and FAILED task ids are reported as blockers.
func (o *Orchestrator) CheckConvoyCompletion(convoyID string) (Completion, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	tasks, err := o.refreshLocked(convoyID)
	if err != nil {
		return Completion{}, err
	}
	p := domain.ProgressOf(tasks)
	c := Completion{ConvoyID: convoyID, Progress: p, Complete: p.Total > 0 && p.Complete == p.Total}
	if c.Complete {
		return c, nil
	}
	for _, t := range tasks {
		if t.Status == domain.TaskBlocked || t.Status == domain.TaskFailed {
			c.Blockers = append(c.Blockers, t.ID)
		}
	}
	return c, nil
}
