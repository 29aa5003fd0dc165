package convoy

import (
	"bytes"
	"container/heap"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/tutu-network/convoy/internal/domain"
)

// Component is one design node of an input batch.
type Component struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	Type        domain.TaskType `json:"type,omitempty" yaml:"type"`
	WorkItemID  string          `json:"work_item_id,omitempty" yaml:"work_item_id"`
	Design      map[string]any  `json:"design,omitempty" yaml:"design"`
	Constraints []string        `json:"constraints,omitempty" yaml:"constraints"`
}

// Edge declares that To is blocked by From.
type Edge struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// CreateOptions describes a convoy to build from a flat component list.
type CreateOptions struct {
	Name         string      `json:"name" yaml:"name"`
	Framework    string      `json:"framework,omitempty" yaml:"framework"`
	MaxAttempts  int         `json:"max_attempts,omitempty" yaml:"max_attempts"`
	Components   []Component `json:"components" yaml:"components"`
	Dependencies []Edge      `json:"dependencies,omitempty" yaml:"dependencies"`
}

// TranslateInput is the input payload of a translate task.
type TranslateInput struct {
	ComponentID   string          `json:"component_id"`
	ComponentName string          `json:"component_name"`
	Framework     string          `json:"framework,omitempty"`
	Design        json.RawMessage `json:"design,omitempty"`
	Constraints   []string        `json:"constraints,omitempty"`
}

// ParseManifest decodes CreateOptions from a YAML (or JSON) document.
func ParseManifest(data []byte) (CreateOptions, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return CreateOptions{}, fmt.Errorf("convoy: manifest is empty")
	}
	var opts CreateOptions
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return CreateOptions{}, fmt.Errorf("convoy: decode manifest: %w", err)
	}
	return opts, nil
}

// LoadManifest reads CreateOptions from a file.
func LoadManifest(path string) (CreateOptions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CreateOptions{}, fmt.Errorf("convoy: read %s: %w", path, err)
	}
	opts, err := ParseManifest(data)
	if err != nil {
		return CreateOptions{}, fmt.Errorf("%s: %w", path, err)
	}
	return opts, nil
}

// CreateConvoyFromFigma creates one task per component and a convoy holding
// them. Dependency edges are resolved through a component → task id map
// after every task exists, so edge order does not matter. Unknown component
// references, duplicate ids and cycles are rejected before anything is stored.
func (o *Orchestrator) CreateConvoyFromFigma(opts CreateOptions) (*domain.Convoy, error) {
	if err := validateGraph(opts.Components, opts.Dependencies); err != nil {
		return nil, err
	}

	convoyID := o.newID("convoy")
	name := opts.Name
	if name == "" {
		name = convoyID
	}

	taskFor := make(map[string]*domain.Task, len(opts.Components))
	tasks := make([]*domain.Task, 0, len(opts.Components))
	for _, comp := range opts.Components {
		task, err := newComponentTask(o.newID("task"), convoyID, comp, opts)
		if err != nil {
			return nil, err
		}
		taskFor[comp.ID] = task
		tasks = append(tasks, task)
	}
	for _, e := range opts.Dependencies {
		to := taskFor[e.To]
		from := taskFor[e.From]
		if !slices.Contains(to.BlockedBy, from.ID) {
			to.BlockedBy = append(to.BlockedBy, from.ID)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	c := &domain.Convoy{
		ID:      convoyID,
		Name:    name,
		TaskIDs: taskIDs(tasks),
		Status:  domain.ConvoyPending,
	}
	if err := o.store.PutConvoy(c); err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if err := o.store.PutTask(t); err != nil {
			return nil, err
		}
		o.logEvent(domain.EventTaskCreated, map[string]any{
			"task_id":      t.ID,
			"convoy_id":    convoyID,
			"type":         string(t.Type),
			"component_id": t.ComponentID,
			"blocked_by":   t.BlockedBy,
		})
	}
	o.logEvent(domain.EventConvoyCreated, map[string]any{
		"convoy_id": convoyID,
		"name":      name,
		"tasks":     len(tasks),
		"edges":     len(opts.Dependencies),
	})

	if _, err := o.refreshLocked(convoyID); err != nil {
		return nil, err
	}
	o.logger.Info("convoy created",
		slog.String("convoy_id", convoyID),
		slog.String("name", name),
		slog.Int("tasks", len(tasks)))
	return o.store.GetConvoy(convoyID)
}

func newComponentTask(id, convoyID string, comp Component, opts CreateOptions) (*domain.Task, error) {
	typ := comp.Type
	if typ == "" {
		typ = domain.TaskTranslate
	}
	in := TranslateInput{
		ComponentID:   comp.ID,
		ComponentName: comp.Name,
		Framework:     opts.Framework,
		Constraints:   comp.Constraints,
	}
	if len(comp.Design) > 0 {
		design, err := json.Marshal(comp.Design)
		if err != nil {
			return nil, fmt.Errorf("encode design of %s: %w", comp.ID, err)
		}
		in.Design = design
	}
	input, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode input of %s: %w", comp.ID, err)
	}
	return &domain.Task{
		ID:          id,
		Type:        typ,
		Input:       input,
		ConvoyID:    convoyID,
		ComponentID: comp.ID,
		Status:      domain.TaskPending,
		MaxAttempts: opts.MaxAttempts,
		WorkItemID:  comp.WorkItemID,
	}, nil
}

// ─── Graph Validation ───────────────────────────────────────────────────────

// validateGraph rejects empty batches, duplicate or blank component ids,
// edges naming unknown components and dependency cycles.
func validateGraph(comps []Component, edges []Edge) error {
	if len(comps) == 0 {
		return domain.NewValidationError(domain.CodeEmptyConvoy, domain.ErrEmptyConvoy, "no components given")
	}
	index := make(map[string]int, len(comps))
	for i, c := range comps {
		if c.ID == "" {
			return domain.NewValidationError(domain.CodeUnknownComponent, domain.ErrUnknownComponent,
				"component %d has no id", i)
		}
		if _, dup := index[c.ID]; dup {
			return domain.NewValidationError(domain.CodeDuplicateComponent, domain.ErrDuplicateComponent,
				"component %s appears more than once", c.ID)
		}
		index[c.ID] = i
	}

	outgoing := make([][]int, len(comps))
	indeg := make([]int, len(comps))
	for _, e := range edges {
		from, ok := index[e.From]
		if !ok {
			return domain.NewValidationError(domain.CodeUnknownComponent, domain.ErrUnknownComponent,
				"edge %s -> %s: %s", e.From, e.To, e.From)
		}
		to, ok := index[e.To]
		if !ok {
			return domain.NewValidationError(domain.CodeUnknownComponent, domain.ErrUnknownComponent,
				"edge %s -> %s: %s", e.From, e.To, e.To)
		}
		outgoing[from] = append(outgoing[from], to)
		indeg[to]++
	}

	if visited := kahn(outgoing, indeg); visited < len(comps) {
		var stuck []string
		for i, c := range comps {
			if indeg[i] > 0 {
				stuck = append(stuck, c.ID)
			}
		}
		return domain.NewValidationError(domain.CodeDependencyCycle, domain.ErrDependencyCycle,
			"components %v", stuck)
	}
	return nil
}

// kahn runs Kahn's algorithm in place over indeg and returns how many nodes
// were ordered. Nodes left with indeg > 0 sit on or behind a cycle.
func kahn(outgoing [][]int, indeg []int) int {
	ready := &intHeap{}
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}
	visited := 0
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		visited++
		for _, m := range outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return visited
}

type intHeap []int

func (h intHeap) Len() int           { return len(h) }
func (h intHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
