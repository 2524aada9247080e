package segmentation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"slices"
	"sort"

	"github.com/amirphl/segment-engine/models"
)

// Entity is the kind of id an action receives
type Entity string

const (
	EntityDocuments   Entity = "docs_sales"
	EntityContragents Entity = "contragents"
)

// TriggerMode selects which diff set an action receives
type TriggerMode string

const (
	TriggerActive    TriggerMode = "active"
	TriggerOnNew     TriggerMode = "trigger_on_new"
	TriggerOnRemoved TriggerMode = "trigger_on_removed"
)

// ActionSpec is one parsed entry of a segment's actions document
type ActionSpec struct {
	Type   string
	Mode   TriggerMode
	Entity Entity // empty means the handler's default
	Params json.RawMessage
}

type actionHeader struct {
	TriggerOnNew     bool   `json:"trigger_on_new"`
	TriggerOnRemoved bool   `json:"trigger_on_removed"`
	Entity           Entity `json:"entity"`
}

// ParseActions decodes an actions document into specs sorted by type.
// Null entries are dropped.
func ParseActions(raw json.RawMessage) ([]ActionSpec, error) {
	if isNull(raw) {
		return nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedActions, err)
	}
	specs := make([]ActionSpec, 0, len(fields))
	for typ, value := range fields {
		if isNull(value) {
			continue
		}
		var head actionHeader
		if err := json.Unmarshal(value, &head); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedActions, typ, err)
		}
		mode := TriggerActive
		switch {
		case head.TriggerOnNew && head.TriggerOnRemoved:
			return nil, fmt.Errorf("%w: %s: trigger_on_new and trigger_on_removed are exclusive", ErrMalformedActions, typ)
		case head.TriggerOnNew:
			mode = TriggerOnNew
		case head.TriggerOnRemoved:
			mode = TriggerOnRemoved
		}
		if head.Entity != "" && head.Entity != EntityDocuments && head.Entity != EntityContragents {
			return nil, fmt.Errorf("%w: %s: unknown entity %q", ErrMalformedActions, typ, head.Entity)
		}
		specs = append(specs, ActionSpec{Type: typ, Mode: mode, Entity: head.Entity, Params: value})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Type < specs[j].Type })
	return specs, nil
}

// ActionRequest is what a handler receives for one action of one cycle
type ActionRequest struct {
	Segment *models.Segment
	Entity  Entity
	IDs     []int64
	Params  json.RawMessage
	Memo    *Memo
}

// ActionHandler executes one action type. The first entity of Entities is the default.
type ActionHandler interface {
	Type() string
	Entities() []Entity
	Validate(params json.RawMessage) error
	Execute(ctx context.Context, req ActionRequest) error
}

// DispatchReport lists the outcome of every configured action of a cycle
type DispatchReport struct {
	Executed []string
	Skipped  []string
	Failed   []string
	Errors   []error
}

func (r *DispatchReport) fail(typ string, err error) {
	r.Failed = append(r.Failed, typ)
	r.Errors = append(r.Errors, &ActionError{Action: typ, Err: err})
}

// Dispatcher routes parsed actions to their handlers
type Dispatcher struct {
	handlers map[string]ActionHandler
	logger   *log.Logger
}

func NewDispatcher(logger *log.Logger, handlers ...ActionHandler) *Dispatcher {
	d := &Dispatcher{handlers: make(map[string]ActionHandler, len(handlers)), logger: logger}
	for _, h := range handlers {
		d.handlers[h.Type()] = h
	}
	return d
}

func (d *Dispatcher) resolveEntity(h ActionHandler, spec ActionSpec) (Entity, error) {
	allowed := h.Entities()
	if spec.Entity == "" {
		return allowed[0], nil
	}
	if !slices.Contains(allowed, spec.Entity) {
		return "", fmt.Errorf("%w: %s does not accept %s", ErrEntityNotAllowed, spec.Type, spec.Entity)
	}
	return spec.Entity, nil
}

// Validate checks an actions document before it is stored
func (d *Dispatcher) Validate(raw json.RawMessage) error {
	specs, err := ParseActions(raw)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		h, ok := d.handlers[spec.Type]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownAction, spec.Type)
		}
		if _, err := d.resolveEntity(h, spec); err != nil {
			return err
		}
		if err := h.Validate(spec.Params); err != nil {
			return &ActionError{Action: spec.Type, Err: err}
		}
	}
	return nil
}

// targets picks the diff set an action receives
func targets(diff DiffResult, entity Entity, mode TriggerMode) IDSet {
	sets := diff.Documents
	if entity == EntityContragents {
		sets = diff.Contragents
	}
	switch mode {
	case TriggerOnNew:
		return sets.Entered
	case TriggerOnRemoved:
		return sets.Exited
	}
	return sets.Current
}

// Dispatch runs every configured action in type order. A failing action is
// logged and counted; the remaining actions still run.
func (d *Dispatcher) Dispatch(ctx context.Context, segment *models.Segment, diff DiffResult, memo *Memo) DispatchReport {
	var report DispatchReport
	specs, err := ParseActions(json.RawMessage(segment.Actions))
	if err != nil {
		d.logger.Printf("segment %d: %v", segment.ID, err)
		report.fail("actions", err)
		actionsTotal.WithLabelValues("actions", "error").Inc()
		return report
	}

	for _, spec := range specs {
		h, ok := d.handlers[spec.Type]
		if !ok {
			d.logger.Printf("segment %d: skipping unknown action %q", segment.ID, spec.Type)
			report.Skipped = append(report.Skipped, spec.Type)
			actionsTotal.WithLabelValues(spec.Type, "unknown").Inc()
			continue
		}
		entity, err := d.resolveEntity(h, spec)
		if err != nil {
			d.logger.Printf("segment %d: %v", segment.ID, err)
			report.fail(spec.Type, err)
			actionsTotal.WithLabelValues(spec.Type, "error").Inc()
			continue
		}
		ids := targets(diff, entity, spec.Mode)
		if ids.Len() == 0 {
			report.Skipped = append(report.Skipped, spec.Type)
			actionsTotal.WithLabelValues(spec.Type, "skipped").Inc()
			continue
		}
		if err := ctx.Err(); err != nil {
			report.fail(spec.Type, err)
			actionsTotal.WithLabelValues(spec.Type, "error").Inc()
			continue
		}

		err = h.Execute(ctx, ActionRequest{
			Segment: segment,
			Entity:  entity,
			IDs:     ids,
			Params:  spec.Params,
			Memo:    memo,
		})
		if err != nil {
			d.logger.Printf("segment %d: action %s (%s, %d ids) failed: %v", segment.ID, spec.Type, spec.Mode, ids.Len(), err)
			report.fail(spec.Type, err)
			actionsTotal.WithLabelValues(spec.Type, "error").Inc()
			continue
		}
		report.Executed = append(report.Executed, spec.Type)
		actionsTotal.WithLabelValues(spec.Type, "ok").Inc()
	}
	return report
}
