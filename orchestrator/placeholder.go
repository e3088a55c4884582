package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bluebox123/agentic-orchestrator/dag"
	"github.com/bluebox123/agentic-orchestrator/store"
)

// resolvePayload deep-walks a task's stored payload (its initial inputs,
// which may contain placeholders) and substitutes every
// {{tasks.<id>.outputs.<field>}} occurrence with the corresponding output
// value from the persistence model. A field whose value is a bare
// placeholder is replaced wholesale, preserving the referenced value's
// original JSON type; a field containing a placeholder mixed with other
// text is always resolved to a string.
func (o *Orchestrator) resolvePayload(ctx context.Context, t store.Task) (map[string]json.RawMessage, error) {
	resolved := make(map[string]json.RawMessage, len(t.Payload))
	for field, raw := range t.Payload {
		v := dag.CompileValue(raw)
		out, err := o.resolveValue(ctx, t.JobID, v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		resolved[field] = out
	}
	return resolved, nil
}

func (o *Orchestrator) resolveValue(ctx context.Context, jobID string, v dag.Value) (json.RawMessage, error) {
	switch v.Kind {
	case dag.KindLiteral:
		return v.Literal, nil

	case dag.KindRef:
		return o.lookupOutputRaw(ctx, jobID, v.Ref)

	case dag.KindTemplate:
		var sb []byte
		sb = append(sb, '"')
		for _, part := range v.Template {
			if !part.IsRef {
				sb = append(sb, escapeJSONStringBytes(part.Literal)...)
				continue
			}
			raw, err := o.lookupOutputRaw(ctx, jobID, part.Ref)
			if err != nil {
				return nil, err
			}
			str, err := rawToTemplateString(raw)
			if err != nil {
				return nil, err
			}
			sb = append(sb, escapeJSONStringBytes(str)...)
		}
		sb = append(sb, '"')
		return sb, nil

	default:
		return nil, fmt.Errorf("unknown compiled value kind %d", v.Kind)
	}
}

// lookupOutputRaw fetches an upstream task's output and re-marshals it to
// raw JSON so it can be substituted into the resolved payload verbatim.
func (o *Orchestrator) lookupOutputRaw(ctx context.Context, jobID string, ref dag.Ref) (json.RawMessage, error) {
	upstreamTaskID := taskID(jobID, ref.NodeID)
	out, _, err := o.store.GetOutput(ctx, upstreamTaskID, ref.Field)
	if err != nil {
		return nil, fmt.Errorf("missing output tasks.%s.outputs.%s: %w", ref.NodeID, ref.Field, err)
	}
	raw, err := json.Marshal(out.Value)
	if err != nil {
		return nil, fmt.Errorf("marshal output tasks.%s.outputs.%s: %w", ref.NodeID, ref.Field, err)
	}
	return raw, nil
}

// rawToTemplateString renders an output value for interpolation into a
// literal/ref template. Non-string outputs render via their JSON text
// rather than failing, since templates only forbid *bare* non-string
// substitution, not interpolation of their textual form.
func rawToTemplateString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	return string(raw), nil
}

func escapeJSONStringBytes(s string) []byte {
	out, _ := json.Marshal(s)
	// Drop the surrounding quotes added by Marshal; callers manage their own.
	return out[1 : len(out)-1]
}
