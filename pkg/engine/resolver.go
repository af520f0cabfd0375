package engine

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	domainerrors "github.com/agentkit/agentd/pkg/domain/errors"
	"github.com/agentkit/agentd/pkg/storage"
)

// referenceRE matches a whole-string step output reference:
// ${steps.<key>} or ${steps.<key>.output[.<field>...]}.
var referenceRE = regexp.MustCompile(`^\$\{steps\.([A-Za-z0-9_-]+)((?:\.[A-Za-z0-9_.-]+)?)\}$`)

// resolveInputs walks inputs structurally and replaces every string leaf
// that is exactly a step output reference with the referenced value, taken
// from the most recent succeeded run of that step in the session. Strings
// that merely contain a reference are left untouched.
func resolveInputs(ctx context.Context, q storage.Querier, sessionID string, inputs map[string]any) (map[string]any, error) {
	r := &resolver{q: q, sessionID: sessionID, outputs: map[string]map[string]any{}}
	resolved, err := r.walk(ctx, inputs)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

type resolver struct {
	q         storage.Querier
	sessionID string
	// outputs caches decoded run outputs per step key within one walk.
	outputs map[string]map[string]any
}

func (r *resolver) walk(ctx context.Context, node any) (any, error) {
	switch v := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, child := range v {
			resolved, err := r.walk(ctx, child)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			resolved, err := r.walk(ctx, child)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case string:
		return r.resolveString(ctx, v)
	default:
		return node, nil
	}
}

func (r *resolver) resolveString(ctx context.Context, raw string) (any, error) {
	match := referenceRE.FindStringSubmatch(raw)
	if match == nil {
		return raw, nil
	}
	stepKey := match[1]
	fields := parseFieldPath(match[2])

	output, err := r.stepOutput(ctx, stepKey)
	if err != nil {
		return nil, err
	}
	if output == nil {
		return nil, unresolved(raw)
	}

	var current any = output
	for _, field := range fields {
		mapping, ok := current.(map[string]any)
		if !ok {
			return nil, unresolved(raw)
		}
		current, ok = mapping[field]
		if !ok {
			return nil, unresolved(raw)
		}
	}
	return current, nil
}

// parseFieldPath splits the trailing ".output.field..." path. The leading
// "output" segment names the run output itself and is consumed here.
func parseFieldPath(tail string) []string {
	if tail == "" {
		return nil
	}
	segments := strings.Split(strings.TrimPrefix(tail, "."), ".")
	if len(segments) > 0 && segments[0] == "output" {
		segments = segments[1:]
	}
	return segments
}

func (r *resolver) stepOutput(ctx context.Context, stepKey string) (map[string]any, error) {
	if cached, ok := r.outputs[stepKey]; ok {
		return cached, nil
	}
	raw, found, err := storage.LatestSucceededOutput(ctx, r.q, r.sessionID, stepKey)
	if err != nil {
		return nil, err
	}
	if !found {
		r.outputs[stepKey] = nil
		return nil, nil
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(raw), &output); err != nil {
		return nil, domainerrors.Internal("decode step output", err)
	}
	r.outputs[stepKey] = output
	return output, nil
}

func unresolved(raw string) error {
	return domainerrors.ProtocolViolation(
		domainerrors.CodeReferenceUnresolved,
		"step input reference could not be resolved: "+raw,
	)
}
