package artifact

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/bluebox123/agentic-orchestrator/store"
)

// Diff describes what changed between two versions of an artifact.
type Diff struct {
	FromVersion int            `json:"from_version"`
	ToVersion   int            `json:"to_version"`
	Type        store.ArtifactType `json:"type"`
	Changed     map[string]any `json:"changed"`
	Added       []string       `json:"added,omitempty"`
	Removed     []string       `json:"removed,omitempty"`
}

// ErrUnsupportedDiffType is returned for artifact types the diff engine has
// no type-specific rule for.
var ErrUnsupportedDiffType = fmt.Errorf("artifact: diff unsupported for this type")

// ErrMismatchedArtifacts is returned when the two artifacts passed to Diff
// don't belong to the same lineage: differing type, role, or job_id means
// they aren't two versions of "the same thing" and comparing them field by
// field would produce a meaningless diff.
var ErrMismatchedArtifacts = fmt.Errorf("artifact: validation: cannot diff artifacts from different lineages")

// Diff computes a type-specific diff between two artifact versions. Chart
// diffs compare a fixed set of metadata scalars, the set-difference of
// series data points, and the nested labels/config objects; pdf diffs
// compare a fixed set of metadata scalars only; text diffs compare size
// metadata; any other type returns ErrUnsupportedDiffType.
func (a *Store) Diff(ctx context.Context, fromID, toID string) (Diff, error) {
	from, _, err := a.Get(ctx, fromID)
	if err != nil {
		return Diff{}, fmt.Errorf("load from-artifact: %w", err)
	}
	to, _, err := a.Get(ctx, toID)
	if err != nil {
		return Diff{}, fmt.Errorf("load to-artifact: %w", err)
	}
	if from.Type != to.Type {
		return Diff{}, fmt.Errorf("%w: type %s vs %s", ErrMismatchedArtifacts, from.Type, to.Type)
	}
	if from.Role != to.Role {
		return Diff{}, fmt.Errorf("%w: role %q vs %q", ErrMismatchedArtifacts, from.Role, to.Role)
	}
	if from.JobID != to.JobID {
		return Diff{}, fmt.Errorf("%w: job_id %q vs %q", ErrMismatchedArtifacts, from.JobID, to.JobID)
	}

	result := Diff{FromVersion: from.Version, ToVersion: to.Version, Type: from.Type, Changed: map[string]any{}}

	switch from.Type {
	case store.ArtifactChart:
		diffChart(from, to, &result)
	case store.ArtifactPDF:
		diffPDF(from, to, &result)
	case store.ArtifactText:
		diffText(from, to, &result)
	default:
		return Diff{}, fmt.Errorf("%w: %s", ErrUnsupportedDiffType, from.Type)
	}

	return result, nil
}

func diffChart(from, to store.Artifact, d *Diff) {
	diffScalars(from.Metadata, to.Metadata, []string{"title", "chart_type", "data_points"}, d)

	fromPoints := pointSet(from.Metadata)
	toPoints := pointSet(to.Metadata)
	d.Added = setDifference(toPoints, fromPoints)
	d.Removed = setDifference(fromPoints, toPoints)

	diffObjectField(from.Metadata, to.Metadata, "labels", d)
	diffObjectField(from.Metadata, to.Metadata, "config", d)
}

// pointSet flattens a chart's series.data points into "x:y" keys so added
// and removed points can be computed as a plain set difference.
func pointSet(meta map[string]any) map[string]struct{} {
	set := map[string]struct{}{}
	series, _ := meta["series"].([]any)
	for _, s := range series {
		sm, ok := s.(map[string]any)
		if !ok {
			continue
		}
		data, _ := sm["data"].([]any)
		for _, p := range data {
			pm, ok := p.(map[string]any)
			if !ok {
				continue
			}
			key := fmt.Sprintf("%v:%v", pm["x"], pm["y"])
			set[key] = struct{}{}
		}
	}
	return set
}

func diffPDF(from, to store.Artifact, d *Diff) {
	diffScalars(from.Metadata, to.Metadata, []string{"pages", "embedded_artifacts", "section_count"}, d)
}

func diffText(from, to store.Artifact, d *Diff) {
	diffScalars(from.Metadata, to.Metadata, []string{"size"}, d)
}

func diffScalars(fromMeta, toMeta map[string]any, keys []string, d *Diff) {
	for _, k := range keys {
		fv := fromMeta[k]
		tv := toMeta[k]
		if !reflect.DeepEqual(fv, tv) {
			d.Changed[k] = map[string]any{"from": fv, "to": tv}
		}
	}
}

// diffObjectField recursively diffs a nested object field (e.g. "labels" or
// "config"), recording one changed entry per leaf path that differs.
func diffObjectField(fromMeta, toMeta map[string]any, field string, d *Diff) {
	fromObj, _ := fromMeta[field].(map[string]any)
	toObj, _ := toMeta[field].(map[string]any)
	diffObjectRecursive(fromObj, toObj, field, d)
}

func diffObjectRecursive(from, to map[string]any, path string, d *Diff) {
	keys := map[string]struct{}{}
	for k := range from {
		keys[k] = struct{}{}
	}
	for k := range to {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		fv, fok := from[k]
		tv, tok := to[k]
		fullPath := path + "." + k

		fSub, fIsObj := fv.(map[string]any)
		tSub, tIsObj := tv.(map[string]any)
		if fIsObj && tIsObj {
			diffObjectRecursive(fSub, tSub, fullPath, d)
			continue
		}

		switch {
		case fok && !tok:
			d.Removed = append(d.Removed, fullPath)
		case !fok && tok:
			d.Added = append(d.Added, fullPath)
		case !reflect.DeepEqual(fv, tv):
			d.Changed[fullPath] = map[string]any{"from": fv, "to": tv}
		}
	}
}

func setDifference(a, b map[string]struct{}) []string {
	var out []string
	for k := range a {
		if _, ok := b[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
