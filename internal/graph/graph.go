// Package graph implements C4: building the manifest dependency DAG,
// detecting cycles, and producing a reproducible topological order.
package graph

import (
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/keronhq/keron/internal/kerr"
	"github.com/keronhq/keron/internal/manifest"
)

// Builder constructs the manifest dependency DAG. Like every other
// C1-C6 component it takes its own component logger rather than using
// the global one.
type Builder struct {
	logger zerolog.Logger
}

// New returns a Builder that logs via logger.
func New(logger zerolog.Logger) *Builder {
	return &Builder{logger: logger}
}

// Build returns manifests in an order such that for every edge
// "a depends_on b", b appears before a. Ties among equally eligible
// nodes are broken by ManifestId lexicographic order for reproducible
// output (spec's Kahn's-algorithm tie-break requirement).
func (b *Builder) Build(manifests []*manifest.Manifest) ([]*manifest.Manifest, error) {
	byID := make(map[manifest.ID]*manifest.Manifest, len(manifests))
	for _, m := range manifests {
		byID[m.ID] = m
	}

	// forward[b] = the a's that depend on b; b must precede all of them.
	forward := make(map[manifest.ID][]manifest.ID)
	inDegree := make(map[manifest.ID]int)
	for _, m := range manifests {
		inDegree[m.ID] = 0
	}

	for _, m := range manifests {
		seen := make(map[manifest.ID]bool)
		for _, dep := range m.DependsOn {
			if dep == m.ID {
				return nil, kerr.New(kerr.ClassGraph, "manifest depends on itself", nil).
					WithCode(kerr.CodeUnknownDependency).
					WithManifest(string(m.ID))
			}
			if _, ok := byID[dep]; !ok {
				return nil, kerr.New(kerr.ClassGraph, "unknown dependency target", nil).
					WithCode(kerr.CodeUnknownDependency).
					WithManifest(string(m.ID)).
					WithDetail("target", string(dep))
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			forward[dep] = append(forward[dep], m.ID)
			inDegree[m.ID]++
		}
	}

	var ready []manifest.ID
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

	var order []manifest.ID
	remaining := make(map[manifest.ID]int, len(inDegree))
	for id, deg := range inDegree {
		remaining[id] = deg
	}

	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		var newlyReady []manifest.ID
		for _, dependent := range forward[id] {
			remaining[dependent]--
			if remaining[dependent] == 0 {
				newlyReady = append(newlyReady, dependent)
			}
		}
		if len(newlyReady) > 0 {
			sort.Slice(newlyReady, func(i, j int) bool { return newlyReady[i] < newlyReady[j] })
			ready = mergeSorted(ready, newlyReady)
		}
	}

	if len(order) != len(manifests) {
		chain := findCycle(manifests, order)
		b.logger.Error().Strs("chain", idsToStrings(chain)).Msg("dependency cycle detected")
		return nil, kerr.New(kerr.ClassGraph, "dependency cycle detected", nil).
			WithCode(kerr.CodeCycleDetected).
			WithDetail("chain", chain).
			WithDetail("chain_display", strings.Join(idsToStrings(chain), " -> "))
	}

	result := make([]*manifest.Manifest, len(order))
	for i, id := range order {
		result[i] = byID[id]
	}
	b.logger.Debug().Int("manifests", len(result)).Msg("topological order computed")
	return result, nil
}

// mergeSorted merges two already-sorted id slices, preserving order.
func mergeSorted(a, b []manifest.ID) []manifest.ID {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make([]manifest.ID, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

// findCycle performs a DFS over the nodes that never reached zero
// in-degree (i.e. weren't emitted by Kahn's algorithm) and returns one
// concrete cycle chain.
func findCycle(manifests []*manifest.Manifest, ordered []manifest.ID) []manifest.ID {
	done := make(map[manifest.ID]bool, len(ordered))
	for _, id := range ordered {
		done[id] = true
	}

	byID := make(map[manifest.ID]*manifest.Manifest, len(manifests))
	for _, m := range manifests {
		byID[m.ID] = m
	}

	var remaining []manifest.ID
	for _, m := range manifests {
		if !done[m.ID] {
			remaining = append(remaining, m.ID)
		}
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i] < remaining[j] })

	visited := make(map[manifest.ID]bool)
	onStack := make(map[manifest.ID]bool)
	var path []manifest.ID

	var dfs func(id manifest.ID) []manifest.ID
	dfs = func(id manifest.ID) []manifest.ID {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, dep := range byID[id].DependsOn {
			if !done[dep] {
				if onStack[dep] {
					start := -1
					for i, p := range path {
						if p == dep {
							start = i
							break
						}
					}
					return append(append([]manifest.ID{}, path[start:]...), dep)
				}
				if !visited[dep] {
					if cycle := dfs(dep); cycle != nil {
						return cycle
					}
				}
			}
		}

		onStack[id] = false
		path = path[:len(path)-1]
		return nil
	}

	for _, id := range remaining {
		if !visited[id] {
			path = nil
			if cycle := dfs(id); cycle != nil {
				return cycle
			}
		}
	}
	return remaining
}

func idsToStrings(ids []manifest.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
