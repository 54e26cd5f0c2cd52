// Package diff decides whether two snapshots of a resource are semantically
// equal, and describes the difference when they are not.
//
// Identity, version and timestamps are never part of the comparison.
// Collections which the domain treats as sets are compared regardless of order.
package diff

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/opst/orchestration/pkg/domain"
	"github.com/wI2L/jsondiff"
)

// Change is one entry of a structural diff, in the shape of a JSON Patch operation.
type Change struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

func (c Change) MarshalJSON() ([]byte, error) {
	if c.Op == "remove" {
		return json.Marshal(struct {
			Op   string `json:"op"`
			Path string `json:"path"`
		}{Op: c.Op, Path: c.Path})
	}
	type plain Change
	return json.Marshal(plain(c))
}

// Options returns the comparison options for attributes of the kind.
//
// Every []string of connectors and annotation services is a set.
// Mapping lists are ordered and compared as they are.
func Options(kind domain.Kind) cmp.Options {
	common := cmp.Options{cmpopts.EquateEmpty()}
	switch kind {
	case domain.Connector:
		return append(common, cmpopts.SortSlices(lessString))
	case domain.AnnotationService:
		return append(common,
			cmpopts.SortSlices(lessString),
			cmpopts.SortSlices(func(a, b domain.EnvVar) bool { return a.Name < b.Name }),
			cmpopts.SortSlices(func(a, b domain.SecretRef) bool { return a.Name < b.Name }),
		)
	default:
		return common
	}
}

func lessString(a, b string) bool { return a < b }

// Equal reports whether a and b are semantically the same attributes.
func Equal(a, b domain.Attributes) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	return cmp.Equal(a, b, Options(a.Kind())...)
}

// Same reports whether two snapshots are semantically the same,
// ignoring identity, version and timestamps.
func Same(a, b domain.Resource) bool {
	return a.Kind == b.Kind &&
		a.Status == b.Status &&
		cmp.Equal(a.Tombstone, b.Tombstone) &&
		Equal(a.Attributes, b.Attributes)
}

// Compare returns changes turning `before` into `after`.
//
// Identical snapshots yield an empty (non-nil) list.
func Compare(before, after domain.Resource) ([]Change, error) {
	src, err := view(before)
	if err != nil {
		return nil, err
	}
	dst, err := view(after)
	if err != nil {
		return nil, err
	}
	patch, err := jsondiff.CompareJSON(src, dst)
	if err != nil {
		return nil, fmt.Errorf("diff: %w", err)
	}

	changes := make([]Change, 0, len(patch))
	for _, op := range patch {
		changes = append(changes, Change{Op: op.Type, Path: op.Path, Value: op.Value})
	}
	return changes, nil
}

// semantic is the part of a resource which participates in diffs.
type semantic struct {
	Status     domain.Status             `json:"status"`
	Tombstone  *domain.TombstoneMetadata `json:"tombstone,omitempty"`
	Attributes domain.Attributes         `json:"attributes"`
}

func view(r domain.Resource) ([]byte, error) {
	b, err := json.Marshal(semantic{
		Status:     r.Status,
		Tombstone:  r.Tombstone,
		Attributes: Normalize(r.Attributes),
	})
	if err != nil {
		return nil, fmt.Errorf("diff: %w", err)
	}
	return b, nil
}

// Normalize returns a copy of attrs with set-like collections sorted,
// so that equal sets serialize identically.
func Normalize(attrs domain.Attributes) domain.Attributes {
	switch a := attrs.(type) {
	case *domain.ConnectorAttributes:
		c := *a
		c.Filters = sortedStrings(a.Filters)
		return &c
	case *domain.AnnotationServiceAttributes:
		c := *a
		c.Dependencies = sortedStrings(a.Dependencies)
		if a.Environment != nil {
			c.Environment = append([]domain.EnvVar{}, a.Environment...)
			sort.Slice(c.Environment, func(i, j int) bool { return c.Environment[i].Name < c.Environment[j].Name })
		}
		if a.Secrets != nil {
			c.Secrets = append([]domain.SecretRef{}, a.Secrets...)
			sort.Slice(c.Secrets, func(i, j int) bool { return c.Secrets[i].Name < c.Secrets[j].Name })
		}
		if a.TargetFilters != nil {
			c.TargetFilters = make(map[string][]string, len(a.TargetFilters))
			for k, v := range a.TargetFilters {
				c.TargetFilters[k] = sortedStrings(v)
			}
		}
		return &c
	default:
		return attrs
	}
}

func sortedStrings(s []string) []string {
	if s == nil {
		return nil
	}
	c := append([]string{}, s...)
	sort.Strings(c)
	return c
}
