// internal/rules/fieldpath.go
package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/solatis/rulekeeper/internal/types"
)

/*
 * Field path resolution for record data.
 *
 * Field names in module metadata may be dotted paths into nested record
 * objects (owner.email) and arrays (items.0.sku). Numeric segments index
 * arrays; everything else is an object key. MaxPathDepth (16) is enforced
 * when the path is parsed.
 *
 * Key functions:
 *   - ParsePath: Splits a dotted field name into PathSegments
 *   - Resolve: Traverses record data following a PathSegment chain
 *
 * A key stored literally with dots ("owner.email" at top level) wins over the
 * nested interpretation, so flat records exported by the CRM still resolve.
 */

// ResolveResult contains the resolved value.
type ResolveResult struct {
	Value any  // resolved raw value (nil if null or not found)
	Found bool // true if the path exists, even when the value is null
}

// ParsePath splits a dotted field name into segments.
// Returns ErrPathTooDeep if the path exceeds MaxPathDepth.
// Returns ErrFieldNotFound for empty names or empty segments ("a..b").
func ParsePath(field string) ([]types.PathSegment, error) {
	if field == "" {
		return nil, fmt.Errorf("%w: empty field name", types.ErrFieldNotFound)
	}

	parts := strings.Split(field, ".")
	if len(parts) > types.MaxPathDepth {
		return nil, types.ErrPathTooDeep
	}

	path := make([]types.PathSegment, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", types.ErrFieldNotFound, field)
		}
		if idx, err := strconv.Atoi(part); err == nil && idx >= 0 {
			path = append(path, types.PathSegment{Key: part, Index: idx, IsIndex: true})
			continue
		}
		path = append(path, types.PathSegment{Key: part})
	}
	return path, nil
}

// ResolveField looks up a dotted field name in record, preferring a literal
// top-level key.
func ResolveField(field string, record map[string]any) (ResolveResult, error) {
	if v, ok := record[field]; ok {
		return ResolveResult{Value: v, Found: true}, nil
	}
	path, err := ParsePath(field)
	if err != nil {
		return ResolveResult{}, err
	}
	return Resolve(path, record)
}

// Resolve traverses data following path segments.
// Returns ErrPathTooDeep if path exceeds MaxPathDepth.
// Returns ErrFieldNotFound if path does not exist in data.
func Resolve(path []types.PathSegment, data map[string]any) (ResolveResult, error) {
	if len(path) > types.MaxPathDepth {
		return ResolveResult{}, types.ErrPathTooDeep
	}
	if len(path) == 0 {
		return ResolveResult{}, types.ErrFieldNotFound
	}
	return resolveRecursive(path, data)
}

func resolveRecursive(path []types.PathSegment, current any) (ResolveResult, error) {
	if len(path) == 0 {
		return ResolveResult{Value: current, Found: true}, nil
	}

	seg := path[0]
	remaining := path[1:]

	switch v := current.(type) {
	case map[string]any:
		// Numeric segments are valid object keys too ({"2024": ...}).
		val, ok := v[seg.Key]
		if !ok {
			return ResolveResult{}, types.ErrFieldNotFound
		}
		return resolveRecursive(remaining, val)

	case []any:
		if !seg.IsIndex || seg.Index >= len(v) {
			return ResolveResult{}, types.ErrFieldNotFound
		}
		return resolveRecursive(remaining, v[seg.Index])

	case []map[string]any:
		if !seg.IsIndex || seg.Index >= len(v) {
			return ResolveResult{}, types.ErrFieldNotFound
		}
		return resolveRecursive(remaining, v[seg.Index])

	default:
		// Null or scalar at an intermediate position
		return ResolveResult{}, types.ErrFieldNotFound
	}
}
