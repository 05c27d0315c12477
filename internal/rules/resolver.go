// internal/rules/resolver.go
package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/solatis/rulekeeper/internal/types"
)

/*
 * Field resolution.
 *
 * Resolver turns a raw record into a Resolution: the typed FieldMap for every
 * field the module's metadata declares, plus per-field coercion errors.
 * Coercion failure on one field does not abort resolution of the others; the
 * error surfaces only if a condition actually reads that field.
 *
 * Unknown fields are detected lazily by Lookup, at evaluation time, since
 * metadata can change after a rule was authored.
 */

// MetadataProvider supplies module field metadata.
type MetadataProvider interface {
	GetFields(ctx context.Context, module types.Module) ([]types.ModuleField, error)
}

// Resolver builds typed field maps from raw records.
type Resolver struct {
	meta MetadataProvider
}

// NewResolver creates a resolver backed by meta.
func NewResolver(meta MetadataProvider) *Resolver {
	return &Resolver{meta: meta}
}

// Resolution is the typed view of one record. Read-only once produced.
type Resolution struct {
	Module types.Module
	Fields types.FieldMap

	declared map[string]types.ModuleField
	errs     map[string]error
}

// Resolve coerces every declared field of module found in record.
// Returns an error only when metadata cannot be loaded.
func (r *Resolver) Resolve(ctx context.Context, module types.Module, record map[string]any) (*Resolution, error) {
	fields, err := r.meta.GetFields(ctx, module)
	if err != nil {
		return nil, fmt.Errorf("load metadata for %s: %w", module, err)
	}

	res := &Resolution{
		Module:   module,
		Fields:   make(types.FieldMap, len(fields)),
		declared: make(map[string]types.ModuleField, len(fields)),
		errs:     map[string]error{},
	}

	for _, f := range fields {
		res.declared[f.Name] = f

		raw, err := ResolveField(f.Name, record)
		if err != nil {
			if !errors.Is(err, types.ErrFieldNotFound) {
				res.errs[f.Name] = err
			}
			continue
		}
		if !raw.Found {
			continue
		}

		v, err := Coerce(f.Name, raw.Value, f.Type)
		if err != nil {
			res.errs[f.Name] = err
			continue
		}
		res.Fields[f.Name] = v
	}

	return res, nil
}

// Lookup returns the typed value for field. A nil value with nil error means
// the field is declared but absent or null in the record.
// Returns *UnknownFieldError if module metadata does not declare field.
// Returns the field's coercion error (*TypeMismatchError) if it failed to coerce.
func (r *Resolution) Lookup(field string) (types.Value, error) {
	if _, ok := r.declared[field]; !ok {
		return nil, &types.UnknownFieldError{Module: r.Module, Field: field}
	}
	if err, ok := r.errs[field]; ok {
		return nil, err
	}
	return r.Fields[field], nil
}

// Field returns the metadata for field.
func (r *Resolution) Field(field string) (types.ModuleField, bool) {
	f, ok := r.declared[field]
	return f, ok
}

// Errors returns the per-field coercion errors keyed by field name.
func (r *Resolution) Errors() map[string]error {
	out := make(map[string]error, len(r.errs))
	for k, v := range r.errs {
		out[k] = v
	}
	return out
}
