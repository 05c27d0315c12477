// Package metadata provides module field metadata for the field resolver.
//
// The built-in catalog describes the fields the CRM exposes to rule
// conditions for each module. A YAML file can extend or override it per
// deployment, for example to expose nested paths such as owner.email.
package metadata

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/solatis/rulekeeper/internal/types"
)

// TagsField is the array field every module exposes, holding tags added by
// add-tag actions. Later rules in the same run can test it with contains.
const TagsField = "tags"

var priorityOptions = []string{"LOW", "NORMAL", "HIGH", "URGENT"}

// builtin is the default field catalog.
var builtin = map[types.Module][]types.ModuleField{
	types.ModuleProjects: {
		{Name: "name", Label: "Name", Type: types.FieldTypeString},
		{Name: "description", Label: "Description", Type: types.FieldTypeString},
		{Name: "status", Label: "Status", Type: types.FieldTypeEnum, Options: []string{"PLANNING", "IN_PROGRESS", "ON_HOLD", "COMPLETED", "CANCELLED"}},
		{Name: "priority", Label: "Priority", Type: types.FieldTypeEnum, Options: priorityOptions},
		{Name: "progress", Label: "Progress (%)", Type: types.FieldTypeNumber},
		{Name: "budget", Label: "Budget", Type: types.FieldTypeNumber},
		{Name: "teamSize", Label: "Team size", Type: types.FieldTypeNumber},
		{Name: "endDate", Label: "End date", Type: types.FieldTypeDate},
		{Name: "createdAt", Label: "Created at", Type: types.FieldTypeDate},
	},
	types.ModuleTasks: {
		{Name: "title", Label: "Title", Type: types.FieldTypeString},
		{Name: "description", Label: "Description", Type: types.FieldTypeString},
		{Name: "status", Label: "Status", Type: types.FieldTypeEnum, Options: []string{"TODO", "IN_PROGRESS", "WAITING", "COMPLETED", "CANCELLED"}},
		{Name: "priority", Label: "Priority", Type: types.FieldTypeEnum, Options: priorityOptions},
		{Name: "estimatedHours", Label: "Estimated hours", Type: types.FieldTypeNumber},
		{Name: "actualHours", Label: "Actual hours", Type: types.FieldTypeNumber},
		{Name: "dueDate", Label: "Due date", Type: types.FieldTypeDate},
		{Name: "context", Label: "Context", Type: types.FieldTypeString},
	},
	types.ModuleDeals: {
		{Name: "clientName", Label: "Client name", Type: types.FieldTypeString},
		{Name: "value", Label: "Value", Type: types.FieldTypeNumber},
		{Name: "stage", Label: "Stage", Type: types.FieldTypeEnum, Options: []string{"LEAD", "QUALIFIED", "PROPOSAL", "NEGOTIATION", "CLOSED_WON", "CLOSED_LOST"}},
		{Name: "probability", Label: "Probability (%)", Type: types.FieldTypeNumber},
		{Name: "daysInPipeline", Label: "Days in pipeline", Type: types.FieldTypeNumber},
		{Name: "lastContact", Label: "Last contact", Type: types.FieldTypeDate},
	},
	types.ModuleContacts: {
		{Name: "firstName", Label: "First name", Type: types.FieldTypeString},
		{Name: "lastName", Label: "Last name", Type: types.FieldTypeString},
		{Name: "email", Label: "Email", Type: types.FieldTypeString},
		{Name: "company", Label: "Company", Type: types.FieldTypeString},
		{Name: "position", Label: "Position", Type: types.FieldTypeString},
		{Name: "status", Label: "Status", Type: types.FieldTypeEnum, Options: []string{"ACTIVE", "INACTIVE", "PROSPECT", "CUSTOMER"}},
		{Name: "lastContactDate", Label: "Last contact date", Type: types.FieldTypeDate},
		{Name: "relationshipType", Label: "Relationship type", Type: types.FieldTypeString},
	},
	types.ModuleCommunication: {
		{Name: "type", Label: "Type", Type: types.FieldTypeEnum, Options: []string{"email", "slack", "teams", "phone", "meeting"}},
		{Name: "direction", Label: "Direction", Type: types.FieldTypeEnum, Options: []string{"incoming", "outgoing"}},
		{Name: "subject", Label: "Subject", Type: types.FieldTypeString},
		{Name: "content", Label: "Content", Type: types.FieldTypeString},
		{Name: "sender", Label: "Sender", Type: types.FieldTypeString},
		{Name: "recipient", Label: "Recipient", Type: types.FieldTypeString},
		{Name: "priority", Label: "Priority", Type: types.FieldTypeEnum, Options: priorityOptions},
		{Name: "hasAttachments", Label: "Has attachments", Type: types.FieldTypeBoolean},
	},
}

// Catalog serves module field metadata. Safe for concurrent use.
type Catalog struct {
	mu     sync.RWMutex
	fields map[types.Module][]types.ModuleField
}

// NewCatalog creates a catalog holding the built-in fields for every module.
func NewCatalog() *Catalog {
	c := &Catalog{fields: make(map[types.Module][]types.ModuleField, len(builtin))}
	for module, fields := range builtin {
		withTags := make([]types.ModuleField, 0, len(fields)+1)
		withTags = append(withTags, fields...)
		withTags = append(withTags, types.ModuleField{Name: TagsField, Label: "Tags", Type: types.FieldTypeString})
		c.fields[module] = withTags
	}
	return c
}

// GetFields returns the fields declared for module.
// Returns ErrUnknownModule for modules outside the closed set.
func (c *Catalog) GetFields(_ context.Context, module types.Module) ([]types.ModuleField, error) {
	if !module.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownModule, module)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	fields := c.fields[module]
	out := make([]types.ModuleField, len(fields))
	copy(out, fields)
	return out, nil
}

// Merge overlays fields onto module: fields with an existing name replace it
// in place, new names are appended.
func (c *Catalog) Merge(module types.Module, fields []types.ModuleField) error {
	if !module.Valid() {
		return fmt.Errorf("%w: %q", types.ErrUnknownModule, module)
	}
	for _, f := range fields {
		if f.Name == "" {
			return fmt.Errorf("%s: field name is required", module)
		}
		if !f.Type.Valid() {
			return fmt.Errorf("%s.%s: unknown field type %q", module, f.Name, f.Type)
		}
		if f.Type == types.FieldTypeEnum && len(f.Options) == 0 {
			return fmt.Errorf("%s.%s: enum field requires options", module, f.Name)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing := c.fields[module]
	index := make(map[string]int, len(existing))
	for i, f := range existing {
		index[f.Name] = i
	}
	for _, f := range fields {
		if f.Label == "" {
			f.Label = f.Name
		}
		if i, ok := index[f.Name]; ok {
			existing[i] = f
			continue
		}
		index[f.Name] = len(existing)
		existing = append(existing, f)
	}
	c.fields[module] = existing
	return nil
}

// fileFormat is the YAML layout of a catalog override file:
//
//	modules:
//	  deals:
//	    - name: owner.email
//	      label: Owner email
//	      type: string
type fileFormat struct {
	Modules map[types.Module][]types.ModuleField `yaml:"modules"`
}

// LoadFile merges the YAML catalog at path into c.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read metadata file: %w", err)
	}

	var file fileFormat
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse metadata file: %w", err)
	}

	for module, fields := range file.Modules {
		if err := c.Merge(module, fields); err != nil {
			return fmt.Errorf("metadata file %s: %w", path, err)
		}
	}
	return nil
}
