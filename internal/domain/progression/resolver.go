package progression

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CategoryTable maps customer categories to the task markers that apply to
// them. Government customers are further narrowed by sub-category group.
type CategoryTable struct {
	Government        string            `yaml:"government"`
	GovernmentMarker  int64             `yaml:"government_marker"`
	Markers           map[string]int64  `yaml:"markers"`
	SubCategoryGroups map[string]string `yaml:"sub_category_groups"`
}

func DefaultCategoryTable() CategoryTable {
	return CategoryTable{
		Government:       "Pemerintah",
		GovernmentMarker: 2,
		Markers: map[string]int64{
			"Pendidikan":            1,
			"Pemerintah":            2,
			"Web Inquiry Corporate": 3,
			"Web Inquiry CNI":       4,
			"Web Inquiry C&I":       4,
		},
		SubCategoryGroups: map[string]string{
			"UKPBJ":            "KEDINASAN",
			"RUMAH SAKIT":      "KEDINASAN",
			"KANTOR KEDINASAN": "KEDINASAN",
			"KANTOR BALAI":     "KEDINASAN",
			"KELURAHAN":        "KECAMATAN",
			"KECAMATAN":        "KECAMATAN",
			"PUSKESMAS":        "PUSKESMAS",
		},
	}
}

// LoadCategoryTable returns the built-in table, overlaid with the YAML file at
// path when one is given.
func LoadCategoryTable(path string) (CategoryTable, error) {
	table := DefaultCategoryTable()
	if path == "" {
		return table, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return CategoryTable{}, fmt.Errorf("read category table: %w", err)
	}
	var override CategoryTable
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return CategoryTable{}, fmt.Errorf("parse category table: %w", err)
	}
	if override.Government != "" {
		table.Government = override.Government
	}
	if override.GovernmentMarker != 0 {
		table.GovernmentMarker = override.GovernmentMarker
	}
	for k, v := range override.Markers {
		table.Markers[k] = v
	}
	for k, v := range override.SubCategoryGroups {
		table.SubCategoryGroups[k] = v
	}
	return table, nil
}

// Resolver decides which of a rep's tasks are assigned to a given customer.
// Completion, scoring and the progress view all go through it so that their
// counts agree.
type Resolver struct {
	government       string
	governmentMarker int64
	markers          map[string]int64
	groups           map[string]string
}

func NewResolver(table CategoryTable) *Resolver {
	r := &Resolver{
		government:       strings.TrimSpace(table.Government),
		governmentMarker: table.GovernmentMarker,
		markers:          make(map[string]int64, len(table.Markers)),
		groups:           make(map[string]string, len(table.SubCategoryGroups)),
	}
	for k, v := range table.Markers {
		r.markers[categoryKey(k)] = v
	}
	for k, v := range table.SubCategoryGroups {
		r.groups[groupKey(k)] = groupKey(v)
	}
	return r
}

func categoryKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func groupKey(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Group returns the canonical sub-category group, falling back to the
// sub-category itself.
func (r *Resolver) Group(subCategory string) string {
	key := groupKey(subCategory)
	if g, ok := r.groups[key]; ok {
		return g
	}
	return key
}

func (r *Resolver) Filter(customer Customer, stageID int64, tasks []Task) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if r.Includes(customer, stageID, t) {
			out = append(out, t)
		}
	}
	return out
}

func (r *Resolver) Includes(customer Customer, stageID int64, task Task) bool {
	if task.StageID != stageID || task.AutoGenerated || strings.HasPrefix(task.Description, AutoGeneratedPrefix) {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(customer.Category), r.government) {
		if task.CategoryMarker == nil || *task.CategoryMarker != r.governmentMarker {
			return false
		}
		if customer.SubCategory == nil || strings.TrimSpace(*customer.SubCategory) == "" {
			return true
		}
		if task.SubCategory == nil || strings.TrimSpace(*task.SubCategory) == "" {
			return true
		}
		return r.Group(*customer.SubCategory) == groupKey(*task.SubCategory)
	}
	expected, known := r.markers[categoryKey(customer.Category)]
	if !known || task.CategoryMarker == nil {
		return true
	}
	return *task.CategoryMarker == expected
}

type taskLister interface {
	ListTasks(ctx context.Context, ownerID string, stageID int64) ([]Task, error)
}

// AssignedTasks loads the owning rep's tasks for a stage and filters them for
// the customer.
func (r *Resolver) AssignedTasks(ctx context.Context, q taskLister, customer Customer, stageID int64) ([]Task, error) {
	tasks, err := q.ListTasks(ctx, customer.OwnerID, stageID)
	if err != nil {
		return nil, err
	}
	return r.Filter(customer, stageID, tasks), nil
}
