package analytics

import (
	_ "embed"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

//go:embed strategies.yaml
var strategiesYAML []byte

// fieldTable is the YAML-sourced shape of one sheet type's allow-listed
// fields. Summary/time-series/distribution/top pipeline construction stays
// in Go; only the field lists are data-driven.
type fieldTable struct {
	SearchableFields     []string `yaml:"searchable_fields"`
	SortableFields       []string `yaml:"sortable_fields"`
	SupportsTimeSeries   bool     `yaml:"supports_time_series"`
	SupportsDistribution bool     `yaml:"supports_distribution"`
	DistributionFields   []string `yaml:"distribution_fields"`
	SupportsTop          bool     `yaml:"supports_top"`
	TopFields            []string `yaml:"top_fields"`
	DateFilterField      string   `yaml:"date_filter_field"`
}

// Strategy is the per-sheet-type capability table; summary/time-series/
// distribution/top pipeline construction lives in pipelines.go, keyed by
// SheetType.
type Strategy struct {
	SheetType domain.SheetType
	fieldTable
}

func loadFieldTables() (map[domain.SheetType]fieldTable, error) {
	var raw map[string]fieldTable
	if err := yaml.Unmarshal(strategiesYAML, &raw); err != nil {
		return nil, err
	}
	tables := make(map[domain.SheetType]fieldTable, len(raw))
	for k, v := range raw {
		tables[domain.SheetType(k)] = v
	}
	return tables, nil
}

// detectSheetType maps a tab name to a SheetType, defaulting to orders per
// spec when the name doesn't match a known type (case-insensitive).
func detectSheetType(tabName string) domain.SheetType {
	switch strings.ToLower(strings.TrimSpace(tabName)) {
	case string(domain.SheetTypeOrderItems):
		return domain.SheetTypeOrderItems
	case string(domain.SheetTypeCustomers):
		return domain.SheetTypeCustomers
	case string(domain.SheetTypeProducts):
		return domain.SheetTypeProducts
	default:
		return domain.SheetTypeOrders
	}
}

func (f fieldTable) isSearchable(field string) bool  { return contains(f.SearchableFields, field) }
func (f fieldTable) isSortable(field string) bool     { return contains(f.SortableFields, field) }
func (f fieldTable) isDistribution(field string) bool { return contains(f.DistributionFields, field) }
func (f fieldTable) isTopField(field string) bool     { return contains(f.TopFields, field) }

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// registry holds one Strategy per known SheetType, loaded once at startup.
type registry struct {
	strategies map[domain.SheetType]*Strategy
}

// newRegistry parses the embedded field-table fixture into a Strategy per
// sheet type.
func newRegistry() (*registry, error) {
	tables, err := loadFieldTables()
	if err != nil {
		return nil, err
	}
	r := &registry{strategies: make(map[domain.SheetType]*Strategy, len(tables))}
	for st, ft := range tables {
		r.strategies[st] = &Strategy{SheetType: st, fieldTable: ft}
	}
	return r, nil
}

// forTabName resolves the Strategy for a connection's tab name, defaulting
// to orders when the detected type has no registered table.
func (r *registry) forTabName(tabName string) *Strategy {
	st := detectSheetType(tabName)
	if s, ok := r.strategies[st]; ok {
		return s
	}
	return r.strategies[domain.SheetTypeOrders]
}
