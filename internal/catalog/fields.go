package catalog

import "fmt"

// GroupLevel identifies the hierarchy level a field or calculation operates at.
type GroupLevel string

const (
	LevelDeal    GroupLevel = "deal"
	LevelTranche GroupLevel = "tranche"
)

// Valid reports whether the level is one of the known hierarchy levels.
func (l GroupLevel) Valid() bool {
	return l == LevelDeal || l == LevelTranche
}

// FieldType represents the declared type of a catalog field
type FieldType string

const (
	FieldTypeString    FieldType = "string"
	FieldTypeNumber    FieldType = "number"
	FieldTypeInteger   FieldType = "integer"
	FieldTypeDate      FieldType = "date"
	FieldTypeTimestamp FieldType = "timestamp"
)

// Field describes a directly queryable column on the deal/tranche model
type Field struct {
	Key    string     `json:"key"`    // stable path, e.g. "deal.issuer"
	Column string     `json:"column"` // warehouse column name
	Label  string     `json:"label"`
	Type   FieldType  `json:"type"`
	Level  GroupLevel `json:"level"`
	Format string     `json:"format,omitempty"` // currency, percent, etc.
}

// FieldCatalog enumerates the static fields available to report columns.
// The set is fixed at construction; lookups are safe for concurrent use.
type FieldCatalog struct {
	fields []Field
	byKey  map[string]Field
}

// NewFieldCatalog builds the catalog of directly queryable deal and
// tranche columns.
func NewFieldCatalog() *FieldCatalog {
	c := &FieldCatalog{
		byKey: make(map[string]Field),
	}
	c.register(
		Field{Key: "deal.id", Column: "deal_id", Label: "Deal ID", Type: FieldTypeInteger, Level: LevelDeal},
		Field{Key: "deal.name", Column: "deal_name", Label: "Deal Name", Type: FieldTypeString, Level: LevelDeal},
		Field{Key: "deal.issuer", Column: "issuer", Label: "Issuer", Type: FieldTypeString, Level: LevelDeal},
		Field{Key: "deal.type", Column: "deal_type", Label: "Deal Type", Type: FieldTypeString, Level: LevelDeal},
		Field{Key: "deal.principal_amount", Column: "deal_principal_amount", Label: "Deal Principal", Type: FieldTypeNumber, Level: LevelDeal, Format: "currency"},
		Field{Key: "deal.rating", Column: "deal_rating", Label: "Deal Rating", Type: FieldTypeString, Level: LevelDeal},
		Field{Key: "deal.yield", Column: "deal_yield", Label: "Yield", Type: FieldTypeNumber, Level: LevelDeal, Format: "percent"},
		Field{Key: "deal.closing_date", Column: "closing_date", Label: "Closing Date", Type: FieldTypeDate, Level: LevelDeal},
		Field{Key: "tranche.id", Column: "tranche_id", Label: "Tranche ID", Type: FieldTypeInteger, Level: LevelTranche},
		Field{Key: "tranche.class_name", Column: "class_name", Label: "Class", Type: FieldTypeString, Level: LevelTranche},
		Field{Key: "tranche.principal_amount", Column: "tranche_principal_amount", Label: "Tranche Principal", Type: FieldTypeNumber, Level: LevelTranche, Format: "currency"},
		Field{Key: "tranche.interest_rate", Column: "interest_rate", Label: "Interest Rate", Type: FieldTypeNumber, Level: LevelTranche, Format: "percent"},
		Field{Key: "tranche.rating", Column: "tranche_rating", Label: "Tranche Rating", Type: FieldTypeString, Level: LevelTranche},
		Field{Key: "tranche.payment_priority", Column: "payment_priority", Label: "Payment Priority", Type: FieldTypeInteger, Level: LevelTranche},
	)
	return c
}

func (c *FieldCatalog) register(fields ...Field) {
	for _, f := range fields {
		c.fields = append(c.fields, f)
		c.byKey[f.Key] = f
	}
}

// Fields returns every catalog field in registration order.
func (c *FieldCatalog) Fields() []Field {
	out := make([]Field, len(c.fields))
	copy(out, c.fields)
	return out
}

// FieldsForLevel returns the fields native to the given hierarchy level.
func (c *FieldCatalog) FieldsForLevel(level GroupLevel) []Field {
	var out []Field
	for _, f := range c.fields {
		if f.Level == level {
			out = append(out, f)
		}
	}
	return out
}

// Lookup resolves a field by its key.
func (c *FieldCatalog) Lookup(key string) (Field, error) {
	f, ok := c.byKey[key]
	if !ok {
		return Field{}, fmt.Errorf("field not found in catalog: %s", key)
	}
	return f, nil
}

// Has reports whether key identifies a catalog field.
func (c *FieldCatalog) Has(key string) bool {
	_, ok := c.byKey[key]
	return ok
}

// SourceFieldColumn resolves a source model + field name pair (as used by
// user-defined calculations) to a catalog field. The model name is the
// entity ("Deal" or "Tranche"); the field is the bare column name.
func (c *FieldCatalog) SourceFieldColumn(model, field string) (Field, error) {
	var level GroupLevel
	switch model {
	case "Deal":
		level = LevelDeal
	case "Tranche":
		level = LevelTranche
	default:
		return Field{}, fmt.Errorf("unknown source model: %s", model)
	}
	for _, f := range c.fields {
		if f.Level == level && shortName(f.Key) == field {
			return f, nil
		}
	}
	return Field{}, fmt.Errorf("field %q not found on model %s", field, model)
}

func shortName(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			return key[i+1:]
		}
	}
	return key
}
