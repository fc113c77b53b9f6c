package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupResolvesKnownKeys(t *testing.T) {
	c := NewFieldCatalog()

	field, err := c.Lookup("tranche.interest_rate")
	require.NoError(t, err)
	assert.Equal(t, "interest_rate", field.Column)
	assert.Equal(t, LevelTranche, field.Level)
	assert.Equal(t, "percent", field.Format)

	_, err = c.Lookup("deal.nonexistent")
	require.Error(t, err)
	assert.False(t, c.Has("deal.nonexistent"))
}

func TestFieldsForLevelSplitsHierarchy(t *testing.T) {
	c := NewFieldCatalog()

	for _, f := range c.FieldsForLevel(LevelDeal) {
		assert.Equal(t, LevelDeal, f.Level)
	}
	for _, f := range c.FieldsForLevel(LevelTranche) {
		assert.Equal(t, LevelTranche, f.Level)
	}
	assert.Len(t, c.Fields(), len(c.FieldsForLevel(LevelDeal))+len(c.FieldsForLevel(LevelTranche)))
}

func TestSourceFieldColumnMapsModelFields(t *testing.T) {
	c := NewFieldCatalog()

	field, err := c.SourceFieldColumn("Tranche", "principal_amount")
	require.NoError(t, err)
	assert.Equal(t, "tranche_principal_amount", field.Column)

	field, err = c.SourceFieldColumn("Deal", "yield")
	require.NoError(t, err)
	assert.Equal(t, "deal_yield", field.Column)

	_, err = c.SourceFieldColumn("Portfolio", "yield")
	require.Error(t, err)

	_, err = c.SourceFieldColumn("Deal", "class_name")
	require.Error(t, err)
}
