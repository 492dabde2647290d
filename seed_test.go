package refslice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeedEquality(t *testing.T) {
	seed, err := ParseSeed("orders.id=42")
	require.NoError(t, err)
	assert.True(t, seed.IsEquality())
	assert.Equal(t, "orders", seed.Table)
	assert.Equal(t, "id", seed.Column)
	assert.Equal(t, "42", seed.Value)
}

func TestParseSeedEqualityQuotedValue(t *testing.T) {
	seed, err := ParseSeed("orders.status='shipped'")
	require.NoError(t, err)
	assert.Equal(t, "shipped", seed.Value)
}

func TestParseSeedWhereClause(t *testing.T) {
	seed, err := ParseSeed("orders:status = 'shipped' AND total > 100")
	require.NoError(t, err)
	assert.False(t, seed.IsEquality())
	assert.Equal(t, "orders", seed.Table)
	assert.Equal(t, "status = 'shipped' AND total > 100", seed.WhereClause)
}

func TestParseSeedRejectsUnsafeWhereClause(t *testing.T) {
	_, err := ParseSeed("orders:1=1; DROP TABLE orders")
	assert.Error(t, err)
}

func TestParseSeedRejectsEmpty(t *testing.T) {
	_, err := ParseSeed("")
	assert.Error(t, err)
}

func TestParseSeedRejectsMalformed(t *testing.T) {
	_, err := ParseSeed("not_a_valid_seed")
	assert.Error(t, err)
}

func TestParseSeedRejectsBadTableIdentifier(t *testing.T) {
	_, err := ParseSeed("2bad.id=1")
	assert.Error(t, err)
}

func TestParseSeedRejectsEmptyWhereClause(t *testing.T) {
	_, err := ParseSeed("orders:")
	assert.Error(t, err)
}

func TestSeedSpecToWhereClauseEquality(t *testing.T) {
	seed, err := ParseSeed("orders.id=42")
	require.NoError(t, err)
	clause, args, err := seed.ToWhereClause()
	require.NoError(t, err)
	assert.Equal(t, "id = ?", clause)
	require.Len(t, args, 1)
	assert.Equal(t, int64(42), args[0])
}

func TestSeedSpecToWhereClauseEqualityStringValue(t *testing.T) {
	seed, err := ParseSeed("orders.status='shipped'")
	require.NoError(t, err)
	_, args, err := seed.ToWhereClause()
	require.NoError(t, err)
	assert.Equal(t, "shipped", args[0])
}

func TestSeedSpecToWhereClauseRawClause(t *testing.T) {
	seed, err := ParseSeed("orders:status = 'shipped'")
	require.NoError(t, err)
	clause, args, err := seed.ToWhereClause()
	require.NoError(t, err)
	assert.Equal(t, "status = 'shipped'", clause)
	assert.Nil(t, args)
}
