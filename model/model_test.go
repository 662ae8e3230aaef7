package model

import (
	"testing"

	"github.com/hupe1980/lexgo/numeric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhitespaceTokens(t *testing.T) {
	tokens, err := CollectTokens(WhitespaceTokens("  metal  band\tnoise "))
	require.NoError(t, err)
	require.Len(t, tokens, 3)
	assert.Equal(t, "metal", string(tokens[0].Term))
	assert.Equal(t, 2, tokens[0].StartOffset)
	assert.Equal(t, 7, tokens[0].EndOffset)
	assert.Equal(t, "noise", string(tokens[2].Term))
	assert.Equal(t, 1, tokens[2].PositionIncrement)

	// Streams can be consumed again after Reset.
	again, err := CollectTokens(WhitespaceTokens("a b"))
	require.NoError(t, err)
	assert.Len(t, again, 2)

	empty, err := CollectTokens(WhitespaceTokens("   "))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestKeywordTokens(t *testing.T) {
	ts := KeywordTokens("New York")
	tokens, err := CollectTokens(ts)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "New York", string(tokens[0].Term))

	tokens, err = CollectTokens(ts)
	require.NoError(t, err)
	assert.Len(t, tokens, 1)
}

func TestFieldValidate(t *testing.T) {
	assert.NoError(t, KeywordField("id", "1", true).Validate())
	assert.NoError(t, Int64Field("price", 5, false).Validate())
	assert.NoError(t, StoredOnlyField("raw", BytesValue([]byte{1})).Validate())
	assert.NoError(t, SortedDocValuesField("cat", []byte("a")).Validate())

	assert.Error(t, Field{}.Validate())
	assert.Error(t, Field{Name: "x"}.Validate())
	assert.Error(t, Field{Name: "x", Index: IndexDocs}.Validate())
	assert.Error(t, Field{Name: "x", DocValue: &DocValue{}}.Validate())

	doc := NewDocument(KeywordField("id", "1", false)).Add(Field{Name: "bad"})
	assert.Error(t, doc.Validate())
}

func TestNumericValueTerms(t *testing.T) {
	f := Int64Field("price", 5000, false).WithPrecisionStep(8)
	terms, err := f.Numeric.Terms(f.Name)
	require.NoError(t, err)
	assert.Len(t, terms, 8)
	assert.Equal(t, "price", terms[0].Field)
	assert.Equal(t, numeric.LowerPrecisionField("price"), terms[1].Field)

	terms, err = Float32Field("w", 1.5, false).Numeric.Terms("w")
	require.NoError(t, err)
	assert.Len(t, terms, 2)
}

func TestStoredDocument(t *testing.T) {
	doc := StoredDocument{
		{Name: "tag", Value: StringValue("a")},
		{Name: "n", Value: Int64Value(3)},
		{Name: "tag", Value: StringValue("b")},
	}
	v, ok := doc.Get("n")
	require.True(t, ok)
	assert.Equal(t, int64(3), v.Any())
	assert.Len(t, doc.GetAll("tag"), 2)
	_, ok = doc.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 2.5, Float64Value(2.5).Any())
}

func TestTermStatsAdd(t *testing.T) {
	s := TermStats{DocFreq: 1, TotalTermFreq: 2}
	s.Add(TermStats{DocFreq: 2, TotalTermFreq: 5})
	assert.Equal(t, TermStats{DocFreq: 3, TotalTermFreq: 7}, s)
}
