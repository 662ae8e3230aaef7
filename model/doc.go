// Package model defines the public document model of lexgo.
//
// A Document is a list of Fields. A field can be indexed (its token stream is
// inverted into postings), trie-indexed as a number (for range filters),
// stored (returned verbatim by Reader.Document), and carry a doc value
// (column-stride data for sorting and faceting), in any combination:
//
//	doc := model.NewDocument(
//	    model.KeywordField("id", "42", true),
//	    model.TextField("body", "the quick brown fox", false),
//	    model.Int64Field("price", 5000, true),
//	    model.NumericDocValuesField("rank", 7),
//	)
//
// Text analysis is external: TokenStream is the boundary an analyzer
// implements. WhitespaceTokens and KeywordTokens cover simple cases.
package model
