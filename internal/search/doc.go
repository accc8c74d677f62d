// Package search is the read-only lookup surface behind the search API.
//
// It fans a keyword out to every registered provider concurrently and ranks
// the merged candidates by whether the automatic matcher would accept them,
// then by fuzzy closeness to the keyword. Searching never links identifiers.
package search
