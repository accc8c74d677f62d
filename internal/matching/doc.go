// Package matching decides which external id an item maps to on each
// provider.
//
// Matcher normalizes titles and accepts the first search candidate whose
// similarity meets the threshold and whose year agrees when both are known.
// Chain walks the explicit id, stored ids, and search in that order, and
// stops the whole walk when a provider reports throttling. AlignEpisode maps
// 1-based local episode indexes onto provider episode lists.
package matching
