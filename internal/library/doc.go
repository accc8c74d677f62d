// Package library defines the media library model shared by the event
// pipeline: the Item tagged variant, the Store contract the pipeline consumes,
// and per-library options. Concrete stores live in subpackages.
package library
