// Package services defines shared utilities consumed by the acquisition
// pipeline, the HTTP API and the provider integrations.
//
// Key responsibilities:
//   - Context helpers that stamp library item IDs, bucket names, provider
//     names, and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures can be
//     classified consistently (input error vs transient failure) and mapped
//     to API status codes.
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// stays uniform across components.
package services
