// Package acquire runs the per-bucket acquisition pipelines.
//
// The Orchestrator implements events.Handler. Each bucket is processed item by
// item: movies resolve and download directly, series updates fan out to their
// seasons, seasons link and download every regular episode, and episodes try
// their own identifier before falling back to the parent season. Provider
// identifiers discovered along the way are collected by a Batcher and
// committed once per item after the bucket finishes, so reads made while the
// bucket runs never observe half-written metadata.
//
// Downloads pass through the dedup guard, the payload size floor and the
// artifact writer. A rate-limit signal ends the fallback for the current item
// only.
package acquire
