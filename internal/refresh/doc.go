// Package refresh turns manual refresh requests into forced acquisition
// events.
//
// A request names a library item and optionally an explicit provider match.
// It arrives either as fields or as a base64 JSON token. Validated requests
// become Force events that bypass the add/update correlation.
package refresh
