// Package preflight provides readiness checks for the filesystem paths and
// external services danmud depends on.
//
// These checks run in two contexts:
//   - daemonrun logs every result before the daemon starts. Failures are
//     warnings; the daemon still starts so a transient outage does not
//     block notifications.
//   - The CLI "danmu preflight" command renders the same results.
//
// Provider checks are skipped for providers that are disabled.
package preflight
