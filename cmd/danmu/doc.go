// Package main implements the danmu command-line client.
//
// The CLI talks to a running danmud over its HTTP API: status and provider
// listings, manual refreshes, provider searches, and fetching stored comment
// documents. Configuration helpers (`config init`, `config validate`) and the
// foreground `daemon` command work without a running daemon.
package main
