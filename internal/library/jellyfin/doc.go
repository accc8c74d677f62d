// Package jellyfin implements library.Store against a Jellyfin server's HTTP
// API.
//
// Items are read through /Items, library options come from
// /Library/VirtualFolders (a library is disabled when its
// DisabledSubtitleFetchers list contains the configured fetcher name), and
// commits post the full item document back with merged ProviderIds so no
// other metadata field is touched.
package jellyfin
