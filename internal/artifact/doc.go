// Package artifact stores downloaded comment sets next to their media files.
//
// Each provider gets its own file, <stem>_<providerKey>.xml, written through
// a temp file and rename so readers never observe a partial document. When
// ASS conversion is enabled a <stem>_<providerKey>.danmu.ass subtitle is
// rendered after every successful XML write.
package artifact
