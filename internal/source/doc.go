// Package source lists repository files for indexing.
//
// GitHub resolves the default branch and head commit through the REST API,
// walks the recursive tree and downloads raw blobs with bounded
// concurrency. Blob contents are cached by blob SHA, so a re-index only
// downloads files whose content changed. Dir reads a local mirror laid out
// as <root>/<owner>/<name>.
//
// Both apply the same Filter: an extension allow-list and a size cap.
package source
