// Package logging sets up structured logging for subindex.
//
// Logs are JSON lines written through a size-rotating file writer under
// ~/.subindex/logs/ and optionally mirrored to stderr. The Viewer reads
// those files back for `subindex logs`, filtering by level, partition or
// pattern and following new lines as they are written.
package logging
