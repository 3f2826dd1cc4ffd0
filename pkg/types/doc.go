/*
Package types holds the small shared types that cross package boundaries in
volgrid: object metadata returned by storage backends, cache statistics
snapshots, and the interfaces used to plug storage and memory reclaimers
into the rest of the system.

# Interfaces

ObjectReader is the read-only view of an object store. The S3 backend in
internal/storage/s3 implements it; tests substitute in-memory fakes.

Reclaimer is implemented by anything that can give memory back on demand.
The grid file cache and the tree cache register reclaimers with the memory
monitor in pkg/memmon, which calls them when heap usage crosses its high
watermark.

# Statistics

CacheStats and TreeCacheStats are value snapshots. They are safe to copy
and serialise, and are what the gridctl CLI prints.
*/
package types
