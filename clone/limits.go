package clone

// MaxDepth is the maximum recursion depth the writer permits, per
// spec.md §6.4.
const MaxDepth = 1000

// MaxSize is the maximum serialized output size in bytes, per spec.md
// §6.4. 100 MiB.
const MaxSize = 100 * 1024 * 1024
