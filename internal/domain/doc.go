// Package domain holds the core types shared across the service:
// the session record, the graph document model and the error taxonomy.
//
// Graph and forked graph are stored as raw JSON documents and parsed
// into the typed model only where the structure matters. The forked
// graph is always a derived value, recomputed from the graph on every
// mutation and swapped together with it, never edited in place.
package domain
