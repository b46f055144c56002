// Package search ranks catalog tools against a free-text query.
//
// # Ranking
//
// [Searcher.Search] tries vector similarity first: the query and every tool's
// "name description" text are embedded, and tools are ranked by cosine
// similarity, highest first. When no embedder is configured, or the embedder
// reports [ErrConfiguration] (for example a missing API key), the searcher logs
// once and ranks by keyword overlap instead:
//
//   - 10 when the lower-cased query is a substring of the lower-cased text
//   - otherwise the number of distinct query terms present in the text
//   - tools scoring 0 are dropped
//
// Ties keep catalog scan order in both paths.
//
// # Detail levels
//
// [LevelName] returns server and tool names only. [LevelSummary] adds the
// description. [LevelFull] adds the tool source and a call hint.
//
// # Embedding cache
//
// Tool vectors are memoized in a [Cache] backed by a bbolt file at
// <catalog-root>/.tool_embeddings_cache. The file is read once when the cache
// is opened and is only ever appended to. A failed write is returned to the
// caller rather than dropped.
//
// Entries are keyed "server.tool" by default, so a changed description keeps
// its old vector until the file is deleted. [KeyContent] keys entries by a hash
// of the embedded text instead, so edits miss the cache.
package search
