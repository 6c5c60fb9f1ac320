package client

// span is a half-open range of document indices sent in one call.
type span struct {
	start, end int
}

// planBatches packs consecutive documents into calls bounded by maxDocs and
// maxChunks. A document is never split; one larger than maxChunks travels alone.
func planBatches(docs [][]string, maxDocs, maxChunks int) []span {
	if len(docs) == 0 {
		return nil
	}
	spans := make([]span, 0, 1)
	start, chunks := 0, 0
	for i, doc := range docs {
		n := len(doc)
		full := i-start >= maxDocs || (chunks > 0 && chunks+n > maxChunks)
		if i > start && full {
			spans = append(spans, span{start: start, end: i})
			start, chunks = i, 0
		}
		chunks += n
	}
	return append(spans, span{start: start, end: len(docs)})
}
