// Package embedding holds the wire contract and vector math shared by the
// embedding service, its HTTP client and the stores.
package embedding

// Dimension is the system-wide embedding width.
const Dimension = 1024

// EmbedRequest carries one chunk list per document.
type EmbedRequest struct {
	Chunks [][]string `json:"chunks"`
}

// EmbedResponse mirrors EmbedRequest: one vector per chunk per document.
type EmbedResponse struct {
	Embeddings [][][]float32 `json:"embeddings"`
}

type QueryRequest struct {
	Query string `json:"query"`
}

type QueryResponse struct {
	Embedding []float32 `json:"embedding"`
}

// HealthResponse is the readiness probe body.
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
	ModelPath   string `json:"model_path"`
}

// CountChunks returns the total number of chunks across documents.
func CountChunks(docs [][]string) int {
	total := 0
	for _, d := range docs {
		total += len(d)
	}
	return total
}
