// Package router exposes the embedding service over HTTP.
package router

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/compozy/knowledgebase/engine/core"
	"github.com/compozy/knowledgebase/engine/embedding"
	"github.com/compozy/knowledgebase/engine/embedding/service"
	srvrouter "github.com/compozy/knowledgebase/engine/infra/server/router"
)

// Embedder is the service surface the handlers depend on.
type Embedder interface {
	EmbedBatch(ctx context.Context, docs [][]string) ([][][]float32, error)
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	Health() service.Health
}

// Register mounts /embed, /embed_query and /health.
func Register(r gin.IRoutes, svc Embedder) {
	r.POST("/embed", embedHandler(svc))
	r.POST("/embed_query", embedQueryHandler(svc))
	r.GET("/health", healthHandler(svc))
}

func embedHandler(svc Embedder) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req embedding.EmbedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			srvrouter.RespondProblemWithCode(c, http.StatusBadRequest, core.CodeBadRequest, err.Error())
			return
		}
		vectors, err := svc.EmbedBatch(c.Request.Context(), req.Chunks)
		if err != nil {
			srvrouter.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, embedding.EmbedResponse{Embeddings: vectors})
	}
}

func embedQueryHandler(svc Embedder) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req embedding.QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			srvrouter.RespondProblemWithCode(c, http.StatusBadRequest, core.CodeBadRequest, err.Error())
			return
		}
		vector, err := svc.EmbedQuery(c.Request.Context(), req.Query)
		if err != nil {
			srvrouter.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, embedding.QueryResponse{Embedding: vector})
	}
}

func healthHandler(svc Embedder) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := svc.Health()
		status := http.StatusOK
		if !h.Ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, embedding.HealthResponse{
			Status:      h.State.String(),
			ModelLoaded: h.Ready,
			Device:      h.Device,
			ModelPath:   h.ModelPath,
		})
	}
}
