// Package indexer implements the C8 Continuous Indexer: it consumes NEW
// staged artifacts, normalizes and chunks their text, embeds each chunk,
// and writes idempotently to the hybrid search store. It never calls an
// external source API (§4.8).
package indexer

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jervisai/jervis/internal/adapter/observability"
	"github.com/jervisai/jervis/internal/domain"
	"github.com/jervisai/jervis/internal/service/textnorm"
)

var tracer = otel.Tracer("jervis/service/indexer")

// emptyQueueBackoff is the fixed sleep when findNew returns nothing
// (§4.8: "when queue is empty, sleep with a fixed backoff (≈30s)").
const emptyQueueBackoff = 30 * time.Second

// StagingSource is the subset of mongostore.StagingRepo one Consumer
// drains.
type StagingSource interface {
	FindNew(ctx domain.Context, limit int64) ([]domain.Artifact, error)
	ClaimForIndexing(ctx domain.Context, id domain.ID) (bool, error)
	MarkIndexed(ctx domain.Context, id domain.ID, stats domain.ChunkStats) error
	MarkFailed(ctx domain.Context, id domain.ID, reason string) error
}

// Embedder requests an embedding vector for one chunk of text. modelKind
// lets the caller route text vs. code chunks to different models (§4.8
// step 4: "text or code model chosen by source type").
type Embedder interface {
	Embed(ctx domain.Context, modelKind, text string) ([]float32, error)
}

// ModelKind selects which embedding model an artifact's chunks use.
type ModelKind string

const (
	ModelKindText ModelKind = "text"
	ModelKindCode ModelKind = "code"
)

// Chunk is one row written to the hybrid search store, matching the
// `SemanticText`/`SemanticCode` property set of §4.11.
type Chunk struct {
	Collection string
	ChunkID    string
	ChunkOf    string
	ParentRef  string
	Text       string
	ClientID   domain.ID
	ProjectID  *domain.ID
	SourceType string
	SourceURI  string
	Branch     string
	Language   string
	LineStart  int
	LineEnd    int
	Vector     []float32
}

// HybridWriter is the subset of the C11 hybrid search store a Consumer
// writes chunks to.
type HybridWriter interface {
	WriteChunk(ctx domain.Context, c Chunk) error
}

// Consumer is one logical C8 indexer loop, bound to a single staging
// collection (§4.8: "one logical consumer per source"). Grounded on the
// teacher's rag.Indexer Start/RunOnce/ticker+done loop shape.
type Consumer struct {
	kind        domain.ArtifactKind
	staging     StagingSource
	embedder    Embedder
	writer      HybridWriter
	chunker     *Chunker
	batchSize   int64
	concurrency int
}

// NewConsumer constructs a Consumer for one artifact kind.
func NewConsumer(kind domain.ArtifactKind, staging StagingSource, embedder Embedder, writer HybridWriter, maxContextTokens int, concurrency int) *Consumer {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Consumer{
		kind:        kind,
		staging:     staging,
		embedder:    embedder,
		writer:      writer,
		chunker:     NewChunker(maxContextTokens),
		batchSize:   50,
		concurrency: concurrency,
	}
}

// Run drains the staging collection until ctx is canceled, sleeping
// emptyQueueBackoff whenever a pass finds nothing to do.
func (c *Consumer) Run(ctx domain.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed := c.runOnce(ctx)
		if processed == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(emptyQueueBackoff):
			}
		}
	}
}

func (c *Consumer) runOnce(ctx domain.Context) int {
	ctx, span := tracer.Start(ctx, "indexer.runOnce")
	defer span.End()
	span.SetAttributes(attribute.String("artifact.kind", string(c.kind)))

	artifacts, err := c.staging.FindNew(ctx, c.batchSize)
	if err != nil {
		slog.Error("indexer failed to list new artifacts", slog.String("kind", string(c.kind)), slog.Any("error", err))
		return 0
	}

	sem := make(chan struct{}, c.concurrency)
	done := make(chan struct{}, len(artifacts))
	for _, a := range artifacts {
		a := a
		sem <- struct{}{}
		go func() {
			defer func() { <-sem; done <- struct{}{} }()
			c.processOne(ctx, a)
		}()
	}
	for range artifacts {
		<-done
	}
	return len(artifacts)
}

func (c *Consumer) processOne(ctx domain.Context, a domain.Artifact) {
	ctx, span := tracer.Start(ctx, "indexer.processOne")
	defer span.End()
	span.SetAttributes(attribute.String("artifact.id", a.ID.Hex()), attribute.String("artifact.kind", string(a.Kind)))

	claimed, err := c.staging.ClaimForIndexing(ctx, a.ID)
	if err != nil {
		slog.Error("indexer claim failed", slog.String("artifact_id", a.ID.Hex()), slog.Any("error", err))
		return
	}
	if !claimed {
		// Lost the race to another worker (§4.8 step 2); not an error.
		return
	}

	stats, err := c.index(ctx, a)
	if err != nil {
		observability.ArtifactsIndexedTotal.WithLabelValues(string(a.Kind), "failed").Inc()
		if markErr := c.staging.MarkFailed(ctx, a.ID, err.Error()); markErr != nil {
			slog.Error("indexer failed to record failure", slog.String("artifact_id", a.ID.Hex()), slog.Any("error", markErr))
		}
		return
	}

	observability.ArtifactsIndexedTotal.WithLabelValues(string(a.Kind), "indexed").Inc()
	if err := c.staging.MarkIndexed(ctx, a.ID, stats); err != nil {
		slog.Error("indexer failed to record success", slog.String("artifact_id", a.ID.Hex()), slog.Any("error", err))
	}
}

func (c *Consumer) index(ctx domain.Context, a domain.Artifact) (domain.ChunkStats, error) {
	docs := documentsFor(a)
	modelKind := modelKindFor(a.Kind)

	var stats domain.ChunkStats
	stats.RelatedDocs = len(docs) - 1

	for _, doc := range docs {
		normalized := textnorm.Normalize(doc.Text, textnorm.Options{PreserveCode: a.Kind == domain.ArtifactGitCommit})
		if normalized == "" {
			continue
		}

		tokenCount, err := c.chunker.CountTokens(normalized)
		if err != nil {
			return stats, fmt.Errorf("op=indexer.index.countTokens: %w", err)
		}
		stats.TotalTokensEst += tokenCount

		pieces, err := c.chunker.Split(normalized)
		if err != nil {
			return stats, fmt.Errorf("op=indexer.index.split: %w", err)
		}

		for i, piece := range pieces {
			chunkID := fmt.Sprintf("%s:%s:%d", a.ID.Hex(), doc.ID, i)
			vector, err := c.embedder.Embed(ctx, string(modelKind), piece)
			if err != nil {
				return stats, fmt.Errorf("op=indexer.index.embed: %w", err)
			}
			chunk := Chunk{
				Collection: collectionFor(modelKind),
				ChunkID:    chunkID,
				ChunkOf:    doc.ID,
				ParentRef:  doc.ParentRef,
				Text:       piece,
				ClientID:   a.ClientID,
				ProjectID:  a.ProjectID,
				SourceType: string(a.Kind),
				SourceURI:  a.SourceKey,
				Language:   languageFor(a),
				Vector:     vector,
			}
			if err := c.writer.WriteChunk(ctx, chunk); err != nil {
				return stats, fmt.Errorf("op=indexer.index.write: %w", err)
			}
			stats.ChunkCount++
		}
	}
	return stats, nil
}

func modelKindFor(kind domain.ArtifactKind) ModelKind {
	if kind == domain.ArtifactGitCommit {
		return ModelKindCode
	}
	return ModelKindText
}

func collectionFor(kind ModelKind) string {
	if kind == ModelKindCode {
		return "SemanticCode"
	}
	return "SemanticText"
}

func languageFor(a domain.Artifact) string {
	if a.Kind != domain.ArtifactGitCommit {
		return ""
	}
	if lang, ok := a.FullContent["language"].(string); ok {
		return lang
	}
	return ""
}
