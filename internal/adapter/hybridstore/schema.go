package hybridstore

import "github.com/jervisai/jervis/internal/config"

// collectionNames are the two search-store collections named in §6.
const (
	CollectionSemanticText = "SemanticText"
	CollectionSemanticCode = "SemanticCode"
)

// property is one field of a collection's schema (§6 "properties include
// text, clientId, projectId, sourceType, sourceUri, branch, language,
// lineStart/lineEnd, chunkId, chunkOf, parentRef, plus source-specific
// metadata").
type property struct {
	Name     string `json:"name"`
	DataType []string `json:"dataType"`
}

// vectorIndexConfig mirrors Weaviate's HNSW tuning knobs (§4.11).
type vectorIndexConfig struct {
	Distance         string `json:"distance"`
	EF               int    `json:"ef"`
	EFConstruction   int    `json:"efConstruction"`
	MaxConnections   int    `json:"maxConnections"`
	FlatSearchCutoff int    `json:"flatSearchCutoff"`
	// Dimensions isn't a real Weaviate schema field (Weaviate infers
	// vector size from the first inserted object), but the manager needs
	// something to compare against to detect a dimension change before
	// any object is ever written, so it's tracked as schema metadata here.
	Dimensions int `json:"dimensions"`
}

// classSchema is one collection's desired shape, as sent to and read back
// from Weaviate's `/v1/schema/{class}` endpoint.
type classSchema struct {
	Class             string            `json:"class"`
	Vectorizer        string            `json:"vectorizer"`
	Properties        []property        `json:"properties"`
	VectorIndexConfig vectorIndexConfig `json:"vectorIndexConfig"`
}

var commonProperties = []property{
	{Name: "text", DataType: []string{"text"}},
	{Name: "clientId", DataType: []string{"text"}},
	{Name: "projectId", DataType: []string{"text"}},
	{Name: "sourceType", DataType: []string{"text"}},
	{Name: "sourceUri", DataType: []string{"text"}},
	{Name: "branch", DataType: []string{"text"}},
	{Name: "language", DataType: []string{"text"}},
	{Name: "lineStart", DataType: []string{"int"}},
	{Name: "lineEnd", DataType: []string{"int"}},
	{Name: "chunkId", DataType: []string{"text"}},
	{Name: "chunkOf", DataType: []string{"text"}},
	{Name: "parentRef", DataType: []string{"text"}},
}

// desiredSchemas computes the two collections' full desired shape from
// cfg (§4.11 step 1: "compute desired schema").
func desiredSchemas(cfg config.Config) []classSchema {
	vi := vectorIndexConfig{
		Distance:         cfg.WeaviateDistance,
		EF:               cfg.WeaviateEF,
		EFConstruction:   cfg.WeaviateEFConstruction,
		MaxConnections:   cfg.WeaviateMaxConnections,
		FlatSearchCutoff: cfg.WeaviateFlatSearchCutoff,
		Dimensions:       cfg.WeaviateVectorDims,
	}
	return []classSchema{
		{Class: CollectionSemanticText, Vectorizer: "none", Properties: commonProperties, VectorIndexConfig: vi},
		{Class: CollectionSemanticCode, Vectorizer: "none", Properties: commonProperties, VectorIndexConfig: vi},
	}
}

// incompatible reports whether current's vector shape differs from
// desired in a way that requires drop-and-recreate rather than an
// additive property migration (§4.11 step 2: "dimension change, distance
// change, HNSW parameter mismatch").
func incompatible(desired, current classSchema) bool {
	return desired.VectorIndexConfig.Distance != current.VectorIndexConfig.Distance ||
		desired.VectorIndexConfig.Dimensions != current.VectorIndexConfig.Dimensions ||
		desired.VectorIndexConfig.EFConstruction != current.VectorIndexConfig.EFConstruction ||
		desired.VectorIndexConfig.MaxConnections != current.VectorIndexConfig.MaxConnections
}

// missingProperties returns the properties desired has that current lacks.
func missingProperties(desired, current classSchema) []property {
	have := make(map[string]bool, len(current.Properties))
	for _, p := range current.Properties {
		have[p.Name] = true
	}
	var missing []property
	for _, p := range desired.Properties {
		if !have[p.Name] {
			missing = append(missing, p)
		}
	}
	return missing
}
