package hub

import (
	"fmt"
	"math"
	"strings"
)

// variantSuffixes marks repository names that are technical re-packagings of a
// main release (quantizations, format conversions, checkpoints). New uploads
// with these suffixes are recorded but not announced.
var variantSuffixes = []string{
	"-gguf", "-fp8", "-fp4", "-bf16", "-int4", "-int8",
	"-awq", "-gptq", "-nvfp4", "-onnx",
	"-base", "-pretrain", "-original",
	"-eagle", "-unquantized",
}

// IsVariantModel reports whether the model ID names a technical variant
// rather than a main release.
func IsVariantModel(modelID string) bool {
	name := modelID
	if _, after, found := strings.Cut(modelID, "/"); found {
		name = after
	}
	name = strings.ToLower(name)
	for _, suffix := range variantSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}

	return false
}

// ModelInfo is the structured representation of a hub model.
type ModelInfo struct {
	ID           string
	Author       string
	Name         string
	Downloads    int
	Likes        int
	Tags         []string
	PipelineTag  string
	LastModified string
	Private      bool
	LibraryName  string
	Safetensors  *SafetensorsInfo
}

// SafetensorsInfo carries the parameter histogram reported in model metadata.
type SafetensorsInfo struct {
	Parameters map[string]int64 `json:"parameters"`
	Total      int64            `json:"total"`
}

// apiModel mirrors the hub API JSON wire shape.
type apiModel struct {
	ModelID      string           `json:"modelId"`
	ID           string           `json:"id"`
	InternalID   string           `json:"_id"`
	Downloads    int              `json:"downloads"`
	Likes        int              `json:"likes"`
	Tags         []string         `json:"tags"`
	PipelineTag  string           `json:"pipeline_tag"`
	LastModified string           `json:"lastModified"`
	Private      bool             `json:"private"`
	LibraryName  string           `json:"library_name"`
	Safetensors  *SafetensorsInfo `json:"safetensors"`
}

// resolvedID prefers the human-readable model ID fields over the internal one.
func (m apiModel) resolvedID() string {
	if m.ModelID != "" {
		return m.ModelID
	}
	if m.ID != "" {
		return m.ID
	}

	return m.InternalID
}

// toModelInfo converts the wire shape into the domain type.
func (m apiModel) toModelInfo() ModelInfo {
	modelID := m.resolvedID()
	author, name, found := strings.Cut(modelID, "/")
	if !found {
		author, name = "", modelID
	}

	return ModelInfo{
		ID:           modelID,
		Author:       author,
		Name:         name,
		Downloads:    m.Downloads,
		Likes:        m.Likes,
		Tags:         m.Tags,
		PipelineTag:  m.PipelineTag,
		LastModified: m.LastModified,
		Private:      m.Private,
		LibraryName:  m.LibraryName,
		Safetensors:  m.Safetensors,
	}
}

// URL returns the model page on the hub.
func (m ModelInfo) URL() string {
	return "https://huggingface.co/" + m.ID
}

// UsefulTags filters out technical noise tags and returns at most limit of
// the informative ones.
func (m ModelInfo) UsefulTags(limit int) []string {
	skip := map[string]struct{}{
		"transformers": {},
		"pytorch":      {},
		"safetensors":  {},
	}
	if m.PipelineTag != "" {
		skip[m.PipelineTag] = struct{}{}
	}
	if m.LibraryName != "" {
		skip[m.LibraryName] = struct{}{}
	}

	useful := make([]string, 0, limit)
	for _, tag := range m.Tags {
		if strings.HasPrefix(tag, "license:") || strings.HasPrefix(tag, "arxiv:") {
			continue
		}
		if _, noisy := skip[tag]; noisy {
			continue
		}
		useful = append(useful, tag)
		if len(useful) == limit {
			break
		}
	}

	return useful
}

// ToContext formats model info as plain text suitable for prompt injection.
// When readme is non-empty it is appended as a model card section.
func (m ModelInfo) ToContext(readme string) string {
	var builder strings.Builder
	if readme != "" {
		fmt.Fprintf(&builder, "=== %s ===\n", m.ID)
	} else {
		fmt.Fprintf(&builder, "ID: %s\n", m.ID)
	}
	fmt.Fprintf(&builder, "URL: %s\n", m.URL())
	fmt.Fprintf(&builder, "Downloads: %d\n", m.Downloads)
	fmt.Fprintf(&builder, "Likes: %d", m.Likes)
	if m.PipelineTag != "" {
		fmt.Fprintf(&builder, "\nTask: %s", m.PipelineTag)
	}
	if m.LibraryName != "" {
		fmt.Fprintf(&builder, "\nLibrary: %s", m.LibraryName)
	}
	tagLimit := 10
	if readme != "" {
		tagLimit = 8
	}
	if useful := m.UsefulTags(tagLimit); len(useful) > 0 {
		fmt.Fprintf(&builder, "\nTags: %s", strings.Join(useful, ", "))
	}
	if readme == "" && len(m.LastModified) >= 10 {
		fmt.Fprintf(&builder, "\nLast modified: %s", m.LastModified[:10])
	}
	if readme != "" {
		builder.WriteString("\n\n--- README/Model Card ---\n")
		builder.WriteString(readme)
	}

	return builder.String()
}

// DeployEstimate is the GPU requirements calculation for serving a model.
type DeployEstimate struct {
	TotalParams int64
	WeightGB    float64
	TotalGB     float64
	Dtype       string
	H200Count   int
	L40SFits    bool
}

// bytesPerDtype maps safetensors dtype names to bytes per parameter. Unknown
// dtypes are assumed to be 2 bytes.
var bytesPerDtype = map[string]float64{
	"F64": 8, "I64": 8,
	"F32": 4, "I32": 4,
	"F16": 2, "BF16": 2, "I16": 2,
	"F8_E4M3": 1, "F8_E5M2": 1, "I8": 1, "U8": 1,
	"BOOL": 0.125,
}

const (
	// deployOverhead accounts for KV cache, activations, and CUDA context on
	// top of raw weight size.
	deployOverhead = 1.20
	h200VRAMGB     = 140
	l40sVRAMGB     = 48
)

// EstimateDeploy computes GPU requirements from safetensors metadata. It
// returns nil when the model carries no parameter histogram.
func EstimateDeploy(model ModelInfo) *DeployEstimate {
	if model.Safetensors == nil || len(model.Safetensors.Parameters) == 0 {
		return nil
	}

	var totalParams int64
	var weightBytes float64
	mainDtype := ""
	var mainCount int64
	for dtype, count := range model.Safetensors.Parameters {
		perParam, known := bytesPerDtype[dtype]
		if !known {
			perParam = 2
		}
		weightBytes += float64(count) * perParam
		totalParams += count
		if count > mainCount {
			mainCount, mainDtype = count, dtype
		}
	}
	if totalParams == 0 {
		return nil
	}

	weightGB := weightBytes / (1 << 30)
	totalGB := weightGB * deployOverhead

	return &DeployEstimate{
		TotalParams: totalParams,
		WeightGB:    weightGB,
		TotalGB:     totalGB,
		Dtype:       mainDtype,
		H200Count:   int(math.Ceil(totalGB / h200VRAMGB)),
		L40SFits:    totalGB <= l40sVRAMGB,
	}
}
