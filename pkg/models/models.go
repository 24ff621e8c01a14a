// Package models is the catalog of supported text-embedding models.
//
// EmbeddingModel is a closed enum; each variant resolves to its ModelSpec
// through Spec, so there is no separate table to keep in sync.
package models

import (
	"fmt"
	"path"
	"strings"

	fserrors "github.com/hyperjump/fastembed/pkg/errors"
)

// DefaultEndpoint is the artifact host used when none is configured.
const DefaultEndpoint = "https://huggingface.co"

// Pooling selects how per-token hidden states collapse into one vector.
type Pooling int

const (
	// PoolingMean averages hidden states over non-padding tokens.
	PoolingMean Pooling = iota
	// PoolingCLS takes the hidden state of the first token.
	PoolingCLS
)

// String returns the string representation of Pooling.
func (p Pooling) String() string {
	switch p {
	case PoolingMean:
		return "mean"
	case PoolingCLS:
		return "cls"
	default:
		return "unknown"
	}
}

// Tokenizer artifact files fetched next to every model's weights.
const (
	TokenizerFile         = "tokenizer.json"
	ConfigFile            = "config.json"
	SpecialTokensMapFile  = "special_tokens_map.json"
	TokenizerConfigFile   = "tokenizer_config.json"
	defaultMaxSeqLength   = 512
	longContextSeqLength  = 8192
	bgeEnglishQueryPrefix = "Represent this sentence for searching relevant passages: "
	bgeChineseQueryPrefix = "为这个句子生成表示以用于检索相关文章："
	e5QueryPrefix         = "query: "
	e5PassagePrefix       = "passage: "
	nomicQueryPrefix      = "search_query: "
	nomicPassagePrefix    = "search_document: "
)

// ModelSpec describes one catalog entry. It is immutable.
type ModelSpec struct {
	Model        EmbeddingModel
	Name         string   // Go enum name, e.g. "BGESmallENV15"
	ID           string   // model identifier, e.g. "BAAI/bge-small-en-v1.5"
	Repo         string   // repository holding the artifacts
	ModelFile    string   // weights path inside Repo
	ExtraFiles   []string // additional weight files (external data), paths inside Repo
	Description  string
	Dim          int
	MaxSeqLength int
	Pooling      Pooling
	Normalize    bool
	Quantized    bool
	// QueryPrefix and PassagePrefix are prepended by query/passage embedding helpers.
	QueryPrefix   string
	PassagePrefix string
}

// ArtifactFile is one remote file required to instantiate a model.
type ArtifactFile struct {
	Name string // local file name inside the cache entry
	URL  string
}

// CacheKey returns the directory name of this model inside a cache directory.
func (s ModelSpec) CacheKey() string {
	return strings.ReplaceAll(s.ID, "/", "--")
}

// WeightURL returns the remote URL of the weights file.
func (s ModelSpec) WeightURL(endpoint string) string {
	return resolveURL(endpoint, s.Repo, s.ModelFile)
}

// TokenizerURL returns the remote URL of tokenizer.json.
func (s ModelSpec) TokenizerURL(endpoint string) string {
	return resolveURL(endpoint, s.Repo, TokenizerFile)
}

// WeightFileName is the local name of the weights file inside the cache entry.
func (s ModelSpec) WeightFileName() string {
	return path.Base(s.ModelFile)
}

// Files lists every artifact of the model: weights first, then tokenizer files.
func (s ModelSpec) Files(endpoint string) []ArtifactFile {
	files := []ArtifactFile{{Name: s.WeightFileName(), URL: s.WeightURL(endpoint)}}
	for _, extra := range s.ExtraFiles {
		files = append(files, ArtifactFile{Name: path.Base(extra), URL: resolveURL(endpoint, s.Repo, extra)})
	}
	for _, name := range []string{TokenizerFile, ConfigFile, SpecialTokensMapFile, TokenizerConfigFile} {
		files = append(files, ArtifactFile{Name: name, URL: resolveURL(endpoint, s.Repo, name)})
	}
	return files
}

func resolveURL(endpoint, repo, file string) string {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return strings.TrimRight(endpoint, "/") + "/" + repo + "/resolve/main/" + file
}

// EmbeddingModel enumerates the supported catalog.
type EmbeddingModel int

const (
	// AllMiniLML6V2 is sentence-transformers/all-MiniLM-L6-v2.
	AllMiniLML6V2 EmbeddingModel = iota
	// AllMiniLML6V2Q is quantized sentence-transformers/all-MiniLM-L6-v2.
	AllMiniLML6V2Q
	// AllMiniLML12V2 is sentence-transformers/all-MiniLM-L12-v2.
	AllMiniLML12V2
	// AllMiniLML12V2Q is quantized sentence-transformers/all-MiniLM-L12-v2.
	AllMiniLML12V2Q
	// BGEBaseENV15 is BAAI/bge-base-en-v1.5.
	BGEBaseENV15
	// BGEBaseENV15Q is quantized BAAI/bge-base-en-v1.5.
	BGEBaseENV15Q
	// BGELargeENV15 is BAAI/bge-large-en-v1.5.
	BGELargeENV15
	// BGELargeENV15Q is quantized BAAI/bge-large-en-v1.5.
	BGELargeENV15Q
	// BGESmallENV15 is BAAI/bge-small-en-v1.5, the default model.
	BGESmallENV15
	// BGESmallENV15Q is quantized BAAI/bge-small-en-v1.5.
	BGESmallENV15Q
	// NomicEmbedTextV1 is nomic-ai/nomic-embed-text-v1.
	NomicEmbedTextV1
	// NomicEmbedTextV15 is nomic-ai/nomic-embed-text-v1.5.
	NomicEmbedTextV15
	// NomicEmbedTextV15Q is quantized nomic-ai/nomic-embed-text-v1.5.
	NomicEmbedTextV15Q
	// ParaphraseMLMiniLML12V2 is sentence-transformers/paraphrase-multilingual-MiniLM-L12-v2.
	ParaphraseMLMiniLML12V2
	// ParaphraseMLMiniLML12V2Q is quantized sentence-transformers/paraphrase-multilingual-MiniLM-L12-v2.
	ParaphraseMLMiniLML12V2Q
	// ParaphraseMLMpnetBaseV2 is sentence-transformers/paraphrase-multilingual-mpnet-base-v2.
	ParaphraseMLMpnetBaseV2
	// BGESmallZHV15 is BAAI/bge-small-zh-v1.5.
	BGESmallZHV15
	// MultilingualE5Small is intfloat/multilingual-e5-small.
	MultilingualE5Small
	// MultilingualE5Base is intfloat/multilingual-e5-base.
	MultilingualE5Base
	// MultilingualE5Large is intfloat/multilingual-e5-large.
	MultilingualE5Large
	// MxbaiEmbedLargeV1 is mixedbread-ai/mxbai-embed-large-v1.
	MxbaiEmbedLargeV1
	// MxbaiEmbedLargeV1Q is quantized mixedbread-ai/mxbai-embed-large-v1.
	MxbaiEmbedLargeV1Q
	// GTEBaseENV15 is Alibaba-NLP/gte-base-en-v1.5.
	GTEBaseENV15
	// GTEBaseENV15Q is quantized Alibaba-NLP/gte-base-en-v1.5.
	GTEBaseENV15Q
	// GTELargeENV15 is Alibaba-NLP/gte-large-en-v1.5.
	GTELargeENV15
	// GTELargeENV15Q is quantized Alibaba-NLP/gte-large-en-v1.5.
	GTELargeENV15Q

	numModels int = iota
)

// DefaultModel is the model used when none is configured.
const DefaultModel = BGESmallENV15

// Spec returns the catalog entry for m. It fails only for values outside the enum.
func (m EmbeddingModel) Spec() (ModelSpec, error) {
	var s ModelSpec
	switch m {
	case AllMiniLML6V2:
		s = mean("AllMiniLML6V2", "sentence-transformers/all-MiniLM-L6-v2", "Qdrant/all-MiniLM-L6-v2-onnx", "model.onnx", 384,
			"Sentence Transformer model, MiniLM-L6-v2")
	case AllMiniLML6V2Q:
		s = quantized(mean("AllMiniLML6V2Q", "sentence-transformers/all-MiniLM-L6-v2-q", "Xenova/all-MiniLM-L6-v2", "onnx/model_quantized.onnx", 384,
			"Quantized Sentence Transformer model, MiniLM-L6-v2"))
	case AllMiniLML12V2:
		s = mean("AllMiniLML12V2", "sentence-transformers/all-MiniLM-L12-v2", "Xenova/all-MiniLM-L12-v2", "onnx/model.onnx", 384,
			"Sentence Transformer model, MiniLM-L12-v2")
	case AllMiniLML12V2Q:
		s = quantized(mean("AllMiniLML12V2Q", "sentence-transformers/all-MiniLM-L12-v2-q", "Xenova/all-MiniLM-L12-v2", "onnx/model_quantized.onnx", 384,
			"Quantized Sentence Transformer model, MiniLM-L12-v2"))
	case BGEBaseENV15:
		s = withQuery(cls("BGEBaseENV15", "BAAI/bge-base-en-v1.5", "Xenova/bge-base-en-v1.5", "onnx/model.onnx", 768,
			"v1.5 release of the base English model"), bgeEnglishQueryPrefix)
	case BGEBaseENV15Q:
		s = withQuery(quantized(cls("BGEBaseENV15Q", "BAAI/bge-base-en-v1.5-q", "Qdrant/bge-base-en-v1.5-onnx-Q", "model_optimized.onnx", 768,
			"Quantized v1.5 release of the base English model")), bgeEnglishQueryPrefix)
	case BGELargeENV15:
		s = withQuery(cls("BGELargeENV15", "BAAI/bge-large-en-v1.5", "Xenova/bge-large-en-v1.5", "onnx/model.onnx", 1024,
			"v1.5 release of the large English model"), bgeEnglishQueryPrefix)
	case BGELargeENV15Q:
		s = withQuery(quantized(cls("BGELargeENV15Q", "BAAI/bge-large-en-v1.5-q", "Qdrant/bge-large-en-v1.5-onnx-Q", "model_optimized.onnx", 1024,
			"Quantized v1.5 release of the large English model")), bgeEnglishQueryPrefix)
	case BGESmallENV15:
		s = withQuery(cls("BGESmallENV15", "BAAI/bge-small-en-v1.5", "Xenova/bge-small-en-v1.5", "onnx/model.onnx", 384,
			"v1.5 release of the fast and default English model"), bgeEnglishQueryPrefix)
	case BGESmallENV15Q:
		s = withQuery(quantized(cls("BGESmallENV15Q", "BAAI/bge-small-en-v1.5-q", "Qdrant/bge-small-en-v1.5-onnx-Q", "model_optimized.onnx", 384,
			"Quantized v1.5 release of the fast and default English model")), bgeEnglishQueryPrefix)
	case NomicEmbedTextV1:
		s = nomic(mean("NomicEmbedTextV1", "nomic-ai/nomic-embed-text-v1", "nomic-ai/nomic-embed-text-v1", "onnx/model.onnx", 768,
			"8192 context length English model"))
	case NomicEmbedTextV15:
		s = nomic(mean("NomicEmbedTextV15", "nomic-ai/nomic-embed-text-v1.5", "nomic-ai/nomic-embed-text-v1.5", "onnx/model.onnx", 768,
			"v1.5 release of the 8192 context length English model"))
	case NomicEmbedTextV15Q:
		s = quantized(nomic(mean("NomicEmbedTextV15Q", "nomic-ai/nomic-embed-text-v1.5-q", "nomic-ai/nomic-embed-text-v1.5", "onnx/model_quantized.onnx", 768,
			"Quantized v1.5 release of the 8192 context length English model")))
	case ParaphraseMLMiniLML12V2:
		s = mean("ParaphraseMLMiniLML12V2", "sentence-transformers/paraphrase-multilingual-MiniLM-L12-v2", "Xenova/paraphrase-multilingual-MiniLM-L12-v2", "onnx/model.onnx", 384,
			"Multi-lingual model")
	case ParaphraseMLMiniLML12V2Q:
		s = quantized(mean("ParaphraseMLMiniLML12V2Q", "sentence-transformers/paraphrase-multilingual-MiniLM-L12-v2-q", "Xenova/paraphrase-multilingual-MiniLM-L12-v2", "onnx/model_quantized.onnx", 384,
			"Quantized Multi-lingual model"))
	case ParaphraseMLMpnetBaseV2:
		s = mean("ParaphraseMLMpnetBaseV2", "sentence-transformers/paraphrase-multilingual-mpnet-base-v2", "Xenova/paraphrase-multilingual-mpnet-base-v2", "onnx/model.onnx", 768,
			"Sentence-transformers model for tasks like clustering or semantic search")
	case BGESmallZHV15:
		s = withQuery(cls("BGESmallZHV15", "BAAI/bge-small-zh-v1.5", "Xenova/bge-small-zh-v1.5", "onnx/model.onnx", 512,
			"v1.5 release of the small Chinese model"), bgeChineseQueryPrefix)
	case MultilingualE5Small:
		s = e5(mean("MultilingualE5Small", "intfloat/multilingual-e5-small", "intfloat/multilingual-e5-small", "onnx/model.onnx", 384,
			"Small model of multilingual E5 Text Embeddings"))
	case MultilingualE5Base:
		s = e5(mean("MultilingualE5Base", "intfloat/multilingual-e5-base", "intfloat/multilingual-e5-base", "onnx/model.onnx", 768,
			"Base model of multilingual E5 Text Embeddings"))
	case MultilingualE5Large:
		s = e5(mean("MultilingualE5Large", "intfloat/multilingual-e5-large", "Qdrant/multilingual-e5-large-onnx", "model.onnx", 1024,
			"Large model of multilingual E5 Text Embeddings"))
		s.ExtraFiles = []string{"model.onnx_data"}
	case MxbaiEmbedLargeV1:
		s = withQuery(cls("MxbaiEmbedLargeV1", "mixedbread-ai/mxbai-embed-large-v1", "mixedbread-ai/mxbai-embed-large-v1", "onnx/model.onnx", 1024,
			"Large English embedding model from MixedBreed.ai"), bgeEnglishQueryPrefix)
	case MxbaiEmbedLargeV1Q:
		s = withQuery(quantized(cls("MxbaiEmbedLargeV1Q", "mixedbread-ai/mxbai-embed-large-v1-q", "mixedbread-ai/mxbai-embed-large-v1", "onnx/model_quantized.onnx", 1024,
			"Quantized Large English embedding model from MixedBreed.ai")), bgeEnglishQueryPrefix)
	case GTEBaseENV15:
		s = long(cls("GTEBaseENV15", "Alibaba-NLP/gte-base-en-v1.5", "Alibaba-NLP/gte-base-en-v1.5", "onnx/model.onnx", 768,
			"Large multilingual embedding model from Alibaba"))
	case GTEBaseENV15Q:
		s = quantized(long(cls("GTEBaseENV15Q", "Alibaba-NLP/gte-base-en-v1.5-q", "Alibaba-NLP/gte-base-en-v1.5", "onnx/model_quantized.onnx", 768,
			"Quantized Large multilingual embedding model from Alibaba")))
	case GTELargeENV15:
		s = long(cls("GTELargeENV15", "Alibaba-NLP/gte-large-en-v1.5", "Alibaba-NLP/gte-large-en-v1.5", "onnx/model.onnx", 1024,
			"Large multilingual embedding model from Alibaba"))
	case GTELargeENV15Q:
		s = quantized(long(cls("GTELargeENV15Q", "Alibaba-NLP/gte-large-en-v1.5-q", "Alibaba-NLP/gte-large-en-v1.5", "onnx/model_quantized.onnx", 1024,
			"Quantized Large multilingual embedding model from Alibaba")))
	default:
		return ModelSpec{}, fserrors.Configuration("models.spec", fmt.Errorf("unknown embedding model %d", int(m)))
	}
	s.Model = m
	return s, nil
}

// MustSpec is like Spec but panics on values outside the enum. Intended for
// package-level initialization of known constants.
func (m EmbeddingModel) MustSpec() ModelSpec {
	s, err := m.Spec()
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the Go enum name of m.
func (m EmbeddingModel) String() string {
	s, err := m.Spec()
	if err != nil {
		return fmt.Sprintf("EmbeddingModel(%d)", int(m))
	}
	return s.Name
}

// Valid reports whether m is part of the catalog.
func (m EmbeddingModel) Valid() bool {
	return m >= 0 && int(m) < numModels
}

// List returns every catalog entry in enum order.
func List() []ModelSpec {
	out := make([]ModelSpec, 0, numModels)
	for i := 0; i < numModels; i++ {
		out = append(out, EmbeddingModel(i).MustSpec())
	}
	return out
}

// Parse resolves a model by Go enum name ("BGESmallENV15") or identifier
// ("BAAI/bge-small-en-v1.5"), case-insensitively.
func Parse(name string) (EmbeddingModel, error) {
	want := strings.TrimSpace(name)
	if want == "" {
		return 0, fserrors.Configuration("models.parse", fmt.Errorf("empty model name"))
	}
	for _, s := range List() {
		if strings.EqualFold(s.Name, want) || strings.EqualFold(s.ID, want) {
			return s.Model, nil
		}
	}
	return 0, fserrors.Configuration("models.parse", fmt.Errorf("unsupported model %q", name))
}

func base(name, id, repo, file string, dim int, description string) ModelSpec {
	return ModelSpec{
		Name:         name,
		ID:           id,
		Repo:         repo,
		ModelFile:    file,
		Description:  description,
		Dim:          dim,
		MaxSeqLength: defaultMaxSeqLength,
		Normalize:    true,
	}
}

func mean(name, id, repo, file string, dim int, description string) ModelSpec {
	s := base(name, id, repo, file, dim, description)
	s.Pooling = PoolingMean
	return s
}

func cls(name, id, repo, file string, dim int, description string) ModelSpec {
	s := base(name, id, repo, file, dim, description)
	s.Pooling = PoolingCLS
	return s
}

func quantized(s ModelSpec) ModelSpec {
	s.Quantized = true
	return s
}

func long(s ModelSpec) ModelSpec {
	s.MaxSeqLength = longContextSeqLength
	return s
}

func withQuery(s ModelSpec, prefix string) ModelSpec {
	s.QueryPrefix = prefix
	return s
}

func e5(s ModelSpec) ModelSpec {
	s.QueryPrefix = e5QueryPrefix
	s.PassagePrefix = e5PassagePrefix
	return s
}

func nomic(s ModelSpec) ModelSpec {
	s = long(s)
	s.QueryPrefix = nomicQueryPrefix
	s.PassagePrefix = nomicPassagePrefix
	return s
}
