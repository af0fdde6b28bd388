package embedding

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Model files expected inside the model directory.
const (
	modelFile     = "model.onnx"
	tokenizerFile = "tokenizer.json"
)

// Config configures the local E5 encoder.
type Config struct {
	// ModelDir holds the ONNX export: model.onnx and tokenizer.json.
	ModelDir string

	// Name identifies the model for caching and logs,
	// e.g. "intfloat/multilingual-e5-base".
	Name string

	// Dimensions is the embedding vector size (default 768).
	Dimensions int

	// MaxSeqLen is the token sequence length (default 256).
	MaxSeqLen int

	// RuntimeLib optionally points at the onnxruntime shared library.
	RuntimeLib string

	// OfflineOnly requires model files to already exist on disk and is
	// validated before any model access. Loading never downloads either
	// way; the flag makes the failure mode explicit and early.
	OfflineOnly bool
}

// CheckLocalModel verifies the model files exist locally. Called before any
// model access so a missing export fails fast with an actionable message
// instead of an opaque runtime error.
func CheckLocalModel(dir string) error {
	for _, name := range []string{modelFile, tokenizerFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("embedding model file %s not found in %s — "+
				"export the model locally first (network downloads are disabled)", name, dir)
		}
	}
	return nil
}

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// initRuntime initializes the ONNX runtime environment once per process.
func initRuntime(lib string) error {
	ortInitOnce.Do(func() {
		if lib != "" {
			ort.SetSharedLibraryPath(lib)
		}
		if !ort.IsInitialized() {
			ortInitErr = ort.InitializeEnvironment()
		}
	})
	return ortInitErr
}

// E5 runs a local ONNX export of an E5 sentence encoder. Outputs are
// mean-pooled over attended tokens and unit-normalized.
type E5 struct {
	session   *ort.DynamicAdvancedSession
	tokenizer tokenizer
	dims      int
	maxSeqLen int
}

// NewE5 loads the encoder from cfg.ModelDir. The model must already be on
// disk; nothing is fetched.
func NewE5(cfg Config) (*E5, error) {
	if cfg.ModelDir == "" {
		return nil, fmt.Errorf("model directory is required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 768
	}
	if cfg.MaxSeqLen == 0 {
		cfg.MaxSeqLen = 256
	}

	if cfg.OfflineOnly {
		if err := CheckLocalModel(cfg.ModelDir); err != nil {
			return nil, err
		}
	}

	if err := initRuntime(cfg.RuntimeLib); err != nil {
		return nil, fmt.Errorf("failed to initialize onnxruntime: %w", err)
	}

	tokenizer, err := loadTokenizer(filepath.Join(cfg.ModelDir, tokenizerFile))
	if err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(
		filepath.Join(cfg.ModelDir, modelFile),
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create onnx session: %w", err)
	}

	return &E5{
		session:   session,
		tokenizer: tokenizer,
		dims:      cfg.Dimensions,
		maxSeqLen: cfg.MaxSeqLen,
	}, nil
}

// EmbedPassages encodes stored content with the "passage: " prefix.
func (e *E5) EmbedPassages(texts []string) ([][]float32, error) {
	return e.embed(texts, passagePrefix)
}

// EmbedQuery encodes search queries with the "query: " prefix.
func (e *E5) EmbedQuery(texts []string) ([][]float32, error) {
	return e.embed(texts, queryPrefix)
}

// Dimensions returns the embedding vector size.
func (e *E5) Dimensions() int {
	return e.dims
}

// Close releases the ONNX session.
func (e *E5) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}

// embed encodes one batch of prefixed texts through the model.
func (e *E5) embed(texts []string, prefix string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batch := len(texts)
	seqLen := e.maxSeqLen
	inputIDs := make([]int64, batch*seqLen)
	attentionMask := make([]int64, batch*seqLen)
	tokenTypeIDs := make([]int64, batch*seqLen)

	for i, text := range texts {
		tokens := e.tokenizer.tokenize(prefix + text)
		if len(tokens) > seqLen-2 { // reserve the framing tokens
			tokens = tokens[:seqLen-2]
		}

		base := i * seqLen
		inputIDs[base] = e.tokenizer.bosID()
		attentionMask[base] = 1
		for j, tok := range tokens {
			inputIDs[base+1+j] = tok
			attentionMask[base+1+j] = 1
		}
		end := base + 1 + len(tokens)
		inputIDs[end] = e.tokenizer.eosID()
		attentionMask[end] = 1
	}

	shape := ort.NewShape(int64(batch), int64(seqLen))
	idsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	typeTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	outputs := []ort.Value{nil} // auto-allocated by Run
	if err := e.session.Run([]ort.Value{idsTensor, maskTensor, typeTensor}, outputs); err != nil {
		return nil, fmt.Errorf("onnx inference failed: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	outTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}

	data := outTensor.GetData()
	outShape := outTensor.GetShape()

	vectors := make([][]float32, batch)
	switch len(outShape) {
	case 2: // already pooled: [batch, dims]
		if int(outShape[1]) != e.dims {
			return nil, fmt.Errorf("output dimension mismatch: got %d, expected %d", outShape[1], e.dims)
		}
		for i := 0; i < batch; i++ {
			vec := make([]float32, e.dims)
			copy(vec, data[i*e.dims:(i+1)*e.dims])
			vectors[i] = unitNormalize(vec)
		}
	case 3: // token states: [batch, seq, hidden] — mean-pool attended tokens
		hidden := int(outShape[2])
		if hidden != e.dims {
			return nil, fmt.Errorf("hidden size mismatch: got %d, expected %d", hidden, e.dims)
		}
		outSeq := int(outShape[1])
		for i := 0; i < batch; i++ {
			vec := make([]float32, e.dims)
			var attended float32
			for j := 0; j < outSeq && j < seqLen; j++ {
				if attentionMask[i*seqLen+j] == 0 {
					continue
				}
				attended++
				base := (i*outSeq + j) * hidden
				for k := 0; k < hidden; k++ {
					vec[k] += data[base+k]
				}
			}
			if attended > 0 {
				for k := range vec {
					vec[k] /= attended
				}
			}
			vectors[i] = unitNormalize(vec)
		}
	default:
		return nil, fmt.Errorf("unexpected output shape: %v", outShape)
	}

	return vectors, nil
}

// unitNormalize scales a vector to unit length in place.
func unitNormalize(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1.0 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
