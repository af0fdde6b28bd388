package embedding

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
)

// Fallback special-token ids for BERT-style WordPiece vocabularies. Real ids
// are read from tokenizer.json when present.
const (
	unkTokenID = 100 // [UNK]
	clsTokenID = 101 // [CLS]
	sepTokenID = 102 // [SEP]
)

// SentencePiece fallbacks (XLM-R family: <s>=0, </s>=2, <unk>=3).
const (
	spBosTokenID = 0
	spEosTokenID = 2
	spUnkTokenID = 3
)

// tokenizer converts text to model input ids. The framing ids differ across
// model families ([CLS]/[SEP] vs <s>/</s>), so the caller asks for them
// instead of assuming.
type tokenizer interface {
	tokenize(text string) []int64
	bosID() int64
	eosID() int64
}

// loadTokenizer reads a Hugging Face tokenizer.json export. Two model types
// are supported: WordPiece (BERT-style map vocabulary) and Unigram
// (SentencePiece pair-list vocabulary, used by the multilingual e5 family).
func loadTokenizer(path string) (tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tokenizer: %w", err)
	}

	var parsed struct {
		AddedTokens []struct {
			ID      int64  `json:"id"`
			Content string `json:"content"`
		} `json:"added_tokens"`
		Model struct {
			Type  string          `json:"type"`
			UnkID *int64          `json:"unk_id"`
			Vocab json.RawMessage `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse tokenizer: %w", err)
	}

	special := make(map[string]int64, len(parsed.AddedTokens))
	for _, at := range parsed.AddedTokens {
		special[at.Content] = at.ID
	}

	if parsed.Model.Type == "Unigram" {
		return newUnigramTokenizer(parsed.Model.Vocab, parsed.Model.UnkID, special)
	}
	return newWordpieceTokenizer(parsed.Model.Vocab, special)
}

func specialID(special map[string]int64, content string, fallback int64) int64 {
	if id, ok := special[content]; ok {
		return id
	}
	return fallback
}

// wordpieceTokenizer performs WordPiece tokenization against a BERT-style
// map vocabulary.
type wordpieceTokenizer struct {
	vocab map[string]int
	unk   int64
	bos   int64
	eos   int64
}

func newWordpieceTokenizer(rawVocab json.RawMessage, special map[string]int64) (*wordpieceTokenizer, error) {
	var vocab map[string]int
	if err := json.Unmarshal(rawVocab, &vocab); err != nil {
		return nil, fmt.Errorf("failed to parse wordpiece vocabulary: %w", err)
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("tokenizer vocabulary is empty")
	}

	t := &wordpieceTokenizer{
		vocab: vocab,
		unk:   specialID(special, "[UNK]", unkTokenID),
		bos:   specialID(special, "[CLS]", clsTokenID),
		eos:   specialID(special, "[SEP]", sepTokenID),
	}
	if id, ok := vocab["[UNK]"]; ok {
		t.unk = int64(id)
	}
	return t, nil
}

func (t *wordpieceTokenizer) bosID() int64 { return t.bos }
func (t *wordpieceTokenizer) eosID() int64 { return t.eos }

// tokenize converts text to token ids. Unknown pieces map to [UNK]; the
// framing tokens are added by the caller.
func (t *wordpieceTokenizer) tokenize(text string) []int64 {
	var ids []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]")
		if word == "" {
			continue
		}

		if id, ok := t.vocab[word]; ok {
			ids = append(ids, int64(id))
			continue
		}

		for _, piece := range t.wordpieces(word) {
			if id, ok := t.vocab[piece]; ok {
				ids = append(ids, int64(id))
			} else {
				ids = append(ids, t.unk)
			}
		}
	}
	return ids
}

// wordpieces splits a word into the longest matching vocabulary pieces,
// using the "##" continuation prefix for non-initial pieces. A character
// with no match consumes one rune as [UNK], never a byte fragment.
func (t *wordpieceTokenizer) wordpieces(word string) []string {
	runes := []rune(word)
	var pieces []string
	start := 0
	for start < len(runes) {
		end := len(runes)
		matched := false
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if _, ok := t.vocab[piece]; ok {
				pieces = append(pieces, piece)
				start = end
				matched = true
				break
			}
			end--
		}
		if !matched {
			pieces = append(pieces, "[UNK]")
			start++
		}
	}
	return pieces
}

// unigramTokenizer performs SentencePiece Unigram tokenization: pieces carry
// log probabilities and the segmentation maximizing the total score wins.
// This is the vocabulary format of the XLM-R tokenizer that the multilingual
// e5 models ship.
type unigramTokenizer struct {
	vocab  map[string]int64
	scores map[string]float64
	maxLen int // longest piece, in runes
	unk    int64
	bos    int64
	eos    int64
}

// unkPieceScore sits below any real piece score so known pieces always win.
const unkPieceScore = -100.0

func newUnigramTokenizer(rawVocab json.RawMessage, unkID *int64, special map[string]int64) (*unigramTokenizer, error) {
	var pairs [][]any
	if err := json.Unmarshal(rawVocab, &pairs); err != nil {
		return nil, fmt.Errorf("failed to parse unigram vocabulary: %w", err)
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("tokenizer vocabulary is empty")
	}

	t := &unigramTokenizer{
		vocab:  make(map[string]int64, len(pairs)),
		scores: make(map[string]float64, len(pairs)),
		bos:    specialID(special, "<s>", spBosTokenID),
		eos:    specialID(special, "</s>", spEosTokenID),
	}
	for id, pair := range pairs {
		if len(pair) != 2 {
			return nil, fmt.Errorf("malformed vocabulary entry %d", id)
		}
		piece, okPiece := pair[0].(string)
		score, okScore := pair[1].(float64)
		if !okPiece || !okScore {
			return nil, fmt.Errorf("malformed vocabulary entry %d", id)
		}
		t.vocab[piece] = int64(id)
		t.scores[piece] = score
		if n := len([]rune(piece)); n > t.maxLen {
			t.maxLen = n
		}
	}

	if unkID != nil {
		t.unk = *unkID
	} else {
		t.unk = specialID(special, "<unk>", spUnkTokenID)
	}
	return t, nil
}

func (t *unigramTokenizer) bosID() int64 { return t.bos }
func (t *unigramTokenizer) eosID() int64 { return t.eos }

// tokenize segments text with Viterbi over rune boundaries. Word starts are
// marked with the SentencePiece "▁" boundary marker; a rune covered by no
// piece at all becomes one <unk>, never one per byte.
func (t *unigramTokenizer) tokenize(text string) []int64 {
	text = "▁" + strings.Join(strings.Fields(text), "▁")
	runes := []rune(text)
	n := len(runes)

	type arc struct {
		score float64
		prev  int
		id    int64
	}
	best := make([]arc, n+1)
	for i := 1; i <= n; i++ {
		best[i].score = math.Inf(-1)
	}

	for i := 0; i < n; i++ {
		if math.IsInf(best[i].score, -1) {
			continue
		}
		limit := i + t.maxLen
		if limit > n {
			limit = n
		}
		for j := i + 1; j <= limit; j++ {
			piece := string(runes[i:j])
			if id, ok := t.vocab[piece]; ok {
				if sc := best[i].score + t.scores[piece]; sc > best[j].score {
					best[j] = arc{score: sc, prev: i, id: id}
				}
			} else if j == i+1 {
				if sc := best[i].score + unkPieceScore; sc > best[j].score {
					best[j] = arc{score: sc, prev: i, id: t.unk}
				}
			}
		}
	}

	var ids []int64
	for j := n; j > 0; j = best[j].prev {
		ids = append(ids, best[j].id)
	}
	for l, r := 0, len(ids)-1; l < r; l, r = l+1, r-1 {
		ids[l], ids[r] = ids[r], ids[l]
	}
	return ids
}
