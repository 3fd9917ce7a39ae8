package annotate

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/biograph/internal/util"
	"github.com/OFFIS-RIT/biograph/pkg/ai"
	"github.com/OFFIS-RIT/biograph/pkg/common"
	"github.com/OFFIS-RIT/biograph/pkg/logger"
	"github.com/OFFIS-RIT/biograph/pkg/text"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultLLMConfidence is the confidence given to model mentions. It must not fall below
// the deduplication threshold or every model mention is filtered out.
const DefaultLLMConfidence = 0.80

const defaultChunkTokens = 1500

const systemPrompt = `You annotate biomedical text for a knowledge graph.
Use one of these types: GENE, PROTEIN, ORGANISM, TISSUE, CELL_TYPE, DISEASE, PHENOTYPE, STRESSOR, METABOLITE, INTERVENTION.
Copy each entity exactly as it appears in the text, including case and punctuation.
Report an entity once per occurrence, in reading order.`

const extractionPrompt = `List every biomedical entity mentioned in the text below.

Text:
%s`

type llmMention struct {
	Text string `json:"text" jsonschema:"description=Entity literal exactly as written in the text"`
	Type string `json:"type" jsonschema:"enum=GENE,enum=PROTEIN,enum=ORGANISM,enum=TISSUE,enum=CELL_TYPE,enum=DISEASE,enum=PHENOTYPE,enum=STRESSOR,enum=METABOLITE,enum=INTERVENTION"`
}

type llmResponse struct {
	Mentions []llmMention `json:"mentions"`
}

// LLMAnnotatorParams configures NewLLMAnnotator.
type LLMAnnotatorParams struct {
	Client ai.StructuredClient
	Model  string
	// ChunkTokens bounds the text sent per request.
	ChunkTokens int
	Confidence  float64
	Backoff     util.Backoff
	// Thinking is passed to reasoning models as-is, e.g. "low".
	Thinking string
}

// LLMAnnotator asks a language model for entity literals and maps them back onto offsets.
type LLMAnnotator struct {
	client      ai.StructuredClient
	model       string
	chunkTokens int
	confidence  float64
	backoff     util.Backoff
	thinking    string
	countTokens func(string) int
	log         logger.Component
}

// NewLLMAnnotator creates a model based annotator.
func NewLLMAnnotator(params LLMAnnotatorParams) *LLMAnnotator {
	a := &LLMAnnotator{
		client:      params.Client,
		model:       params.Model,
		chunkTokens: params.ChunkTokens,
		confidence:  params.Confidence,
		backoff:     params.Backoff,
		thinking:    params.Thinking,
		countTokens: tokenCounter(),
		log:         logger.With("LLMAnnotator"),
	}
	if a.chunkTokens <= 0 {
		a.chunkTokens = defaultChunkTokens
	}
	if a.confidence <= 0 || a.confidence > 1 {
		a.confidence = DefaultLLMConfidence
	}
	if a.backoff.MaxAttempts == 0 {
		a.backoff = util.DefaultBackoff
	}
	return a
}

// tokenCounter uses the o200k tokenizer, or an estimate of four bytes per token when the
// encoding cannot be loaded.
func tokenCounter() func(string) int {
	enc, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		return func(s string) int { return len(s)/4 + 1 }
	}
	return func(s string) int { return len(enc.Encode(s, nil, nil)) }
}

func (a *LLMAnnotator) Name() string { return "llm" }

func (a *LLMAnnotator) Annotate(ctx context.Context, doc string) ([]common.Mention, error) {
	var out []common.Mention
	for _, chunk := range chunkText(doc, a.chunkTokens, a.countTokens) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, attempts, err := util.RetryWithBackoff(ctx, a.backoff, common.IsTransient,
			func(ctx context.Context) (llmResponse, error) {
				var resp llmResponse
				opts := []ai.GenerateOption{ai.WithSystemPrompts(systemPrompt), ai.WithTemperature(0)}
				if a.model != "" {
					opts = append(opts, ai.WithModel(a.model))
				}
				if a.thinking != "" {
					opts = append(opts, ai.WithThinking(a.thinking))
				}
				err := a.client.GenerateCompletionWithFormat(ctx, "mentions",
					"Biomedical entity mentions", fmt.Sprintf(extractionPrompt, doc[chunk.Start:chunk.End]), &resp, opts...)
				return resp, err
			})
		if err != nil {
			return nil, fmt.Errorf("chunk [%d,%d) after %d attempts: %w", chunk.Start, chunk.End, attempts, err)
		}
		found, dropped := a.locate(doc, chunk, resp.Mentions)
		if dropped > 0 {
			a.log.Debug("Discarded literals not found in text", "count", dropped, "chunk_start", chunk.Start)
		}
		out = append(out, found...)
	}
	return out, nil
}

// locate maps literals onto successive occurrences inside chunk. Literals that cannot be
// found or that carry an unknown type are discarded.
func (a *LLMAnnotator) locate(doc string, chunk text.Span, items []llmMention) ([]common.Mention, int) {
	cursor := map[string]int{}
	dropped := 0
	var out []common.Mention
	for _, it := range items {
		lit := strings.TrimSpace(it.Text)
		typ, ok := common.ParseEntityType(it.Type)
		if lit == "" || !ok {
			dropped++
			continue
		}
		from := chunk.Start
		if c, ok := cursor[lit]; ok {
			from = c
		}
		idx := strings.Index(doc[from:chunk.End], lit)
		if idx < 0 {
			dropped++
			continue
		}
		start := from + idx
		end := start + len(lit)
		cursor[lit] = end
		out = append(out, common.Mention{
			Type:       typ,
			Text:       lit,
			Start:      start,
			End:        end,
			Confidence: a.confidence,
			Annotator:  a.Name(),
		})
	}
	return out, dropped
}

// chunkText packs whole sentences into spans of at most budget tokens. A sentence longer
// than the budget becomes a chunk of its own.
func chunkText(doc string, budget int, count func(string) int) []text.Span {
	sentences := text.Sentences(doc)
	if len(sentences) == 0 {
		return nil
	}
	var chunks []text.Span
	cur := sentences[0]
	curTokens := count(doc[cur.Start:cur.End])
	for _, s := range sentences[1:] {
		n := count(doc[s.Start:s.End])
		if curTokens+n > budget {
			chunks = append(chunks, cur)
			cur, curTokens = s, n
			continue
		}
		cur.End = s.End
		curTokens += n
	}
	return append(chunks, cur)
}
