package relation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/OFFIS-RIT/biograph/pkg/common"
)

// Token is one node of a dependency parse. Start and End are byte offsets into the
// parsed text. Head is the index of the governing token, or -1 for the root.
type Token struct {
	Index int    `json:"i"`
	Text  string `json:"text"`
	Lemma string `json:"lemma"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Head  int    `json:"head"`
	Dep   string `json:"dep"`
}

// ParsedSentence is the dependency structure of one sentence.
type ParsedSentence struct {
	Start  int     `json:"start"`
	End    int     `json:"end"`
	Tokens []Token `json:"tokens"`
}

// Parser produces dependency structures. Implementations live outside the pipeline;
// a nil Parser or a failed parse leaves only the proximity strategy.
type Parser interface {
	Parse(ctx context.Context, text string) ([]ParsedSentence, error)
}

// HTTPParser calls a parsing service that accepts {"text": ...} and answers with
// {"sentences": [...]} in the shape of ParsedSentence.
type HTTPParser struct {
	endpoint string
	client   *http.Client
}

// NewHTTPParser returns a parser for endpoint. A nil client gets a 30s timeout.
func NewHTTPParser(endpoint string, client *http.Client) *HTTPParser {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPParser{endpoint: strings.TrimRight(endpoint, "/"), client: client}
}

type parseRequest struct {
	Text string `json:"text"`
}

type parseResponse struct {
	Sentences []ParsedSentence `json:"sentences"`
}

func (p *HTTPParser) Parse(ctx context.Context, text string) ([]ParsedSentence, error) {
	body, err := json.Marshal(parseRequest{Text: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/parse", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return nil, common.Transient("dependency parse", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		err := fmt.Errorf("parser returned %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
		if res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests {
			return nil, common.Transient("dependency parse", err)
		}
		return nil, err
	}

	var out parseResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode parse: %w", err)
	}
	return out.Sentences, nil
}
