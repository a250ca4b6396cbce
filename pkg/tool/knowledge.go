package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dataworks-io/sqlgate/pkg/apierr"
	"github.com/dataworks-io/sqlgate/pkg/models"
)

// KnowledgeArgs are the JSON arguments for the knowledge tool, spec.md §4.6.
type KnowledgeArgs struct {
	Query string `json:"query"`
	Mode  string `json:"mode,omitempty"`
	TopK  int    `json:"top_k,omitempty"`
}

// KnowledgeRecorder receives telemetry for one knowledge tool invocation.
type KnowledgeRecorder interface {
	RecordKnowledgeQuery(ctx context.Context, entry models.KnowledgeGraphLog)
}

// KnowledgeTool implements C6: a single external POST to a semantic
// retrieval endpoint, grounded on original_source/tools/search_knowledge_tool.py's
// {query, mode, top_k} payload and response-field extraction.
type KnowledgeTool struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	recorder KnowledgeRecorder
}

const (
	defaultKnowledgeMode    = "mix"
	defaultKnowledgeTimeout = 30 * time.Second
)

// NewKnowledgeTool constructs a KnowledgeTool. recorder may be nil to
// disable telemetry.
func NewKnowledgeTool(baseURL, apiKey string, recorder KnowledgeRecorder) *KnowledgeTool {
	return &KnowledgeTool{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: defaultKnowledgeTimeout},
		recorder: recorder,
	}
}

func (t *KnowledgeTool) Name() string        { return "search_knowledge" }
func (t *KnowledgeTool) Class() Class        { return models.ToolClassKnowledge }
func (t *KnowledgeTool) Description() string {
	return "Searches the semantic knowledge base for background context relevant to the user's question."
}

// Invoke implements Tool.
func (t *KnowledgeTool) Invoke(ctx context.Context, raw json.RawMessage) (Envelope, error) {
	var args KnowledgeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return Failure(int(apierr.CodeInvalidParams), apierr.CodeInvalidParams.Name(), "malformed arguments"), nil
	}
	if strings.TrimSpace(args.Query) == "" {
		return Failure(int(apierr.CodeInvalidParams), apierr.CodeInvalidParams.Name(), "query must not be empty"), nil
	}
	if args.Mode == "" {
		args.Mode = defaultKnowledgeMode
	}
	if args.TopK <= 0 {
		args.TopK = 5
	}

	start := time.Now()
	text, status, err := t.search(ctx, args)
	durationMS := time.Since(start).Milliseconds()

	t.record(ctx, args, status, durationMS)

	if err != nil {
		return Failure(int(apierr.CodeUnknown), apierr.CodeUnknown.Name(), err.Error()), nil
	}
	return SuccessText(text), nil
}

func (t *KnowledgeTool) search(ctx context.Context, args KnowledgeArgs) (string, string, error) {
	if t.baseURL == "" {
		return "", "error", fmt.Errorf("knowledge retrieval endpoint is not configured")
	}

	payload, err := json.Marshal(map[string]any{
		"query": args.Query,
		"mode":  args.Mode,
		"top_k": args.TopK,
	})
	if err != nil {
		return "", "error", fmt.Errorf("encode knowledge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(payload))
	if err != nil {
		return "", "error", fmt.Errorf("build knowledge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", "error", fmt.Errorf("knowledge endpoint request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "error", fmt.Errorf("read knowledge response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "error", fmt.Errorf("knowledge endpoint returned status %d: %s", resp.StatusCode, truncate(string(body), 500))
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return string(body), "success", nil
	}

	if v, ok := decoded["response"]; ok {
		return stringify(v), "success", nil
	}
	if v, ok := decoded["result"]; ok {
		return stringify(v), "success", nil
	}
	return string(body), "success", nil
}

func (t *KnowledgeTool) record(ctx context.Context, args KnowledgeArgs, status string, durationMS int64) {
	if t.recorder == nil {
		return
	}
	t.recorder.RecordKnowledgeQuery(ctx, models.KnowledgeGraphLog{
		Query:      args.Query,
		Mode:       args.Mode,
		TopK:       args.TopK,
		Status:     status,
		DurationMS: durationMS,
		CreatedAt:  time.Now(),
	})
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
