// Package grounding extracts retrieval evidence from raw provider responses.
// Grounding is attested by response artifacts only; request echoes are never
// trusted.
package grounding

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"

	"github.com/contestra/ai-ranker/llm"
)

// Evidence is what a provider response proves about web retrieval.
type Evidence struct {
	Grounded  bool
	ToolCalls int
	Citations []llm.Citation
	Queries   []string
}

// FromResponsesOutput reads an OpenAI Responses API body and collects
// web_search_call items and url_citation annotations. It is idempotent over
// the same body.
func FromResponsesOutput(body []byte) (*Evidence, error) {
	ev := &Evidence{}

	root := gjson.ParseBytes(body)
	for _, item := range root.Get("output").Array() {
		switch item.Get("type").String() {
		case "web_search_call":
			ev.ToolCalls++

			if q := item.Get("action.query").String(); q != "" {
				ev.Queries = append(ev.Queries, q)
			}
		case "message":
			for _, content := range item.Get("content").Array() {
				for _, ann := range content.Get("annotations").Array() {
					if ann.Get("type").String() != "url_citation" {
						continue
					}

					ev.Citations = append(ev.Citations, llm.Citation{
						URI:    ann.Get("url").String(),
						Title:  ann.Get("title").String(),
						Source: llm.CitationSourceWebSearch,
					})
				}
			}
		}
	}

	finish(ev)

	return ev, nil
}

// FromVertexCandidate reads a Gemini candidate object and collects grounding
// metadata. Both snake_case and camelCase field spellings occur in the wild,
// so both are read.
func FromVertexCandidate(candidate []byte) (*Evidence, error) {
	ev := &Evidence{}

	root := gjson.ParseBytes(candidate)

	meta := firstExisting(root, "groundingMetadata", "grounding_metadata")
	if !meta.Exists() {
		finish(ev)
		return ev, nil
	}

	queries := firstExisting(meta, "webSearchQueries", "web_search_queries")
	for _, q := range queries.Array() {
		if s := q.String(); s != "" {
			ev.Queries = append(ev.Queries, s)
		}
	}

	chunks := firstExisting(meta, "groundingChunks", "grounding_chunks")
	for _, chunk := range chunks.Array() {
		citation, err := normalizeChunk(chunk)
		if err != nil {
			return nil, &llm.Error{
				Kind:     llm.KindExtractorShapeViolation,
				Provider: llm.ProviderVertex,
				Message:  err.Error(),
			}
		}

		if citation != nil {
			ev.Citations = append(ev.Citations, *citation)
		}
	}

	finish(ev)

	// Queries are the best proxy for search invocations on Gemini; fall back
	// to distinct citations when the metadata omits them.
	ev.ToolCalls = len(ev.Queries)
	if ev.ToolCalls == 0 {
		ev.ToolCalls = len(ev.Citations)
	}

	return ev, nil
}

// normalizeChunk accepts the chunk shapes Gemini has been observed to emit: a
// {web: {uri, title}} object, a flat {uri, title} or {url} object, a bare URI
// string, or a JSON-encoded string of any of those. Anything else is a shape
// violation.
func normalizeChunk(chunk gjson.Result) (*llm.Citation, error) {
	switch chunk.Type {
	case gjson.String:
		s := strings.TrimSpace(chunk.String())
		if s == "" {
			return nil, nil
		}

		if strings.HasPrefix(s, "{") {
			var decoded map[string]any
			if err := json.Unmarshal([]byte(s), &decoded); err != nil {
				return nil, fmt.Errorf("grounding chunk is a malformed JSON string: %w", err)
			}

			return normalizeChunk(gjson.Parse(s))
		}

		return &llm.Citation{URI: s, Source: llm.CitationSourceWebSearch}, nil
	case gjson.JSON:
		if !chunk.IsObject() {
			return nil, fmt.Errorf("grounding chunk is %s, want object or string", chunk.Type)
		}

		web := firstExisting(chunk, "web", "retrievedContext", "retrieved_context")
		if web.Exists() {
			chunk = web
		}

		uri := firstExisting(chunk, "uri", "url").String()
		if uri == "" {
			return nil, fmt.Errorf("grounding chunk has no uri: %s", chunk.Raw)
		}

		return &llm.Citation{
			URI:    uri,
			Title:  chunk.Get("title").String(),
			Source: llm.CitationSourceWebSearch,
		}, nil
	default:
		return nil, fmt.Errorf("grounding chunk is %s, want object or string", chunk.Type)
	}
}

func firstExisting(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() {
			return v
		}
	}

	return gjson.Result{}
}

func finish(ev *Evidence) {
	ev.Citations = lo.UniqBy(ev.Citations, func(c llm.Citation) string { return c.URI })
	if ev.Citations == nil {
		ev.Citations = []llm.Citation{}
	}

	ev.Grounded = len(ev.Citations) > 0 || len(ev.Queries) > 0 || ev.ToolCalls > 0
}
