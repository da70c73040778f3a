package plugin

import (
	"bytes"
	"encoding/json"

	"github.com/zero-day-ai/xresdump/datasource"
)

// HeadJSON renders a block header. Data sources are sorted by (file, sheet)
// and carry a count only when it is positive.
func HeadJSON(h *datasource.Block) map[string]any {
	sources := make([]any, 0, len(h.DataSource))
	for _, s := range h.SortedDataSource() {
		d := map[string]any{
			"file":  s.Item.File,
			"sheet": s.Item.Sheet,
		}
		if s.Count > 0 {
			d["count"] = s.Count
		}
		sources = append(sources, d)
	}

	return map[string]any{
		"xres_ver":    h.XresVer,
		"data_ver":    h.DataVer,
		"file_path":   h.FilePath,
		"count":       h.Count,
		"hash_code":   h.HashCode,
		"description": h.Description,
		"data_source": sources,
	}
}

func sourcesJSON(items []*datasource.Item) map[string]any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]any{"file": it.File, "sheet": it.Sheet})
	}
	return map[string]any{"source": out}
}

func blockJSON(b *Block, ordered bool) map[string]any {
	doc := map[string]any{"head": HeadJSON(b.Header)}

	if ordered {
		body := make([]any, 0, len(b.Body))
		for _, v := range b.Values() {
			body = append(body, map[string]any{v: sourcesJSON(b.Body[v].Sorted())})
		}
		doc["body"] = body
		return doc
	}

	body := make(map[string]any, len(b.Body))
	for v, s := range b.Body {
		body[v] = sourcesJSON(s.Items())
	}
	doc["body"] = body
	return doc
}

// Encode marshals v as JSON without HTML escaping, indented by two spaces
// when pretty is set. Map keys are emitted in sorted order.
func Encode(v any, pretty bool) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
