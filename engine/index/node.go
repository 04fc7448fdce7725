package index

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// MetadataMode selects which metadata is rendered alongside node text.
type MetadataMode int

const (
	MetadataModeNone  MetadataMode = iota // text only
	MetadataModeLLM                       // metadata not excluded for the LLM
	MetadataModeEmbed                     // metadata not excluded for embedding
	MetadataModeAll                       // every metadata key
)

const (
	defaultTextTemplate      = "{metadata_str}\n\n{content}"
	defaultMetadataTemplate  = "{key}: {value}"
	defaultMetadataSeparator = "\n"
)

// Node is a text chunk stored in the index.
type Node struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`

	ExcludedEmbedMetadataKeys []string `json:"-"`
	ExcludedLLMMetadataKeys   []string `json:"-"`
	TextTemplate              string   `json:"-"`
	MetadataTemplate          string   `json:"-"`
	MetadataSeparator         string   `json:"-"`
}

// NodeWithScore is a retrieved node and its similarity to the query.
type NodeWithScore struct {
	Node  Node    `json:"node"`
	Score float64 `json:"score"`
}

// Clone returns a copy of n whose metadata map can be modified without
// touching n. Metadata values are shared.
func (n Node) Clone() Node {
	c := n
	if n.Metadata != nil {
		c.Metadata = make(map[string]any, len(n.Metadata))
		for k, v := range n.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// Content renders the node for the given audience. Metadata keys are
// emitted in sorted order.
func (n Node) Content(mode MetadataMode) string {
	meta := n.MetadataString(mode)
	if meta == "" {
		return n.Text
	}
	tmpl := n.TextTemplate
	if tmpl == "" {
		tmpl = defaultTextTemplate
	}
	return strings.NewReplacer("{metadata_str}", meta, "{content}", n.Text).Replace(tmpl)
}

// MetadataString renders the metadata visible in mode.
func (n Node) MetadataString(mode MetadataMode) string {
	if mode == MetadataModeNone || len(n.Metadata) == 0 {
		return ""
	}
	var excluded []string
	switch mode {
	case MetadataModeLLM:
		excluded = n.ExcludedLLMMetadataKeys
	case MetadataModeEmbed:
		excluded = n.ExcludedEmbedMetadataKeys
	}
	skip := make(map[string]bool, len(excluded))
	for _, k := range excluded {
		skip[k] = true
	}

	keys := make([]string, 0, len(n.Metadata))
	for k := range n.Metadata {
		if !skip[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	tmpl := n.MetadataTemplate
	if tmpl == "" {
		tmpl = defaultMetadataTemplate
	}
	sep := n.MetadataSeparator
	if sep == "" {
		sep = defaultMetadataSeparator
	}
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = strings.NewReplacer("{key}", k, "{value}", ValueString(n.Metadata[k])).Replace(tmpl)
	}
	return strings.Join(lines, sep)
}

// ValueString renders a metadata value as plain text.
func ValueString(v any) string {
	switch tv := v.(type) {
	case nil:
		return "None"
	case string:
		return tv
	case float64, float32, int, int64, bool:
		return fmt.Sprint(tv)
	default:
		b, err := json.Marshal(tv)
		if err != nil {
			return fmt.Sprint(tv)
		}
		return string(b)
	}
}

// nodeRecord is the serialized node layout written by the indexing
// pipeline, both in docstore.json and in the "_node_content" payload of
// remote vector stores.
type nodeRecord struct {
	ID                string         `json:"id_"`
	Text              string         `json:"text"`
	Metadata          map[string]any `json:"metadata"`
	ExcludedEmbed     []string       `json:"excluded_embed_metadata_keys"`
	ExcludedLLM       []string       `json:"excluded_llm_metadata_keys"`
	TextTemplate      string         `json:"text_template"`
	MetadataTemplate  string         `json:"metadata_template"`
	MetadataSeparator string         `json:"metadata_seperator"`
	ClassName         string         `json:"class_name,omitempty"`
}

func recordOf(n Node) nodeRecord {
	r := nodeRecord{
		ID:                n.ID,
		Text:              n.Text,
		Metadata:          n.Metadata,
		ExcludedEmbed:     n.ExcludedEmbedMetadataKeys,
		ExcludedLLM:       n.ExcludedLLMMetadataKeys,
		TextTemplate:      n.TextTemplate,
		MetadataTemplate:  n.MetadataTemplate,
		MetadataSeparator: n.MetadataSeparator,
		ClassName:         "TextNode",
	}
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	if r.ExcludedEmbed == nil {
		r.ExcludedEmbed = []string{}
	}
	if r.ExcludedLLM == nil {
		r.ExcludedLLM = []string{}
	}
	if r.TextTemplate == "" {
		r.TextTemplate = defaultTextTemplate
	}
	if r.MetadataTemplate == "" {
		r.MetadataTemplate = defaultMetadataTemplate
	}
	if r.MetadataSeparator == "" {
		r.MetadataSeparator = defaultMetadataSeparator
	}
	return r
}

func (r nodeRecord) node() Node {
	return Node{
		ID:                        r.ID,
		Text:                      r.Text,
		Metadata:                  r.Metadata,
		ExcludedEmbedMetadataKeys: r.ExcludedEmbed,
		ExcludedLLMMetadataKeys:   r.ExcludedLLM,
		TextTemplate:              r.TextTemplate,
		MetadataTemplate:          r.MetadataTemplate,
		MetadataSeparator:         r.MetadataSeparator,
	}
}

// decodeNested unmarshals raw into v, accepting either a JSON object or a
// JSON string that itself holds the object.
func decodeNested(raw json.RawMessage, v any) error {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		return json.Unmarshal([]byte(s), v)
	}
	return json.Unmarshal(raw, v)
}

// payload keys written by the indexing pipeline next to flattened metadata.
var reservedPayloadKeys = map[string]bool{
	"_node_content": true,
	"_node_type":    true,
	"doc_id":        true,
	"document_id":   true,
	"ref_doc_id":    true,
}

// nodeFromPayload rebuilds a node from a remote store's flat payload. The
// "_node_content" JSON wins when present; otherwise text comes from textKeys
// in order and the remaining non-reserved keys become metadata.
func nodeFromPayload(id string, payload map[string]any, textKeys ...string) (Node, error) {
	if raw, ok := payload["_node_content"].(string); ok && raw != "" {
		var rec nodeRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return Node{}, fmt.Errorf("decode _node_content for %s: %w", id, err)
		}
		n := rec.node()
		if n.ID == "" {
			n.ID = id
		}
		if n.Text == "" {
			n.Text = firstString(payload, textKeys)
		}
		return n, nil
	}

	text := firstString(payload, textKeys)
	skip := make(map[string]bool, len(textKeys))
	for _, k := range textKeys {
		skip[k] = true
	}
	meta := make(map[string]any)
	for k, v := range payload {
		if reservedPayloadKeys[k] || skip[k] {
			continue
		}
		meta[k] = v
	}
	return Node{ID: id, Text: text, Metadata: meta}, nil
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
