package ingest

import (
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/firstaid-ai/firstaid-rag/engine/index"
	"github.com/google/uuid"
)

const (
	// DefaultWindowSize is the number of sentences kept on each side of a
	// node's own sentence in its window.
	DefaultWindowSize = 3
	// WindowMetadataKey holds the surrounding sentences of a node.
	WindowMetadataKey = "window"
	// OriginalTextMetadataKey holds the node's own sentence.
	OriginalTextMetadataKey = "original_text"
)

// splitSentences splits text into sentences using punctuation and newlines.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for i, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			// End of sentence only when followed by whitespace or the end.
			if r == '\n' || i == len(text)-1 || (i+1 < len(text) && unicode.IsSpace(rune(text[i+1]))) {
				s := strings.TrimSpace(current.String())
				if s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// windowNodes builds one node per sentence. Each node's metadata holds the
// sentence itself and a window made of up to size sentences on either side.
// Both keys are hidden from embedding and from the LLM, so the node is
// embedded as its single sentence.
func windowNodes(doc Document, sentences []string, size int) []index.Node {
	if size < 0 {
		size = 0
	}
	nodes := make([]index.Node, len(sentences))
	for i, s := range sentences {
		lo := max(0, i-size)
		hi := min(len(sentences), i+size+1)

		meta := make(map[string]any, len(doc.Metadata)+2)
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		meta[WindowMetadataKey] = strings.Join(sentences[lo:hi], " ")
		meta[OriginalTextMetadataKey] = s

		nodes[i] = index.Node{
			ID:                        nodeID(doc.ID, i),
			Text:                      s,
			Metadata:                  meta,
			ExcludedEmbedMetadataKeys: withWindowKeys(doc.ExcludedEmbedMetadataKeys),
			ExcludedLLMMetadataKeys:   withWindowKeys(doc.ExcludedLLMMetadataKeys),
		}
	}
	return nodes
}

// nodeID derives a stable UUID from the document id and sentence position,
// so re-ingesting a document overwrites its nodes.
func nodeID(docID string, i int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s-%d", docID, i))).String()
}

func withWindowKeys(keys []string) []string {
	out := make([]string, 0, len(keys)+2)
	out = append(out, keys...)
	for _, k := range []string{WindowMetadataKey, OriginalTextMetadataKey} {
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}

