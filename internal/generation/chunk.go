package generation

import (
	"bytes"
	"encoding/json"
)

// DataPrefix opens every event unit on the wire.
const DataPrefix = "data:"

// StripPrefix removes the first five bytes of a unit, the length of
// DataPrefix. Shorter units yield nil.
func StripPrefix(chunk []byte) []byte {
	if len(chunk) < len(DataPrefix) {
		return nil
	}
	return chunk[len(DataPrefix):]
}

// Token is one generated token as reported by the backend.
type Token struct {
	ID      int     `json:"id"`
	Text    string  `json:"text"`
	Logprob float64 `json:"logprob"`
	Special bool    `json:"special"`
}

// Chunk mirrors the backend's per-token event payload.
type Chunk struct {
	Index         int             `json:"index"`
	Token         Token           `json:"token"`
	GeneratedText *string         `json:"generated_text"`
	Details       json.RawMessage `json:"details"`
}

var nullJSON = json.RawMessage("null")

// SyntheticChunk encodes text as a unit indistinguishable in shape from a
// backend token event, marked with index and token id -1.
func SyntheticChunk(text string) []byte {
	c := Chunk{
		Index:   -1,
		Token:   Token{ID: -1, Text: text},
		Details: nullJSON,
	}
	var buf bytes.Buffer
	buf.WriteString(DataPrefix)
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encode cannot fail for this fixed shape.
	_ = enc.Encode(c)
	buf.Truncate(buf.Len() - 1)
	buf.WriteString("\n\n")
	return buf.Bytes()
}
