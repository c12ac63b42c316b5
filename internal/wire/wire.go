// Package wire defines the HTTP sync protocol types shared by the server
// and the client adaptor.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Response headers carrying per-tiddler bookkeeping.
const (
	HeaderRevision = "x-revision-number"
	HeaderBagName  = "x-bag-name"
)

// TiddlerContentType signals the hybrid PUT body encoding: a JSON field
// object, a blank-line separator, then the bulk text payload verbatim.
// Carrying the text outside the JSON object avoids embedding huge or
// binary strings inside a structured payload.
const TiddlerContentType = "application/x-wikid-tiddler"

// EventName is the server-sent event name used by the push stream.
const EventName = "change"

// Change is one entry of a polling delta or one push event. Tiddler holds
// the full field map on push create/update events and is omitted from
// polling responses.
type Change struct {
	Title      string            `json:"title"`
	RevisionID int64             `json:"revision_id"`
	IsDeleted  bool              `json:"is_deleted"`
	BagName    string            `json:"bag_name"`
	Tiddler    map[string]string `json:"tiddler,omitempty"`
}

// Status is the response of the per-recipe status endpoint.
type Status struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username"`
	ReadOnly      bool   `json:"read_only"`
}

// SaveResult is the response of a save or delete.
type SaveResult struct {
	RevisionID int64  `json:"revision_id"`
	BagName    string `json:"bag_name"`
}

var bodySeparator = []byte("\n\n")

// EncodeTiddlerBody renders fields in the hybrid encoding: every field
// except "text" as a JSON object, then the separator, then the raw text.
func EncodeTiddlerBody(fields map[string]string) ([]byte, error) {
	head := make(map[string]string, len(fields))
	for k, v := range fields {
		if k != "text" {
			head[k] = v
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(head); err != nil {
		return nil, fmt.Errorf("encoding fields: %w", err)
	}
	// Encode appends a newline; one more yields the blank-line separator.
	buf.WriteByte('\n')
	buf.WriteString(fields["text"])
	return buf.Bytes(), nil
}

// DecodeTiddlerBody parses the hybrid encoding back into a field map.
// Everything after the first blank line is the text payload, taken
// verbatim; a body without a separator has no text.
func DecodeTiddlerBody(body []byte) (map[string]string, error) {
	head := body
	var text []byte
	if i := bytes.Index(body, bodySeparator); i >= 0 {
		head = body[:i]
		text = body[i+len(bodySeparator):]
	}

	fields := make(map[string]string)
	if len(bytes.TrimSpace(head)) > 0 {
		if err := json.Unmarshal(head, &fields); err != nil {
			return nil, fmt.Errorf("decoding fields: %w", err)
		}
	}
	if len(text) > 0 {
		fields["text"] = string(text)
	}
	return fields, nil
}
