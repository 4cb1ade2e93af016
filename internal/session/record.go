// Package session keeps the per-conversation turn history of the edit tool
// in the host's key value store.
package session

import (
	"github.com/InsulaLabs/txt2img/internal/imageref"
)

// TurnRecord is one instruction/response exchange.
type TurnRecord struct {
	DialogueCount   int      `json:"dialogue_count"`
	Instruction     string   `json:"instruction"`
	ImageURLs       []string `json:"image_urls"`
	ResponseContent *string  `json:"response_content,omitempty"`
}

// WithResponse returns a copy of r carrying content as its response.
func (r TurnRecord) WithResponse(content string) TurnRecord {
	r.ResponseContent = &content
	return r
}

// CandidateURLs lists the images a later turn may refer back to: the
// references the turn was made with, then the images its reply produced.
func (r TurnRecord) CandidateURLs() []string {
	urls := append([]string(nil), r.ImageURLs...)
	if r.ResponseContent != nil {
		urls = append(urls, imageref.MarkdownImages(*r.ResponseContent)...)
	}
	return imageref.Dedup(urls)
}

// History is the ordered turn list of one conversation. At most one record
// exists per dialogue count after any Upsert.
type History []TurnRecord

// Truncate drops records later than d, keeping order.
func (h History) Truncate(d int) History {
	out := make(History, 0, len(h))
	for _, r := range h {
		if r.DialogueCount <= d {
			out = append(out, r)
		}
	}
	return out
}

// Before returns the records strictly earlier than d.
func (h History) Before(d int) History {
	out := make(History, 0, len(h))
	for _, r := range h {
		if r.DialogueCount < d {
			out = append(out, r)
		}
	}
	return out
}

func (h History) Last() (TurnRecord, bool) {
	if len(h) == 0 {
		return TurnRecord{}, false
	}
	return h[len(h)-1], true
}

// Upsert replaces the record with the same dialogue count, or appends.
// The receiver is not modified.
func (h History) Upsert(rec TurnRecord) History {
	if rec.ImageURLs == nil {
		rec.ImageURLs = []string{}
	}
	out := make(History, len(h), len(h)+1)
	copy(out, h)
	for i := range out {
		if out[i].DialogueCount == rec.DialogueCount {
			out[i] = rec
			return out
		}
	}
	return append(out, rec)
}
