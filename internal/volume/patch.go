// Package volume implements the per-volume actor: patch dispatch over a
// tiered file store, text sessions, and commit-ordered change broadcast.
package volume

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/fruitsalade/volumefs/internal/crdt"
)

// PatchKind discriminates the three patch families.
type PatchKind int

const (
	// KindInvalid marks a patch that matched no classification predicate.
	// It is reported as a rejected result, not a request error.
	KindInvalid PatchKind = iota
	KindJSON
	KindTextSet
	KindTextPatch
)

// String returns the metric label for the kind.
func (k PatchKind) String() string {
	switch k {
	case KindJSON:
		return "json"
	case KindTextSet:
		return "text_set"
	case KindTextPatch:
		return "text_patch"
	default:
		return "invalid"
	}
}

// FilePatch is one mutation in a PATCH batch. Exactly one family's fields
// are populated, selected by Kind.
type FilePatch struct {
	Path string
	Kind PatchKind

	// KindJSON: an RFC 6902 operation sequence.
	JSONOps []json.RawMessage

	// KindTextSet: the replacement content; nil means create-empty.
	Content *string

	// KindTextPatch: the session base and positional operations.
	SessionTimestamp int64
	Operations       []TextOp
}

// TextOp is a wire-level positional edit: an insert when Text is present, a
// delete when Length is present.
type TextOp struct {
	At     int     `json:"at"`
	Text   *string `json:"text,omitempty"`
	Length *int    `json:"length,omitempty"`
}

// UnmarshalJSON classifies a patch by shape: `patches` present → JSON patch;
// else `content` present (including null) → text set; else `timestamp`
// present with an `operations` array → text patch. Anything else is
// KindInvalid.
func (p *FilePatch) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode patch: %w", err)
	}

	if raw, ok := fields["path"]; ok {
		if err := json.Unmarshal(raw, &p.Path); err != nil {
			return fmt.Errorf("decode patch path: %w", err)
		}
	}

	switch {
	case hasField(fields, "patches"):
		p.Kind = KindJSON
		if err := json.Unmarshal(fields["patches"], &p.JSONOps); err != nil {
			p.Kind = KindInvalid
		}

	case hasField(fields, "content"):
		p.Kind = KindTextSet
		if !isJSONNull(fields["content"]) {
			var s string
			if err := json.Unmarshal(fields["content"], &s); err != nil {
				p.Kind = KindInvalid
				return nil
			}
			p.Content = &s
		}

	case hasField(fields, "timestamp") && isJSONArray(fields["operations"]):
		p.Kind = KindTextPatch
		if err := json.Unmarshal(fields["timestamp"], &p.SessionTimestamp); err != nil {
			p.Kind = KindInvalid
			return nil
		}
		if err := json.Unmarshal(fields["operations"], &p.Operations); err != nil {
			p.Kind = KindInvalid
		}

	default:
		p.Kind = KindInvalid
	}
	return nil
}

func hasField(fields map[string]json.RawMessage, name string) bool {
	_, ok := fields[name]
	return ok
}

func isJSONNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func isJSONArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// crdtOps converts wire operations to crdt operations, rejecting ops that
// are neither insert nor delete.
func crdtOps(ops []TextOp) ([]crdt.Op, error) {
	out := make([]crdt.Op, len(ops))
	for i, op := range ops {
		switch {
		case op.Text != nil:
			out[i] = crdt.Op{Kind: crdt.OpInsert, At: op.At, Text: *op.Text}
		case op.Length != nil:
			out[i] = crdt.Op{Kind: crdt.OpDelete, At: op.At, Length: *op.Length}
		default:
			return nil, fmt.Errorf("operation %d has neither text nor length", i)
		}
	}
	return out, nil
}

// PatchRequest is the body of a PATCH call.
type PatchRequest struct {
	MessageID string      `json:"messageId,omitempty"`
	Patches   []FilePatch `json:"patches"`
}

// PatchResult reports the outcome of one patch, in input order. Content is
// the post-patch content when accepted and the pre-patch content when the
// patch is rejected in the apply phase, so clients can rebase. A result
// flipped to rejected by a commit-time write failure keeps its post-patch
// content.
type PatchResult struct {
	Path     string  `json:"path"`
	Accepted bool    `json:"accepted"`
	Content  *string `json:"content,omitempty"`
	Deleted  bool    `json:"deleted,omitempty"`
}

// PatchResponse is the body of a PATCH response.
type PatchResponse struct {
	Timestamp int64         `json:"timestamp"`
	Results   []PatchResult `json:"results"`
}

// FileEntry is one file in a LIST response or PUT request. A nil Content in
// a listing means the selector excluded it.
type FileEntry struct {
	Content *string `json:"content"`
}

// ListResponse is the body of a LIST response.
type ListResponse struct {
	Timestamp int64                `json:"timestamp"`
	VolumeID  string               `json:"volumeId"`
	FS        map[string]FileEntry `json:"fs"`
}
