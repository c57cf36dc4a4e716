package volume

import (
	"encoding/json"
	"testing"
)

func decodePatch(t *testing.T, raw string) FilePatch {
	t.Helper()
	var p FilePatch
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return p
}

func TestClassifyJSONPatch(t *testing.T) {
	p := decodePatch(t, `{"path":"/a.json","patches":[{"op":"add","path":"/x","value":1}]}`)
	if p.Kind != KindJSON {
		t.Fatalf("kind = %v, want KindJSON", p.Kind)
	}
	if p.Path != "/a.json" || len(p.JSONOps) != 1 {
		t.Errorf("unexpected decode: %+v", p)
	}
}

func TestClassifyTextSet(t *testing.T) {
	p := decodePatch(t, `{"path":"/f.txt","content":"hello"}`)
	if p.Kind != KindTextSet {
		t.Fatalf("kind = %v, want KindTextSet", p.Kind)
	}
	if p.Content == nil || *p.Content != "hello" {
		t.Errorf("content = %v", p.Content)
	}
}

func TestClassifyTextSetNullContent(t *testing.T) {
	p := decodePatch(t, `{"path":"/f.txt","content":null}`)
	if p.Kind != KindTextSet {
		t.Fatalf("kind = %v, want KindTextSet", p.Kind)
	}
	if p.Content != nil {
		t.Errorf("null content should decode to nil, got %q", *p.Content)
	}
}

func TestClassifyTextPatch(t *testing.T) {
	p := decodePatch(t, `{"path":"/f.txt","timestamp":1700000000000,"operations":[{"at":0,"text":"A"},{"at":2,"length":1}]}`)
	if p.Kind != KindTextPatch {
		t.Fatalf("kind = %v, want KindTextPatch", p.Kind)
	}
	if p.SessionTimestamp != 1700000000000 {
		t.Errorf("timestamp = %d", p.SessionTimestamp)
	}
	if len(p.Operations) != 2 {
		t.Fatalf("operations = %d", len(p.Operations))
	}
	if p.Operations[0].Text == nil || *p.Operations[0].Text != "A" {
		t.Error("first op should be an insert")
	}
	if p.Operations[1].Length == nil || *p.Operations[1].Length != 1 {
		t.Error("second op should be a delete")
	}
}

func TestClassifyUnrecognisedShape(t *testing.T) {
	cases := []string{
		`{"path":"/f.txt"}`,
		`{"path":"/f.txt","timestamp":1}`,
		`{"path":"/f.txt","operations":[{"at":0,"text":"A"}]}`,
		`{"path":"/f.txt","timestamp":1,"operations":"nope"}`,
	}
	for _, raw := range cases {
		p := decodePatch(t, raw)
		if p.Kind != KindInvalid {
			t.Errorf("%s: kind = %v, want KindInvalid", raw, p.Kind)
		}
		if p.Path != "/f.txt" {
			t.Errorf("%s: path should survive classification failure", raw)
		}
	}
}

func TestClassificationPrecedence(t *testing.T) {
	// `patches` wins over `content`, which wins over `timestamp`+`operations`.
	p := decodePatch(t, `{"path":"/f","patches":[],"content":"x","timestamp":1,"operations":[]}`)
	if p.Kind != KindJSON {
		t.Errorf("kind = %v, want KindJSON", p.Kind)
	}
	p = decodePatch(t, `{"path":"/f","content":"x","timestamp":1,"operations":[]}`)
	if p.Kind != KindTextSet {
		t.Errorf("kind = %v, want KindTextSet", p.Kind)
	}
}

func TestPatchRequestDecode(t *testing.T) {
	raw := `{"messageId":"m-1","patches":[
		{"path":"/a.json","patches":[{"op":"add","path":"","value":{}}]},
		{"path":"/b.txt","content":null}
	]}`
	var req PatchRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatal(err)
	}
	if req.MessageID != "m-1" || len(req.Patches) != 2 {
		t.Fatalf("unexpected decode: %+v", req)
	}
	if req.Patches[0].Kind != KindJSON || req.Patches[1].Kind != KindTextSet {
		t.Errorf("kinds = %v, %v", req.Patches[0].Kind, req.Patches[1].Kind)
	}
}

func TestApplyJSONOpsRootRemoveYieldsNull(t *testing.T) {
	out, err := applyJSONOps(`{"a":1}`, rawOps(`{"op":"remove","path":""}`))
	if err != nil {
		t.Fatal(err)
	}
	if out != "null" {
		t.Errorf("out = %q, want null", out)
	}
}

func TestApplyJSONOpsRootTest(t *testing.T) {
	_, err := applyJSONOps(`{"a":1}`, rawOps(`{"op":"test","path":"","value":{"a":1}}`))
	if err != nil {
		t.Errorf("matching root test should pass, got %v", err)
	}
	_, err = applyJSONOps(`{"a":1}`, rawOps(`{"op":"test","path":"","value":{"a":2}}`))
	if err == nil {
		t.Error("mismatching root test should fail")
	}
}

func TestSessionSetEvictsInInsertionOrder(t *testing.T) {
	s := newSessionSet(3)
	for ts := int64(1); ts <= 4; ts++ {
		s.Install(ts)
	}
	if s.Len() != 3 {
		t.Fatalf("len = %d, want 3", s.Len())
	}
	if _, ok := s.Get(1); ok {
		t.Error("oldest session should have been evicted")
	}
	for ts := int64(2); ts <= 4; ts++ {
		if _, ok := s.Get(ts); !ok {
			t.Errorf("session %d missing", ts)
		}
	}
}
