package collab

import (
	"encoding/json"
	"testing"

	"iterflow/internal/tester"
)

type item struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func TestDecodeAcceptedShapes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"bare list", `[{"path": "a", "content": "x"}]`},
		{"root envelope", `{"root": [{"path": "a", "content": "x"}]}`},
		{"files envelope", `{"files": [{"path": "a", "content": "x"}]}`},
		{"quoted payload", `"[{\"path\": \"a\", \"content\": \"x\"}]"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out []item
			tester.NoErr(t, Decode(json.RawMessage(tc.raw), &out))
			tester.Eq(t, len(out), 1)
			tester.Eq(t, out[0].Path, "a")
		})
	}
}

func TestDecodeTwoKeyObjectIsNotAnEnvelope(t *testing.T) {
	var out map[string]string
	raw := `{"root": "src", "files": "none"}`
	tester.NoErr(t, Decode(json.RawMessage(raw), &out))
	tester.Eq(t, out["root"], "src")
}

func TestDecodeListAcceptsSingleObject(t *testing.T) {
	got, err := DecodeList[item](json.RawMessage(`{"path": "a", "content": "x"}`))
	tester.NoErr(t, err)
	tester.Eq(t, len(got), 1)
	tester.Eq(t, got[0].Path, "a")
}

func TestScalarShapes(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{`"x"`, "x"},
		{`["x", "y"]`, "x"},
		{`[null, "y"]`, "y"},
		{`null`, ""},
	}
	for _, tc := range cases {
		var s Scalar
		tester.NoErr(t, json.Unmarshal([]byte(tc.raw), &s), tc.raw)
		tester.Eq(t, s.String(), tc.want, tc.raw)
	}
}

func TestStringListShapes(t *testing.T) {
	var l StringList
	tester.NoErr(t, json.Unmarshal([]byte(`["a", "b"]`), &l))
	tester.Eq(t, len(l), 2)

	l = nil
	tester.NoErr(t, json.Unmarshal([]byte(`"a"`), &l))
	tester.Eq(t, []string(l), []string{"a"})

	l = nil
	tester.NoErr(t, json.Unmarshal([]byte(`null`), &l))
	tester.Eq(t, len(l), 0)
}
