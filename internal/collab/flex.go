package collab

import "encoding/json"

// Scalar is a string field that collaborators sometimes emit as a one-element
// list. Accepted shapes: "x", ["x", ...] (first element wins), null.
type Scalar string

func (s *Scalar) UnmarshalJSON(b []byte) error {
	var str *string
	if err := json.Unmarshal(b, &str); err == nil {
		if str != nil {
			*s = Scalar(*str)
		}
		return nil
	}
	var list []*string
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	for _, v := range list {
		if v != nil {
			*s = Scalar(*v)
			break
		}
	}
	return nil
}

func (s Scalar) String() string { return string(s) }

// StringList is a []string field that collaborators sometimes emit as a bare
// string. Accepted shapes: ["a", "b"], "a", null.
type StringList []string

func (l *StringList) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*l = list
		return nil
	}
	var one *string
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	if one != nil {
		*l = StringList{*one}
	}
	return nil
}
