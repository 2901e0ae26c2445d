package errtrail

import "testing"

func TestEventClone_IsolatesMapsAndSlices(t *testing.T) {
	orig := &Event{
		ID:          "e1",
		Message:     "boom",
		Tags:        map[string]string{"a": "1"},
		Context:     map[string]any{"k": "v"},
		Fingerprint: []string{"Name", "boom"},
		Frames:      []Frame{{Function: "main.run", File: "main.go", Line: 10}},
		Breadcrumbs: []Breadcrumb{{Message: "step"}},
		User:        &User{ID: "u1", Extra: map[string]any{"plan": "pro"}},
	}

	cp := orig.Clone()

	cp.Tags["a"] = "2"
	cp.Context["k"] = "changed"
	cp.Fingerprint[0] = "Other"
	cp.Frames[0].Line = 99
	cp.Breadcrumbs[0].Message = "other"
	cp.User.ID = "u2"
	cp.User.Extra["plan"] = "free"

	if orig.Tags["a"] != "1" {
		t.Error("clone shares the Tags map")
	}
	if orig.Context["k"] != "v" {
		t.Error("clone shares the Context map")
	}
	if orig.Fingerprint[0] != "Name" {
		t.Error("clone shares the Fingerprint slice")
	}
	if orig.Frames[0].Line != 10 {
		t.Error("clone shares the Frames slice")
	}
	if orig.Breadcrumbs[0].Message != "step" {
		t.Error("clone shares the Breadcrumbs slice")
	}
	if orig.User.ID != "u1" || orig.User.Extra["plan"] != "pro" {
		t.Error("clone shares the User")
	}
}

func TestEventClone_Nil(t *testing.T) {
	var e *Event
	if e.Clone() != nil {
		t.Error("nil event should clone to nil")
	}
}
