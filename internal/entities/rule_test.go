package entities

import (
	"reflect"
	"testing"
)

func TestCollectionRule_RuleFor(t *testing.T) {
	r := &CollectionRule{
		Collection: "posts",
		ListRule:   Rule(""),
		ViewRule:   Rule("public = true"),
		CreateRule: nil,
		UpdateRule: Rule("@owns_record"),
		DeleteRule: Rule("user.role == 'admin'"),
	}

	tests := []struct {
		op       Operation
		expected *string
	}{
		{OperationList, Rule("")},
		{OperationView, Rule("public = true")},
		{OperationCreate, nil},
		{OperationUpdate, Rule("@owns_record")},
		{OperationDelete, Rule("user.role == 'admin'")},
	}

	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			got := r.RuleFor(tt.op)
			if (got == nil) != (tt.expected == nil) {
				t.Fatalf("expected nil=%v, got %v", tt.expected == nil, got)
			}
			if got != nil && *got != *tt.expected {
				t.Errorf("expected %q, got %q", *tt.expected, *got)
			}
		})
	}
}

func TestCollectionRule_SetRule(t *testing.T) {
	r := &CollectionRule{Collection: "posts"}
	for _, op := range Operations {
		r.SetRule(op, Rule(op.String()))
	}
	for _, op := range Operations {
		if got := r.RuleFor(op); got == nil || *got != op.String() {
			t.Errorf("%s: expected %q, got %v", op, op, got)
		}
	}
}

func TestCollectionRule_FieldsFor(t *testing.T) {
	r := &CollectionRule{
		Collection: "posts",
		ViewFields: `["title","body"]`,
	}

	if got := r.FieldsFor(OperationList); got != AllFields {
		t.Errorf("expected empty list fields to default to %q, got %q", AllFields, got)
	}
	if got := r.FieldsFor(OperationView); got != `["title","body"]` {
		t.Errorf("unexpected view fields %q", got)
	}
	if got := r.FieldsFor(OperationDelete); got != AllFields {
		t.Errorf("expected delete to have all fields, got %q", got)
	}
}

func TestParseFields(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
		wantErr  bool
	}{
		{"*", nil, false},
		{"", nil, false},
		{`["title", "body"]`, []string{"title", "body"}, false},
		{`[]`, []string{}, false},
		{`["title", "*"]`, nil, false},
		{`title,body`, nil, true},
		{`{"a": 1}`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFields(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("expected %#v, got %#v", tt.expected, got)
			}
		})
	}
}

func TestCollectionRule_Validate(t *testing.T) {
	if err := (&CollectionRule{}).Validate(); err == nil {
		t.Error("expected error for missing collection")
	}
	if err := (&CollectionRule{Collection: "posts", UpdateFields: "oops"}).Validate(); err == nil {
		t.Error("expected error for malformed fields")
	}
	if err := (&CollectionRule{Collection: "posts"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseOperation(t *testing.T) {
	for _, op := range Operations {
		got, err := ParseOperation(" " + string(op) + " ")
		if err != nil || got != op {
			t.Errorf("ParseOperation(%q) = %q, %v", op, got, err)
		}
	}
	if _, err := ParseOperation("UPDATE"); err != nil {
		t.Errorf("expected case-insensitive parse, got %v", err)
	}
	if _, err := ParseOperation("truncate"); err == nil {
		t.Error("expected error for unknown operation")
	}
	if !OperationList.IsFilter() || OperationView.IsFilter() {
		t.Error("only list should be a filter operation")
	}
}
