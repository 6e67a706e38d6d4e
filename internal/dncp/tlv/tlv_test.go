package tlv

import (
	"bytes"
	"testing"
)

func TestEncodeParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		records []Record
	}{
		{"empty", nil},
		{"single empty body", []Record{{Type: 1, Body: nil}}},
		{"single unaligned body", []Record{{Type: 2, Body: []byte("abc")}}},
		{"single aligned body", []Record{{Type: 3, Body: []byte("abcd")}}},
		{"multiple records", []Record{
			{Type: 1, Body: []byte("x")},
			{Type: 5, Body: []byte("hello world")},
			{Type: 2, Body: nil},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := Marshal(tt.records)
			got, err := Parse(buf)
			if err != nil {
				t.Fatalf("Parse() error: %v", err)
			}
			if len(got) != len(tt.records) {
				t.Fatalf("got %d records, want %d", len(got), len(tt.records))
			}
			for i := range got {
				if got[i].Type != tt.records[i].Type {
					t.Errorf("record %d: type = %d, want %d", i, got[i].Type, tt.records[i].Type)
				}
				if !bytes.Equal(got[i].Body, tt.records[i].Body) {
					t.Errorf("record %d: body = %q, want %q", i, got[i].Body, tt.records[i].Body)
				}
			}
		})
	}
}

func TestSortThenRoundTrip(t *testing.T) {
	records := []Record{
		{Type: 5, Body: []byte("b")},
		{Type: 1, Body: []byte("z")},
		{Type: 1, Body: []byte("a")},
	}
	Sort(records)

	want := []Record{
		{Type: 1, Body: []byte("a")},
		{Type: 1, Body: []byte("z")},
		{Type: 5, Body: []byte("b")},
	}
	for i := range want {
		if records[i].Type != want[i].Type || !bytes.Equal(records[i].Body, want[i].Body) {
			t.Fatalf("sorted[%d] = %+v, want %+v", i, records[i], want[i])
		}
	}

	buf := Marshal(records)
	got, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("got %d records, want %d", len(got), len(records))
	}
}

func TestParseRejectsTruncatedHeader(t *testing.T) {
	_, err := Parse([]byte{0, 1, 0})
	if err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestParseRejectsLengthPastBuffer(t *testing.T) {
	buf := []byte{0, 1, 0, 10, 'a', 'b'}
	_, err := Parse(buf)
	if err == nil {
		t.Fatal("expected error for length exceeding buffer")
	}
}

func TestNestedRoundTrip(t *testing.T) {
	children := []Record{
		{Type: 10, Body: []byte("inner-a")},
		{Type: 11, Body: []byte("inner-b")},
	}
	outer := EncodeNested(99, children)

	buf := Marshal([]Record{outer})
	top, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(top) != 1 || top[0].Type != 99 {
		t.Fatalf("unexpected top-level decode: %+v", top)
	}

	got, err := ParseNested(top[0])
	if err != nil {
		t.Fatalf("ParseNested() error: %v", err)
	}
	if len(got) != len(children) {
		t.Fatalf("got %d nested records, want %d", len(got), len(children))
	}
	for i := range children {
		if got[i].Type != children[i].Type || !bytes.Equal(got[i].Body, children[i].Body) {
			t.Errorf("nested[%d] = %+v, want %+v", i, got[i], children[i])
		}
	}
}

func TestEncodePadding(t *testing.T) {
	buf := Encode(nil, 7, []byte("abc"))
	if len(buf) != 4+4 {
		t.Fatalf("expected padded total length 8, got %d", len(buf))
	}
}
