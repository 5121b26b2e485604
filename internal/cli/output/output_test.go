package output

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseFormat(t *testing.T) {
	cases := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"table", FormatTable, false},
		{"", FormatTable, false},
		{"JSON", FormatJSON, false},
		{" yaml ", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"xml", "", true},
	}

	for _, tc := range cases {
		got, err := ParseFormat(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseFormat(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFormat(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintJSON(&buf, map[string]int{"count": 3}); err != nil {
		t.Fatalf("PrintJSON failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"count": 3`) {
		t.Errorf("Unexpected JSON output: %s", buf.String())
	}
}

func TestPrintYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintYAML(&buf, map[string]int{"count": 3}); err != nil {
		t.Fatalf("PrintYAML failed: %v", err)
	}
	if !strings.Contains(buf.String(), "count: 3") {
		t.Errorf("Unexpected YAML output: %s", buf.String())
	}
}

func TestPrintTable(t *testing.T) {
	table := NewTableData("NAME", "STATE")
	table.AddRow("sessions", "12 connected")
	table.AddRow("router", "ok")

	var buf bytes.Buffer
	if err := PrintTable(&buf, table); err != nil {
		t.Fatalf("PrintTable failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"NAME", "STATE", "sessions", "12 connected", "router"} {
		if !strings.Contains(out, want) {
			t.Errorf("Table output missing %q:\n%s", want, out)
		}
	}
}
