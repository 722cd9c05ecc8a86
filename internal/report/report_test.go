package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mbarbier/steamboiler/internal/store"
)

func seededStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.CreateRun("run-1"); err != nil {
		t.Fatal(err)
	}
	for seq := int64(0); seq < 4; seq++ {
		if err := s.RecordTick("run-1", seq, 500+float64(seq)*5, float64(seq), "normal", 0b01, false); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.RecordEvent("run-1", 1, "failure_detection", "pump_0", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordEvent("run-1", 2, "mode_change", "", "normal -> degraded"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordEvent("run-1", 3, "repaired", "pump_0", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.FinishRun("run-1", "normal"); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestExportCSV(t *testing.T) {
	s := seededStore(t)

	var buf bytes.Buffer
	if err := ExportCSV(&buf, s, "run-1"); err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse exported csv: %v", err)
	}
	if len(records) != 5 {
		t.Fatalf("csv rows = %d, want header + 4 ticks", len(records))
	}
	if records[0][0] != "seq" || records[0][1] != "level" {
		t.Errorf("header = %v", records[0])
	}
	if records[1][1] != "500" || records[2][1] != "505" {
		t.Errorf("tick levels = %q, %q, want 500, 505", records[1][1], records[2][1])
	}
}

func TestExportJSON(t *testing.T) {
	s := seededStore(t)

	var buf bytes.Buffer
	if err := ExportJSON(&buf, s, "run-1"); err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}

	var out RunJSON
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("parse exported json: %v", err)
	}
	if out.ID != "run-1" || out.FinalMode != "normal" {
		t.Errorf("run = %+v", out)
	}
	if len(out.Ticks) != 4 || len(out.Events) != 3 {
		t.Fatalf("ticks = %d events = %d, want 4 and 3", len(out.Ticks), len(out.Events))
	}

	// Failure, mode change and repair appear in order.
	kinds := []string{out.Events[0].Kind, out.Events[1].Kind, out.Events[2].Kind}
	want := []string{"failure_detection", "mode_change", "repaired"}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event kinds = %v, want %v", kinds, want)
		}
	}

	if err := ExportJSON(&buf, s, "ghost"); err == nil {
		t.Error("ExportJSON of unknown run expected error")
	}
}

func TestExportPDF(t *testing.T) {
	s := seededStore(t)

	var buf bytes.Buffer
	if err := ExportPDF(&buf, s, "run-1"); err != nil {
		t.Fatalf("ExportPDF: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "%PDF") {
		t.Error("output should be a PDF document")
	}
	if buf.Len() < 1000 {
		t.Errorf("pdf suspiciously small: %d bytes", buf.Len())
	}

	if err := ExportPDF(&bytes.Buffer{}, s, "ghost"); err == nil {
		t.Error("ExportPDF of unknown run expected error")
	}
}

func TestPumpBits(t *testing.T) {
	tests := []struct {
		mask int
		want string
	}{
		{0, "-"},
		{0b0001, "0"},
		{0b1010, "1,3"},
		{0b1111, "0,1,2,3"},
	}
	for _, tt := range tests {
		if got := pumpBits(tt.mask); got != tt.want {
			t.Errorf("pumpBits(%b) = %q, want %q", tt.mask, got, tt.want)
		}
	}
}
