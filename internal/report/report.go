// Package report exports a controller run's history as CSV, JSON, or a
// PDF operations report.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/mbarbier/steamboiler/internal/store"
)

// TickJSON is the JSON representation of one tick for export.
type TickJSON struct {
	Seq       int64   `json:"seq"`
	Level     float64 `json:"level"`
	Steam     float64 `json:"steam"`
	Mode      string  `json:"mode"`
	PumpsOpen int     `json:"pumps_open"`
	ValveOpen bool    `json:"valve_open"`
	Timestamp string  `json:"timestamp"`
}

// EventJSON is the JSON representation of one event for export.
type EventJSON struct {
	Seq        int64  `json:"seq"`
	Kind       string `json:"kind"`
	Peripheral string `json:"peripheral,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// RunJSON is the top-level JSON export.
type RunJSON struct {
	ID         string      `json:"id"`
	StartedAt  string      `json:"started_at"`
	FinishedAt string      `json:"finished_at,omitempty"`
	FinalMode  string      `json:"final_mode,omitempty"`
	Ticks      []TickJSON  `json:"ticks"`
	Events     []EventJSON `json:"events"`
}

// ExportCSV writes a run's ticks as CSV to w.
// Headers: seq,level,steam,mode,pumps_open,valve_open,timestamp
func ExportCSV(w io.Writer, s *store.Store, runID string) error {
	ticks, err := s.QueryTicks(runID)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"seq", "level", "steam", "mode", "pumps_open", "valve_open", "timestamp"}); err != nil {
		return err
	}

	for _, t := range ticks {
		record := []string{
			strconv.FormatInt(t.Seq, 10),
			strconv.FormatFloat(t.Level, 'f', -1, 64),
			strconv.FormatFloat(t.Steam, 'f', -1, 64),
			t.Mode,
			strconv.Itoa(t.PumpsOpen),
			strconv.FormatBool(t.ValveOpen),
			t.Timestamp.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// ExportJSON writes a run's full history as JSON to w.
func ExportJSON(w io.Writer, s *store.Store, runID string) error {
	run, err := s.GetRun(runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}

	ticks, err := s.QueryTicks(runID)
	if err != nil {
		return err
	}
	events, err := s.QueryEvents(runID)
	if err != nil {
		return err
	}

	out := RunJSON{
		ID:        run.ID,
		StartedAt: run.StartedAt.Format(time.RFC3339),
		FinalMode: run.FinalMode,
		Ticks:     make([]TickJSON, len(ticks)),
		Events:    make([]EventJSON, len(events)),
	}
	if run.FinishedAt != nil {
		out.FinishedAt = run.FinishedAt.Format(time.RFC3339)
	}
	for i, t := range ticks {
		out.Ticks[i] = TickJSON{
			Seq:       t.Seq,
			Level:     t.Level,
			Steam:     t.Steam,
			Mode:      t.Mode,
			PumpsOpen: t.PumpsOpen,
			ValveOpen: t.ValveOpen,
			Timestamp: t.Timestamp.Format(time.RFC3339),
		}
	}
	for i, e := range events {
		out.Events[i] = EventJSON{
			Seq:        e.Seq,
			Kind:       e.Kind,
			Peripheral: e.Peripheral,
			Detail:     e.Detail,
			Timestamp:  e.Timestamp.Format(time.RFC3339),
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ExportPDF creates the operations PDF report for one run: a header block
// with run metadata, the event table, and a tick summary.
func ExportPDF(w io.Writer, s *store.Store, runID string) error {
	run, err := s.GetRun(runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}

	ticks, err := s.QueryTicks(runID)
	if err != nil {
		return err
	}
	events, err := s.QueryEvents(runID)
	if err != nil {
		return err
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	// Title
	pdf.SetFont("Arial", "B", 18)
	pdf.CellFormat(0, 12, "Boiler Run Report", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	// Run info
	info := []struct{ label, value string }{
		{"Run", run.ID},
		{"Started", run.StartedAt.Format(time.RFC3339)},
	}
	if run.FinishedAt != nil {
		info = append(info, struct{ label, value string }{"Finished", run.FinishedAt.Format(time.RFC3339)})
	}
	if run.FinalMode != "" {
		info = append(info, struct{ label, value string }{"Final mode", run.FinalMode})
	}
	info = append(info, struct{ label, value string }{"Ticks recorded", strconv.Itoa(len(ticks))})

	for _, item := range info {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(45, 7, item.label+":", "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 7, item.value, "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	// Events table
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, "Events", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	if len(events) == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.CellFormat(0, 7, "No events recorded.", "", 1, "L", false, 0, "")
	} else {
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(220, 220, 220)
		pdf.CellFormat(15, 7, "Tick", "1", 0, "R", true, 0, "")
		pdf.CellFormat(40, 7, "Kind", "1", 0, "L", true, 0, "")
		pdf.CellFormat(40, 7, "Peripheral", "1", 0, "L", true, 0, "")
		pdf.CellFormat(0, 7, "Detail", "1", 1, "L", true, 0, "")

		pdf.SetFont("Arial", "", 9)
		for _, e := range events {
			pdf.CellFormat(15, 7, strconv.FormatInt(e.Seq, 10), "1", 0, "R", false, 0, "")
			pdf.CellFormat(40, 7, e.Kind, "1", 0, "L", false, 0, "")
			pdf.CellFormat(40, 7, truncate(e.Peripheral, 22), "1", 0, "L", false, 0, "")
			pdf.CellFormat(0, 7, truncate(e.Detail, 45), "1", 1, "L", false, 0, "")
		}
	}
	pdf.Ln(6)

	// Tick summary: sampled rows so long runs stay on a few pages.
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, "Ticks", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	if len(ticks) == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.CellFormat(0, 7, "No ticks recorded.", "", 1, "L", false, 0, "")
	} else {
		pdf.SetFont("Arial", "B", 8)
		pdf.SetFillColor(220, 220, 220)
		pdf.CellFormat(15, 6, "Tick", "1", 0, "R", true, 0, "")
		pdf.CellFormat(25, 6, "Level", "1", 0, "R", true, 0, "")
		pdf.CellFormat(25, 6, "Steam", "1", 0, "R", true, 0, "")
		pdf.CellFormat(30, 6, "Mode", "1", 0, "L", true, 0, "")
		pdf.CellFormat(25, 6, "Pumps", "1", 0, "L", true, 0, "")
		pdf.CellFormat(0, 6, "Valve", "1", 1, "L", true, 0, "")

		pdf.SetFont("Arial", "", 8)
		stride := 1
		if len(ticks) > 200 {
			stride = len(ticks) / 200
		}
		for i := 0; i < len(ticks); i += stride {
			t := ticks[i]
			valve := "closed"
			if t.ValveOpen {
				valve = "open"
			}
			pdf.CellFormat(15, 6, strconv.FormatInt(t.Seq, 10), "1", 0, "R", false, 0, "")
			pdf.CellFormat(25, 6, fmt.Sprintf("%.1f", t.Level), "1", 0, "R", false, 0, "")
			pdf.CellFormat(25, 6, fmt.Sprintf("%.1f", t.Steam), "1", 0, "R", false, 0, "")
			pdf.CellFormat(30, 6, t.Mode, "1", 0, "L", false, 0, "")
			pdf.CellFormat(25, 6, pumpBits(t.PumpsOpen), "1", 0, "L", false, 0, "")
			pdf.CellFormat(0, 6, valve, "1", 1, "L", false, 0, "")
		}
	}

	return pdf.Output(w)
}

// pumpBits renders the open-pump bitmask as e.g. "0,2".
func pumpBits(mask int) string {
	out := ""
	for i := 0; mask != 0; i++ {
		if mask&1 != 0 {
			if out != "" {
				out += ","
			}
			out += strconv.Itoa(i)
		}
		mask >>= 1
	}
	if out == "" {
		return "-"
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
