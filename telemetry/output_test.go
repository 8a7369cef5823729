package telemetry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gocarina/gocsv"
)

func TestOutputManagerDisabled(t *testing.T) {
	om, err := NewOutputManager("")
	if err != nil || om != nil {
		t.Fatalf("NewOutputManager(\"\") = %v, %v", om, err)
	}
	if err := om.WriteTelemetry(WindowStats{}); err != nil {
		t.Error(err)
	}
	if err := om.WriteEvents([]Event{{Type: EventGrasp}}); err != nil {
		t.Error(err)
	}
	if om.Dir() != "" || om.Close() != nil {
		t.Error("nil manager should be inert")
	}
}

func TestOutputManagerAppendsRows(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 3; i++ {
		if err := om.WriteTelemetry(WindowStats{WindowEndStep: i * 100, Steps: i}); err != nil {
			t.Fatal(err)
		}
	}
	if err := om.WriteEvents(nil); err != nil {
		t.Fatal(err)
	}
	if err := om.WriteEvents([]Event{{Type: EventDrop, Step: 4, DropHeight: 0.25, Object: -1}}); err != nil {
		t.Fatal(err)
	}
	if err := om.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(filepath.Join(dir, "telemetry.csv"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var rows []WindowStats
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || rows[2].WindowEndStep != 300 || rows[2].Steps != 3 {
		t.Errorf("telemetry rows = %+v", rows)
	}

	ef, err := os.Open(filepath.Join(dir, "events.csv"))
	if err != nil {
		t.Fatal(err)
	}
	defer ef.Close()
	var events []Event
	if err := gocsv.UnmarshalFile(ef, &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Type != EventDrop || events[0].DropHeight != 0.25 {
		t.Errorf("events = %+v", events)
	}
}
