package tui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/physobj/physobj/pkg/framework"
	"github.com/physobj/physobj/pkg/inspect"
	"github.com/physobj/physobj/pkg/output"
	"github.com/physobj/physobj/pkg/sinks"
)

func TestFormatters(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{formatBytes(512), "512 B"},
		{formatBytes(2048), "2.0 KB"},
		{formatBytes(3 << 20), "3.0 MB"},
		{formatNumber(999), "999"},
		{formatNumber(1500), "1.5K"},
		{formatNumber(2500000), "2.5M"},
		{formatDuration(250 * time.Millisecond), "250ms"},
		{formatDuration(1500 * time.Millisecond), "1.5s"},
		{formatDuration(90 * time.Second), "1m30s"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, &framework.Report{
		EventsRead:      10,
		EventsProcessed: 8,
		EventsSkipped:   2,
		Runs:            1,
		Files: []output.File{{
			Tree:   "Events",
			Result: sinks.Result{Path: "/tmp/genparticles.parquet", RowsWritten: 8, BytesWritten: 4096},
			Remote: "s3://bucket/genparticles.parquet",
		}},
		Duration: 2 * time.Second,
	})

	out := buf.String()
	for _, want := range []string{"JOB COMPLETE", "10 read, 2 skipped", "s3://bucket/genparticles.parquet", "4.0 KB", "events/sec"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	PrintSummary(&buf, &inspect.Summary{
		Path:       "/data/genparticles.parquet",
		Rows:       2,
		Particles:  3,
		MaxCount:   3,
		MeanCount:  1.5,
		Columns:    []inspect.Column{{Name: "nGenPart", Type: "INTEGER"}},
		TopPDG:     []inspect.PDGCount{{PdgID: 22, Count: 2}},
		Mismatched: 1,
	})

	out := buf.String()
	for _, want := range []string{"genparticles.parquet", "mean 1.50", "nGenPart", "INTEGER", "22", "1 rows with list lengths"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestPrintPlugins(t *testing.T) {
	var buf bytes.Buffer
	PrintPlugins(&buf, []framework.Plugin{
		{Name: "Zeta", Description: framework.NewDescription().Add("src", "input label")},
		{Name: "Alpha", Description: framework.NewDescription().SetUnknown()},
	})

	out := buf.String()
	if strings.Index(out, "Alpha") > strings.Index(out, "Zeta") {
		t.Errorf("plugins not sorted:\n%s", out)
	}
	if !strings.Contains(out, "accepts any parameters") || !strings.Contains(out, "input label") {
		t.Errorf("unexpected plugin listing:\n%s", out)
	}
}

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, 10)
	p.Update(framework.Report{EventsRead: 5})
	p.Finish()

	PrintError(&buf, errors.New("boom"))
	if !strings.Contains(buf.String(), "boom") {
		t.Error("error not printed")
	}
}
