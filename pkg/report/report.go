// Package report renders projects and calculation runs as CSV, Excel, PDF
// and JSON documents.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/payback159/cubesatbudget/pkg/logging"
	"github.com/payback159/cubesatbudget/pkg/models"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
	FormatJSON Format = "json"
)

// ParseFormat accepts a format name or file extension.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")); f {
	case FormatCSV, FormatXLSX, FormatPDF, FormatJSON:
		return f, nil
	case "excel":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	case FormatJSON:
		return "application/json"
	}
	return "application/octet-stream"
}

// Kind selects the sections of a PDF report.
type Kind string

const (
	KindLink Kind = "link"
	KindData Kind = "data"
	KindAll  Kind = "all"
)

// ParseKind defaults to KindAll.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindAll, nil
	case KindLink, KindData, KindAll:
		return k, nil
	}
	return "", fmt.Errorf("unknown report kind %q", s)
}

// Snapshot is everything a report is rendered from.
type Snapshot struct {
	Project     models.Project
	Link        *models.LinkBudgetResult
	Data        *models.DataBudgetResult
	Runs        []models.Run
	GeneratedAt time.Time
}

// Write renders s in format f to w.
func Write(w io.Writer, f Format, s Snapshot, kind Kind) error {
	switch f {
	case FormatCSV:
		return WriteRunsCSV(w, s.Runs)
	case FormatXLSX:
		return WriteWorkbook(w, s)
	case FormatPDF:
		return WritePDF(w, s, kind)
	case FormatJSON:
		return ExportProject(w, s.Project)
	}
	return fmt.Errorf("unknown export format %q", f)
}

// WriteFile writes through a temporary file in the target directory and
// renames it into place, so a failed export never leaves a partial file.
// Failures are returned as *models.ExportError.
func WriteFile(path string, f Format, render func(io.Writer) error) (err error) {
	start := time.Now()
	exportErr := func(e error) error {
		return &models.ExportError{Format: string(f), Path: path, Err: e}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return exportErr(err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := render(tmp); err != nil {
		return exportErr(err)
	}
	if err := tmp.Sync(); err != nil {
		return exportErr(err)
	}
	if err := tmp.Close(); err != nil {
		return exportErr(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return exportErr(err)
	}

	var size int64
	if fi, statErr := os.Stat(path); statErr == nil {
		size = fi.Size()
	}
	logging.LogFileOperation("export_"+string(f), path, size, time.Since(start), true)
	return nil
}

// row is one labelled value of a parameter or result table.
type row struct {
	Label string
	Value any
	Unit  string
}

func (r row) text() string {
	switch v := r.Value.(type) {
	case float64:
		return formatFloat(v)
	case models.Quantity:
		return v.Format(2)
	case bool:
		if v {
			return "yes"
		}
		return "no"
	}
	return fmt.Sprint(r.Value)
}

func formatFloat(v float64) string {
	switch {
	case v == 0:
		return "0"
	case v >= 1e6 || v <= -1e6 || (v < 1e-3 && v > -1e-3):
		return fmt.Sprintf("%.4g", v)
	}
	return fmt.Sprintf("%.2f", v)
}

func linkParameterRows(p models.LinkBudgetParameters) []row {
	rows := []row{
		{"Transmit power", p.TxPowerDBW, "dBW"},
		{"Transmit antenna gain", p.TxGainDB, "dBi"},
		{"Receive antenna gain", p.RxGainDB, "dBi"},
		{"Frequency", p.FrequencyHz, "Hz"},
		{"Distance", p.DistanceM, "m"},
		{"System noise temperature", p.NoiseTempK, "K"},
		{"Bandwidth", p.BandwidthHz, "Hz"},
		{"Modulation", p.Modulation, ""},
		{"Code rate", p.CodeRate, ""},
		{"Extra losses", p.ExtraLossesDB, "dB"},
	}
	if p.DataRateBps > 0 {
		rows = append(rows, row{"Data rate", p.DataRateBps, "bit/s"})
	}
	if p.RequiredBER > 0 {
		rows = append(rows, row{"Required BER", p.RequiredBER, ""})
	} else {
		rows = append(rows, row{"Required Eb/N0", p.RequiredEbN0DB, "dB"})
	}
	return rows
}

func linkResultRows(r models.LinkBudgetResult) []row {
	return []row{
		{"EIRP", r.EIRPDBW, "dBW"},
		{"Free-space path loss", r.PathLossDB, "dB"},
		{"Received power", r.ReceivedPowerDBW, "dBW"},
		{"Noise power", r.NoisePowerDBW, "dBW"},
		{"C/N", r.CarrierToNoiseDB, "dB"},
		{"C/N0", r.CarrierToNoiseDBHz, "dB-Hz"},
		{"Bit rate", r.BitRateBps, "bit/s"},
		{"Eb/N0", r.EbN0DB, "dB"},
		{"Bit error rate", r.BitErrorRate, ""},
		{"Required Eb/N0", r.RequiredEbN0DB, "dB"},
		{"Link margin", r.MarginDB, "dB"},
		{"Link closes", r.LinkCloses, ""},
	}
}

func dataParameterRows(p models.DataBudgetParameters) []row {
	return []row{
		{"Generation rate", p.GenerationRateBps, "bit/s"},
		{"Duty cycle", p.DutyCyclePercent, "%"},
		{"Downlink rate", p.DownlinkRateBps, "bit/s"},
		{"Pass duration", p.PassDurationS, "s"},
		{"Passes per day", p.PassesPerDay, ""},
		{"Storage capacity", p.StorageCapacityBytes, "B"},
		{"Current backlog", p.CurrentBacklogBytes, "B"},
		{"Orbit period", p.OrbitPeriodS, "s"},
	}
}

func dataResultRows(r models.DataBudgetResult) []row {
	return []row{
		{"Daily generation", r.DailyGenerationBytes, "B"},
		{"Downlink per pass", r.DownlinkPerPassBytes, "B"},
		{"Daily downlink capacity", r.DailyDownlinkBytes, "B"},
		{"Net growth rate", r.NetGrowthRateBps, "bit/s"},
		{"Net growth per day", r.NetGrowthBytesPerDay, "B"},
		{"Time to fill", r.TimeToFillS, "s"},
		{"Time to fill (orbits)", r.TimeToFillOrbits, ""},
		{"Time to fill (days)", r.TimeToFillDays, ""},
		{"Downlink utilization", r.DownlinkUtilization, "%"},
		{"Storage used", r.StorageUsedPercent, "%"},
		{"Passes per day required", r.RequiredPassesPerDay, ""},
	}
}
