package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/payback159/cubesatbudget/pkg/logging"
	"github.com/payback159/cubesatbudget/pkg/passes"
	"github.com/payback159/cubesatbudget/pkg/report"
	"github.com/payback159/cubesatbudget/pkg/security"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// CalcCmd recalculates a stored project.
type CalcCmd struct {
	Project string `help:"Name of the saved project." required:"" short:"p"`
}

func (c *CalcCmd) Run(g *Globals) error {
	a, err := g.open(true)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.session.Open(c.Project); err != nil {
		return err
	}
	res, err := a.session.Recalculate()
	if err != nil {
		return err
	}
	return printJSON(res)
}

// ExportCmd writes a report for a stored project.
type ExportCmd struct {
	Project string `help:"Name of the saved project." required:"" short:"p"`
	Format  string `help:"Export format." enum:"csv,xlsx,pdf,json" default:"pdf" short:"f"`
	Kind    string `help:"Report sections for PDF output." enum:"link,data,all" default:"all"`
	Out     string `help:"Output file. Defaults to a name derived from the project under export.dir." short:"o" type:"path"`
}

func (c *ExportCmd) Run(g *Globals) error {
	a, err := g.open(true)
	if err != nil {
		return err
	}
	defer a.close()

	format, err := report.ParseFormat(c.Format)
	if err != nil {
		return err
	}
	kind, err := report.ParseKind(c.Kind)
	if err != nil {
		return err
	}

	if _, err := a.session.Open(c.Project); err != nil {
		return err
	}
	if format != report.FormatJSON {
		if _, err := a.session.Recalculate(); err != nil {
			return err
		}
	}

	out := c.Out
	if out == "" {
		out = filepath.Join(a.cfg.Export.Dir, security.SafeFilename(c.Project)+"."+string(format))
	}
	start := time.Now()
	if err := a.session.ExportFile(out, format, kind); err != nil {
		logging.LogFileOperation(string(format)+"_export", out, 0, time.Since(start), false,
			"project", c.Project)
		return err
	}
	var size int64
	if st, err := os.Stat(out); err == nil {
		size = st.Size()
	}
	logging.LogFileOperation(string(format)+"_export", out, size, time.Since(start), true,
		"project", c.Project)
	fmt.Println(out)
	return nil
}

// PassesCmd predicts contacts for a TLE file. The ground station defaults
// to the configured one.
type PassesCmd struct {
	TLE          string   `help:"File with a two- or three-line element set." required:"" type:"existingfile"`
	Lat          *float64 `help:"Station latitude in degrees."`
	Lon          *float64 `help:"Station longitude in degrees."`
	Alt          *float64 `help:"Station altitude in metres."`
	MinElevation float64  `help:"Minimum elevation in degrees." default:"10"`
	Hours        float64  `help:"Prediction window in hours." default:"24"`
	Start        string   `help:"Window start in RFC 3339, defaults to now."`
	ApplyTo      string   `help:"Write the pass summary into this saved project."`
}

type passesOutput struct {
	Passes  []passes.Pass  `json:"passes"`
	Summary passes.Summary `json:"summary"`
	Applied string         `json:"applied_to,omitempty"`
}

func (c *PassesCmd) Run(g *Globals) error {
	a, err := g.open(true)
	if err != nil {
		return err
	}
	defer a.close()

	f, err := os.Open(c.TLE)
	if err != nil {
		return err
	}
	tle, err := passes.ParseTLE(f)
	f.Close()
	if err != nil {
		return err
	}

	station := a.cfg.Station
	if c.Lat != nil {
		station.LatitudeDeg = *c.Lat
	}
	if c.Lon != nil {
		station.LongitudeDeg = *c.Lon
	}
	if c.Alt != nil {
		station.AltitudeM = *c.Alt
	}

	start := time.Now().UTC()
	if c.Start != "" {
		if start, err = time.Parse(time.RFC3339, c.Start); err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}

	horizon := time.Duration(c.Hours * float64(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	list, err := passes.Predict(ctx, passes.Request{
		TLE:             tle,
		Station:         station,
		Start:           start,
		Horizon:         horizon,
		MinElevationDeg: c.MinElevation,
	})
	if err != nil {
		return err
	}
	out := passesOutput{Passes: list, Summary: passes.Summarize(list, horizon)}

	if c.ApplyTo != "" {
		if _, err := a.session.Open(c.ApplyTo); err != nil {
			return err
		}
		if err := a.session.ApplyPassSummary(out.Summary); err != nil {
			return err
		}
		if err := a.session.Save(); err != nil {
			return err
		}
		out.Applied = c.ApplyTo
	}
	return printJSON(out)
}
