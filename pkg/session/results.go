package session

import (
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/payback159/cubesatbudget/pkg/databudget"
	"github.com/payback159/cubesatbudget/pkg/linkbudget"
	"github.com/payback159/cubesatbudget/pkg/logging"
	"github.com/payback159/cubesatbudget/pkg/metrics"
	"github.com/payback159/cubesatbudget/pkg/models"
	"github.com/payback159/cubesatbudget/pkg/report"
)

// Results are the cached outputs for the open project. Link and Data are
// nil when the parameters changed since the last Recalculate.
type Results struct {
	Link  *models.LinkBudgetResult `json:"link"`
	Data  *models.DataBudgetResult `json:"data"`
	Stale bool                     `json:"stale"`
}

// Recalculate runs both engines on the open project. On any error the
// previous results and run history are left untouched.
func (s *Session) Recalculate() (Results, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.project == nil {
		return Results{}, models.ErrNoOpenProject
	}
	p := s.project

	start := time.Now()
	link, err := linkbudget.Compute(p.Link)
	elapsed := time.Since(start)
	metrics.ObserveCalculation("link", elapsed, err)
	logging.LogLinkCalculation(p.Link.Modulation, p.Link.FrequencyHz, p.Link.DistanceM, link.MarginDB, elapsed, err == nil)
	if err != nil {
		logging.LogWarn("Link budget rejected", "project", p.Name, "field", models.FieldOf(err), "error", err.Error())
		return Results{}, err
	}

	start = time.Now()
	data, err := databudget.Compute(p.Data, s.rules)
	elapsed = time.Since(start)
	metrics.ObserveCalculation("data", elapsed, err)
	logging.LogDataCalculation(p.Data.GenerationRateBps, p.Data.DownlinkRateBps, data.NetGrowthRateBps, len(data.Recommendations), elapsed, err == nil)
	if err != nil {
		logging.LogWarn("Data budget rejected", "project", p.Name, "field", models.FieldOf(err), "error", err.Error())
		return Results{}, err
	}

	s.cache = &cachedResults{link: p.Link, data: p.Data, linkResult: link, dataResult: data}
	p.LinkResult, p.DataResult = &link, &data

	s.runs = append(s.runs, models.Run{
		ID:         uuid.New().String(),
		Project:    p.Name,
		At:         s.now().UTC(),
		Link:       p.Link,
		Data:       p.Data,
		LinkResult: link,
		DataResult: data,
	})
	if over := len(s.runs) - models.MaxRunHistory; over > 0 {
		s.runs = append([]models.Run(nil), s.runs[over:]...)
	}
	return s.resultsLocked(), nil
}

// Results returns the cached results of the open project.
func (s *Session) Results() (Results, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.project == nil {
		return Results{}, models.ErrNoOpenProject
	}
	return s.resultsLocked(), nil
}

func (s *Session) resultsLocked() Results {
	c := s.cache
	if c == nil || c.link != s.project.Link || c.data != s.project.Data {
		return Results{Stale: true}
	}
	link, data := c.linkResult, c.dataResult
	return Results{Link: &link, Data: &data}
}

// Runs returns the calculation history of the open project, oldest first.
func (s *Session) Runs() ([]models.Run, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.project == nil {
		return nil, models.ErrNoOpenProject
	}
	return s.runsLocked(), nil
}

func (s *Session) runsLocked() []models.Run {
	out := make([]models.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if run.Project == s.project.Name {
			out = append(out, run)
		}
	}
	return out
}

// Snapshot captures the open project for a report.
func (s *Session) Snapshot() (report.Snapshot, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.project == nil {
		return report.Snapshot{}, models.ErrNoOpenProject
	}
	res := s.resultsLocked()
	return report.Snapshot{
		Project:     *s.project,
		Link:        res.Link,
		Data:        res.Data,
		Runs:        s.runsLocked(),
		GeneratedAt: s.now(),
	}, nil
}

// Sweep evaluates the margin of the open project's link across a range of
// one parameter.
func (s *Session) Sweep(param linkbudget.SweepParameter, start, stop, step float64) ([]linkbudget.SweepPoint, error) {
	link, err := s.GetLink()
	if err != nil {
		return nil, err
	}
	return linkbudget.Sweep(link, param, start, stop, step)
}

// CompareModulations evaluates the open project's link under every
// supported modulation.
func (s *Session) CompareModulations() ([]linkbudget.ModulationMargin, error) {
	link, err := s.GetLink()
	if err != nil {
		return nil, err
	}
	return linkbudget.CompareModulations(link)
}

// Timeline simulates the storage backlog of the open project over horizon
// with evenly spaced contacts.
func (s *Session) Timeline(horizon time.Duration) (databudget.Timeline, error) {
	data, err := s.GetData()
	if err != nil {
		return databudget.Timeline{}, err
	}
	start := s.now().UTC().Truncate(time.Minute)
	passDuration := time.Duration(data.PassDurationS * float64(time.Second))
	windows := databudget.UniformWindows(start, horizon, data.PassesPerDay, passDuration, data.DownlinkRateBps)
	return databudget.Simulate(data, start, horizon, windows)
}

// --- import / export ---

// Import reads a project file and stores it as a new project, which is
// then opened. An empty name keeps the name from the file.
func (s *Session) Import(r io.Reader, name string) (models.Project, error) {
	pf, err := report.ImportProject(r)
	if err != nil {
		return models.Project{}, models.InvalidParameter("file", nil, err.Error())
	}
	if name == "" {
		name = pf.Name
	}
	name, err = cleanName(name)
	if err != nil {
		return models.Project{}, err
	}

	p := &models.Project{Name: name, Link: pf.Link, Data: pf.Data}
	if err := validateProject(p); err != nil {
		return models.Project{}, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.createLocked("import", p); err != nil {
		return models.Project{}, err
	}
	return *p, nil
}

// Export renders the open project to w. Failures are *models.ExportError.
func (s *Session) Export(w io.Writer, f report.Format, kind report.Kind) error {
	snap, err := s.Snapshot()
	if err != nil {
		return err
	}
	err = report.Write(w, f, snap, kind)
	if err != nil && !errors.Is(err, models.ErrExport) {
		err = &models.ExportError{Format: string(f), Err: err}
	}
	metrics.ObserveExport(string(f), err)
	return err
}

// ExportFile renders the open project to path, replacing the file only
// when rendering succeeds.
func (s *Session) ExportFile(path string, f report.Format, kind report.Kind) error {
	snap, err := s.Snapshot()
	if err != nil {
		return err
	}
	err = report.WriteFile(path, f, func(w io.Writer) error {
		return report.Write(w, f, snap, kind)
	})
	metrics.ObserveExport(string(f), err)
	return err
}
