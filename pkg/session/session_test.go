package session

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/payback159/cubesatbudget/pkg/auth"
	"github.com/payback159/cubesatbudget/pkg/logging"
	"github.com/payback159/cubesatbudget/pkg/models"
	"github.com/payback159/cubesatbudget/pkg/passes"
	"github.com/payback159/cubesatbudget/pkg/report"
)

func init() {
	logging.InitLogger()
}

// memStore is an in-memory ProjectStore. failNext makes the next write fail.
type memStore struct {
	mu       sync.Mutex
	projects map[string]models.Project
	failNext error
	updates  int
}

func newMemStore() *memStore {
	return &memStore{projects: make(map[string]models.Project)}
}

func (m *memStore) fail() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *memStore) Create(p *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	if _, ok := m.projects[p.Name]; ok {
		return models.ErrProjectExists
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.projects[p.Name] = *p
	return nil
}

func (m *memStore) FindByName(name string) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[name]
	if !ok {
		return nil, models.ErrProjectNotFound
	}
	return &p, nil
}

func (m *memStore) List() ([]models.ProjectSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ProjectSummary
	for _, p := range m.projects {
		out = append(out, models.ProjectSummary{Name: p.Name, UpdatedAt: p.UpdatedAt})
	}
	return out, nil
}

func (m *memStore) Update(p *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail(); err != nil {
		return err
	}
	if _, ok := m.projects[p.Name]; !ok {
		return models.ErrProjectNotFound
	}
	p.UpdatedAt = time.Now()
	stored := *p
	stored.LinkResult, stored.DataResult = nil, nil
	m.projects[p.Name] = stored
	m.updates++
	return nil
}

func (m *memStore) Rename(oldName, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[oldName]
	if !ok {
		return models.ErrProjectNotFound
	}
	if _, ok := m.projects[newName]; ok {
		return models.ErrProjectExists
	}
	delete(m.projects, oldName)
	p.Name = newName
	m.projects[newName] = p
	return nil
}

func (m *memStore) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[name]; !ok {
		return models.ErrProjectNotFound
	}
	delete(m.projects, name)
	return nil
}

func (m *memStore) stored(t *testing.T, name string) models.Project {
	t.Helper()
	p, err := m.FindByName(name)
	if err != nil {
		t.Fatalf("stored project %q: %v", name, err)
	}
	return *p
}

var errDiskFull = &models.PersistenceError{Op: "save", Project: "x", Err: errors.New("disk full")}

func newSession(t *testing.T, opts Options) (*Session, *memStore) {
	t.Helper()
	store := newMemStore()
	opts.Store = store
	s := New(opts)
	if _, err := s.NewProject("mission"); err != nil {
		t.Fatalf("NewProject: %v", err)
	}
	return s, store
}

// --- scenarios ---

func TestSetLinkField_ZeroBandwidthLeavesParametersUnchanged(t *testing.T) {
	s, _ := newSession(t, Options{})
	before, _ := s.GetLink()

	err := s.SetLinkField("bandwidth", "0")
	if !errors.Is(err, models.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
	if field := models.FieldOf(err); field != "bandwidth" {
		t.Errorf("error names field %q, want bandwidth", field)
	}

	after, _ := s.GetLink()
	if after != before {
		t.Errorf("parameters changed after rejected edit:\n got %+v\nwant %+v", after, before)
	}
	if _, dirty, _ := s.Current(); dirty {
		t.Error("rejected edit must not mark the project dirty")
	}
}

func TestUnsupportedModulationKeepsPriorResults(t *testing.T) {
	s, _ := newSession(t, Options{})
	first, err := s.Recalculate()
	if err != nil {
		t.Fatalf("Recalculate: %v", err)
	}

	err = s.SetLinkField("modulation", "CHIRP")
	if !errors.Is(err, models.ErrUnsupportedModulation) {
		t.Fatalf("expected ErrUnsupportedModulation, got %v", err)
	}

	link := models.DefaultLinkParameters()
	link.Modulation = "CHIRP"
	if err := s.SetLink(link); !errors.Is(err, models.ErrUnsupportedModulation) {
		t.Fatalf("SetLink: expected ErrUnsupportedModulation, got %v", err)
	}

	res, err := s.Results()
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if res.Stale || res.Link == nil || res.Link.MarginDB != first.Link.MarginDB {
		t.Errorf("prior results changed: %+v", res)
	}
}

// --- results cache ---

func TestRecalculate_CacheInvalidatedByEdit(t *testing.T) {
	s, _ := newSession(t, Options{})

	if res, _ := s.Results(); !res.Stale {
		t.Error("results of a fresh project should be stale")
	}
	if _, err := s.Recalculate(); err != nil {
		t.Fatalf("Recalculate: %v", err)
	}
	if res, _ := s.Results(); res.Stale || res.Link == nil || res.Data == nil {
		t.Fatalf("results should be fresh: %+v", res)
	}

	if err := s.SetLinkField("tx_power", "1 W"); err != nil {
		t.Fatalf("SetLinkField: %v", err)
	}
	if res, _ := s.Results(); !res.Stale || res.Link != nil {
		t.Errorf("edit must invalidate cached results: %+v", res)
	}
}

func TestRecalculate_RecordsRuns(t *testing.T) {
	s, _ := newSession(t, Options{})
	for i := 0; i < 3; i++ {
		if _, err := s.Recalculate(); err != nil {
			t.Fatalf("Recalculate: %v", err)
		}
	}
	runs, err := s.Runs()
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("want 3 runs, got %d", len(runs))
	}
	if runs[0].ID == runs[1].ID || runs[0].ID == "" {
		t.Error("run IDs must be unique")
	}
	if runs[2].Project != "mission" {
		t.Errorf("run project: got %q", runs[2].Project)
	}
}

func TestRecalculate_NoProject(t *testing.T) {
	s := New(Options{Store: newMemStore()})
	if _, err := s.Recalculate(); !errors.Is(err, models.ErrNoOpenProject) {
		t.Errorf("expected ErrNoOpenProject, got %v", err)
	}
}

// --- field setters ---

func TestSetLinkField_PowerUnits(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"1 W", 0},
		{"30 dBm", 0},
		{"-3", -3},
		{"10W", 10},
		{"-20 dBW", -20},
	}
	s, _ := newSession(t, Options{})
	for _, tc := range tests {
		if err := s.SetLinkField("tx_power", tc.raw); err != nil {
			t.Errorf("SetLinkField(%q): %v", tc.raw, err)
			continue
		}
		link, _ := s.GetLink()
		if math.Abs(link.TxPowerDBW-tc.want) > 1e-9 {
			t.Errorf("tx_power %q: got %v dBW, want %v", tc.raw, link.TxPowerDBW, tc.want)
		}
	}
}

func TestSetField_Rejects(t *testing.T) {
	s, _ := newSession(t, Options{})
	tests := []struct {
		name  string
		set   func() error
		field string
	}{
		{"not a number", func() error { return s.SetLinkField("frequency", "fast") }, "frequency"},
		{"unknown link field", func() error { return s.SetLinkField("colour", "1") }, "colour"},
		{"bad power unit", func() error { return s.SetLinkField("tx_power", "3 hp") }, "tx_power"},
		{"zero watts", func() error { return s.SetLinkField("tx_power", "0 W") }, "tx_power"},
		{"negative capacity", func() error { return s.SetDataField("storage_capacity", "-1") }, "storage_capacity"},
		{"unknown data field", func() error { return s.SetDataField("battery", "1") }, "battery"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.set()
			if !errors.Is(err, models.ErrInvalidParameter) {
				t.Fatalf("expected ErrInvalidParameter, got %v", err)
			}
			if got := models.FieldOf(err); got != tc.field {
				t.Errorf("field: got %q, want %q", got, tc.field)
			}
		})
	}
}

func TestSetDataField_BytesPerOrbit(t *testing.T) {
	s, _ := newSession(t, Options{})
	if err := s.SetDataField("orbit_period", "5000"); err != nil {
		t.Fatalf("SetDataField: %v", err)
	}
	if err := s.SetDataField(FieldGenerationPerOrbit, "500000"); err != nil {
		t.Fatalf("SetDataField: %v", err)
	}
	data, _ := s.GetData()
	if data.GenerationRateBps != 800 {
		t.Errorf("generation rate: got %v bps, want 800", data.GenerationRateBps)
	}
}

func TestApplyPassSummary(t *testing.T) {
	s, _ := newSession(t, Options{})
	sum := passes.Summary{Passes: 10, PassesPerDay: 5, MeanDurationS: 480, MaxRangeKm: 2300}
	if err := s.ApplyPassSummary(sum); err != nil {
		t.Fatalf("ApplyPassSummary: %v", err)
	}
	link, _ := s.GetLink()
	data, _ := s.GetData()
	if link.DistanceM != 2.3e6 || data.PassesPerDay != 5 || data.PassDurationS != 480 {
		t.Errorf("summary not applied: link %+v data %+v", link, data)
	}

	if err := s.ApplyPassSummary(passes.Summary{}); !errors.Is(err, models.ErrInvalidParameter) {
		t.Errorf("empty summary: expected ErrInvalidParameter, got %v", err)
	}
}

// --- persistence ---

func TestSaveAndOpenRoundTrip(t *testing.T) {
	s, store := newSession(t, Options{})
	if err := s.SetLinkField("frequency", "2.4e9"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetDataField("passes_per_day", "6"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Recalculate(); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	want, _, _ := s.Current()

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got, err := s.Open("mission")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got.Link != want.Link || got.Data != want.Data {
		t.Errorf("round trip mismatch:\n got %+v %+v\nwant %+v %+v", got.Link, got.Data, want.Link, want.Data)
	}
	if res, _ := s.Results(); !res.Stale {
		t.Error("results must be stale after loading")
	}
	if stored := store.stored(t, "mission"); stored.LinkResult != nil {
		t.Error("results must never be persisted")
	}
}

func TestSave_FailureKeepsProjectDirty(t *testing.T) {
	s, store := newSession(t, Options{})
	if err := s.SetDataField("passes_per_day", "8"); err != nil {
		t.Fatal(err)
	}

	store.failNext = errDiskFull
	if err := s.Save(); !errors.Is(err, models.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if _, dirty, _ := s.Current(); !dirty {
		t.Error("failed save must leave the project dirty")
	}
	if stored := store.stored(t, "mission"); stored.Data.PassesPerDay == 8 {
		t.Error("failed save must not change stored parameters")
	}
}

func TestSaveOnEdit(t *testing.T) {
	s, store := newSession(t, Options{SaveOnEdit: true})

	if err := s.SetDataField("passes_per_day", "7"); err != nil {
		t.Fatalf("SetDataField: %v", err)
	}
	if stored := store.stored(t, "mission"); stored.Data.PassesPerDay != 7 {
		t.Errorf("edit not written through: %v", stored.Data.PassesPerDay)
	}
	if _, dirty, _ := s.Current(); dirty {
		t.Error("written-through edit must not leave the project dirty")
	}

	store.failNext = errDiskFull
	if err := s.SetDataField("passes_per_day", "9"); !errors.Is(err, models.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	data, _ := s.GetData()
	if data.PassesPerDay != 7 {
		t.Errorf("failed write-through must leave state unchanged, got %v", data.PassesPerDay)
	}
}

func TestAutoSave(t *testing.T) {
	s, store := newSession(t, Options{AutoSaveInterval: 10 * time.Millisecond})

	s.autoSave()
	if store.updates != 0 {
		t.Errorf("clean project must not be saved, got %d updates", store.updates)
	}

	if err := s.SetDataField("passes_per_day", "3"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartAutoSave(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, dirty, _ := s.Current(); !dirty {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("auto-save did not run")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if stored := store.stored(t, "mission"); stored.Data.PassesPerDay != 3 {
		t.Errorf("auto-save did not persist the edit: %v", stored.Data.PassesPerDay)
	}
}

func TestOpen_SavesDirtyProjectFirst(t *testing.T) {
	s, store := newSession(t, Options{})
	if _, err := s.NewProject("second"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetDataField("passes_per_day", "2"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Open("mission"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if stored := store.stored(t, "second"); stored.Data.PassesPerDay != 2 {
		t.Errorf("switching projects lost the pending edit")
	}
}

func TestOpen_RevalidatesStoredParameters(t *testing.T) {
	s, store := newSession(t, Options{})
	broken := store.stored(t, "mission")
	broken.Link.BandwidthHz = 0
	store.projects["broken"] = models.Project{Name: "broken", Link: broken.Link, Data: broken.Data}

	_, err := s.Open("broken")
	if !errors.Is(err, models.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
	if cur, _, _ := s.Current(); cur.Name != "mission" {
		t.Errorf("failed open must keep the previous project, got %q", cur.Name)
	}
}

func TestProjectLifecycle(t *testing.T) {
	s, store := newSession(t, Options{})

	if _, err := s.NewProject("mission"); !errors.Is(err, models.ErrProjectExists) {
		t.Errorf("duplicate create: expected ErrProjectExists, got %v", err)
	}
	if _, err := s.NewProject("   "); !errors.Is(err, models.ErrInvalidParameter) {
		t.Errorf("blank name: expected ErrInvalidParameter, got %v", err)
	}

	if err := s.SetLinkField("distance", "1500e3"); err != nil {
		t.Fatal(err)
	}
	dup, err := s.Duplicate("mission", "mission copy")
	if err != nil {
		t.Fatalf("Duplicate: %v", err)
	}
	if dup.Link.DistanceM != 1.5e6 {
		t.Errorf("duplicate should carry unsaved edits, got %v", dup.Link.DistanceM)
	}

	if _, err := s.Recalculate(); err != nil {
		t.Fatal(err)
	}
	if err := s.Rename("mission", "mission-b"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	cur, _, _ := s.Current()
	if cur.Name != "mission-b" {
		t.Errorf("open project not renamed: %q", cur.Name)
	}
	if runs, _ := s.Runs(); len(runs) != 1 {
		t.Errorf("runs should follow the rename, got %d", len(runs))
	}
	if err := s.Rename("mission-b", "mission copy"); !errors.Is(err, models.ErrProjectExists) {
		t.Errorf("rename onto existing: expected ErrProjectExists, got %v", err)
	}

	if err := s.Delete("mission-b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := s.Current(); !errors.Is(err, models.ErrNoOpenProject) {
		t.Errorf("deleting the open project must close it, got %v", err)
	}
	if err := s.Delete("mission-b"); !errors.Is(err, models.ErrProjectNotFound) {
		t.Errorf("second delete: expected ErrProjectNotFound, got %v", err)
	}

	list, _ := s.List()
	if len(list) != 1 || list[0].Name != "mission copy" {
		t.Errorf("unexpected list %+v", list)
	}
	_ = store
}

// --- theme and login ---

func TestTheme(t *testing.T) {
	s := New(Options{Store: newMemStore(), Theme: models.ThemeDark})
	if s.Theme() != models.ThemeDark {
		t.Errorf("initial theme: got %q", s.Theme())
	}
	if got := s.ToggleTheme(); got != models.ThemeLight {
		t.Errorf("toggle: got %q", got)
	}
	if err := s.SetTheme("sepia"); !errors.Is(err, models.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}
	if err := s.SetTheme(models.ThemeDark); err != nil || s.Theme() != models.ThemeDark {
		t.Errorf("SetTheme: %v / %q", err, s.Theme())
	}
}

func TestLogin(t *testing.T) {
	hash, err := auth.HashPassword("hunter22")
	if err != nil {
		t.Fatal(err)
	}
	policy, err := auth.NewPasswordPolicy(map[string]string{"ops": hash})
	if err != nil {
		t.Fatal(err)
	}
	issuer := auth.NewTokenIssuer(strings.Repeat("k", 32), time.Hour)
	s := New(Options{Store: newMemStore(), Policy: policy, Issuer: issuer})

	token, expires, err := s.Login(context.Background(), "ops", "hunter22")
	if err != nil || token == "" || !expires.After(time.Now()) {
		t.Fatalf("Login: %q %v %v", token, expires, err)
	}
	claims, err := issuer.Parse(token)
	if err != nil || claims.Username != "ops" {
		t.Errorf("token does not carry the user: %v", err)
	}

	if _, _, err := s.Login(context.Background(), "ops", "wrong"); !errors.Is(err, models.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	open := New(Options{Store: newMemStore()})
	if _, _, err := open.Login(context.Background(), "anyone", ""); err != nil {
		t.Errorf("allow-all policy rejected login: %v", err)
	}
}

// --- import / export ---

func TestExportImportProject(t *testing.T) {
	s, _ := newSession(t, Options{})
	if err := s.SetLinkField("modulation", "QPSK"); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := s.Export(&buf, report.FormatJSON, report.KindAll); err != nil {
		t.Fatalf("Export: %v", err)
	}

	imported, err := s.Import(&buf, "imported")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if imported.Link.Modulation != "QPSK" {
		t.Errorf("imported modulation: got %q", imported.Link.Modulation)
	}
	if cur, _, _ := s.Current(); cur.Name != "imported" {
		t.Errorf("import should open the project, got %q", cur.Name)
	}

	bad := `{"version":1,"name":"bad","link":{"bandwidth_hz":0},"data":{}}`
	if _, err := s.Import(strings.NewReader(bad), ""); !errors.Is(err, models.ErrInvalidParameter) {
		t.Errorf("invalid import: expected ErrInvalidParameter, got %v", err)
	}
}

func TestExportFile(t *testing.T) {
	s, _ := newSession(t, Options{})
	if _, err := s.Recalculate(); err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()

	for _, f := range []report.Format{report.FormatCSV, report.FormatXLSX, report.FormatPDF} {
		path := filepath.Join(dir, "out."+string(f))
		if err := s.ExportFile(path, f, report.KindAll); err != nil {
			t.Errorf("ExportFile %s: %v", f, err)
			continue
		}
		if fi, err := os.Stat(path); err != nil || fi.Size() == 0 {
			t.Errorf("%s file missing or empty", f)
		}
	}

	err := s.ExportFile(filepath.Join(dir, "missing", "out.pdf"), report.FormatPDF, report.KindAll)
	if !errors.Is(err, models.ErrExport) {
		t.Errorf("expected ErrExport, got %v", err)
	}
}

func TestTimeline(t *testing.T) {
	s, _ := newSession(t, Options{})
	tl, err := s.Timeline(24 * time.Hour)
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	if len(tl.Points) == 0 || tl.GeneratedBytes <= 0 {
		t.Errorf("empty timeline: %+v", tl)
	}
}
