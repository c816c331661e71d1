// Package session holds the open project, its cached results and the
// calculation history, and writes changes through to the project store.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/payback159/cubesatbudget/pkg/auth"
	"github.com/payback159/cubesatbudget/pkg/databudget"
	"github.com/payback159/cubesatbudget/pkg/linkbudget"
	"github.com/payback159/cubesatbudget/pkg/logging"
	"github.com/payback159/cubesatbudget/pkg/metrics"
	"github.com/payback159/cubesatbudget/pkg/models"
	"github.com/payback159/cubesatbudget/pkg/security"
)

// ProjectStore persists projects by name.
type ProjectStore interface {
	Create(p *models.Project) error
	FindByName(name string) (*models.Project, error)
	List() ([]models.ProjectSummary, error)
	Update(p *models.Project) error
	Rename(oldName, newName string) error
	Delete(name string) error
}

// Options configures a Session. Zero values fall back to defaults.
type Options struct {
	Store            ProjectStore
	Policy           auth.Policy
	Issuer           *auth.TokenIssuer
	Rules            []databudget.Rule
	Theme            models.Theme
	DefaultLink      *models.LinkBudgetParameters
	DefaultData      *models.DataBudgetParameters
	AutoSaveInterval time.Duration
	SaveOnEdit       bool
}

// Session is the single piece of shared mutable state. Every exported
// method is safe for concurrent use.
type Session struct {
	mutex sync.Mutex

	store  ProjectStore
	policy auth.Policy
	issuer *auth.TokenIssuer
	rules  []databudget.Rule

	defaultLink models.LinkBudgetParameters
	defaultData models.DataBudgetParameters

	theme   models.Theme
	project *models.Project
	dirty   bool
	cache   *cachedResults
	runs    []models.Run

	saveOnEdit bool
	interval   time.Duration
	now        func() time.Time
}

// cachedResults are valid only while the project still has the parameters
// they were computed from.
type cachedResults struct {
	link       models.LinkBudgetParameters
	data       models.DataBudgetParameters
	linkResult models.LinkBudgetResult
	dataResult models.DataBudgetResult
}

// New creates a session with no open project.
func New(opts Options) *Session {
	s := &Session{
		store:       opts.Store,
		policy:      opts.Policy,
		issuer:      opts.Issuer,
		rules:       opts.Rules,
		defaultLink: models.DefaultLinkParameters(),
		defaultData: models.DefaultDataParameters(),
		theme:       opts.Theme,
		saveOnEdit:  opts.SaveOnEdit,
		interval:    opts.AutoSaveInterval,
		now:         time.Now,
	}
	if s.policy == nil {
		s.policy = auth.AllowAll{}
	}
	if s.rules == nil {
		s.rules = databudget.DefaultRules()
	}
	if !s.theme.Valid() {
		s.theme = models.ThemeLight
	}
	if opts.DefaultLink != nil {
		s.defaultLink = *opts.DefaultLink
	}
	if opts.DefaultData != nil {
		s.defaultData = *opts.DefaultData
	}
	return s
}

// StartAutoSave writes the open project on every tick while it has unsaved
// changes. It returns immediately; the loop ends with ctx. Nothing is
// started when edits are saved immediately or the interval is zero.
func (s *Session) StartAutoSave(ctx context.Context) {
	if s.saveOnEdit || s.interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.autoSave()
			}
		}
	}()
	logging.LogInfo("Auto-save started", "interval", s.interval.String())
}

func (s *Session) autoSave() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.project == nil || !s.dirty {
		return
	}
	if err := s.saveLocked("autosave"); err != nil {
		logging.LogError("Auto-save failed", err, "project", s.project.Name)
	}
}

// --- project lifecycle ---

// List returns the stored projects, most recently updated first.
func (s *Session) List() ([]models.ProjectSummary, error) {
	return s.store.List()
}

// NewProject stores a project with default parameters and opens it.
func (s *Session) NewProject(name string) (models.Project, error) {
	name, err := cleanName(name)
	if err != nil {
		return models.Project{}, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	p := &models.Project{Name: name, Link: s.defaultLink, Data: s.defaultData}
	if err := s.createLocked("create", p); err != nil {
		return models.Project{}, err
	}
	return *p, nil
}

// createLocked stores p and makes it the open project, flushing the
// previous one first.
func (s *Session) createLocked(op string, p *models.Project) error {
	if err := s.flushLocked(); err != nil {
		return err
	}
	err := s.store.Create(p)
	metrics.ObserveProjectOp(op, err)
	logging.LogProjectOperation(op, p.Name, err)
	if err != nil {
		return err
	}
	s.activate(p)
	return nil
}

// Open loads a stored project. Parameters are re-validated and results
// start out stale.
func (s *Session) Open(name string) (models.Project, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.flushLocked(); err != nil {
		return models.Project{}, err
	}

	p, err := s.store.FindByName(name)
	if err == nil {
		err = validateProject(p)
	}
	metrics.ObserveProjectOp("open", err)
	logging.LogProjectOperation("open", name, err)
	if err != nil {
		return models.Project{}, err
	}
	s.activate(p)
	return *p, nil
}

func (s *Session) activate(p *models.Project) {
	p.LinkResult, p.DataResult = nil, nil
	s.project = p
	s.dirty = false
	s.cache = nil
}

// Rename changes a stored project's name, following it if it is open.
func (s *Session) Rename(oldName, newName string) error {
	newName, err := cleanName(newName)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	err = s.store.Rename(oldName, newName)
	metrics.ObserveProjectOp("rename", err)
	logging.LogProjectOperation("rename", oldName, err, "new_name", newName)
	if err != nil {
		return err
	}
	if s.project != nil && s.project.Name == oldName {
		s.project.Name = newName
	}
	for i := range s.runs {
		if s.runs[i].Project == oldName {
			s.runs[i].Project = newName
		}
	}
	return nil
}

// Duplicate stores a copy of src under dst. An open src is copied with its
// unsaved edits. The open project does not change.
func (s *Session) Duplicate(src, dst string) (models.Project, error) {
	dst, err := cleanName(dst)
	if err != nil {
		return models.Project{}, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	var source *models.Project
	if s.project != nil && s.project.Name == src {
		source = s.project
	} else if source, err = s.store.FindByName(src); err != nil {
		return models.Project{}, err
	}

	p := &models.Project{Name: dst, Link: source.Link, Data: source.Data}
	err = s.store.Create(p)
	metrics.ObserveProjectOp("duplicate", err)
	logging.LogProjectOperation("duplicate", src, err, "new_name", dst)
	if err != nil {
		return models.Project{}, err
	}
	return *p, nil
}

// Delete removes a stored project, closing it without saving if it is open.
func (s *Session) Delete(name string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	err := s.store.Delete(name)
	metrics.ObserveProjectOp("delete", err)
	logging.LogProjectOperation("delete", name, err)
	if err != nil {
		return err
	}
	if s.project != nil && s.project.Name == name {
		s.project = nil
		s.dirty = false
		s.cache = nil
	}
	return nil
}

// Save writes the open project. On failure the project stays dirty.
func (s *Session) Save() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.project == nil {
		return models.ErrNoOpenProject
	}
	return s.saveLocked("save")
}

func (s *Session) saveLocked(op string) error {
	next := *s.project
	err := s.store.Update(&next)
	metrics.ObserveProjectOp(op, err)
	logging.LogProjectOperation(op, next.Name, err)
	if err != nil {
		return err
	}
	s.project.CreatedAt, s.project.UpdatedAt = next.CreatedAt, next.UpdatedAt
	s.dirty = false
	return nil
}

// flushLocked saves the open project if it has unsaved changes.
func (s *Session) flushLocked() error {
	if s.project == nil || !s.dirty {
		return nil
	}
	return s.saveLocked("autosave")
}

// Close saves pending changes and closes the open project. If the save
// fails the project stays open.
func (s *Session) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.project == nil {
		return nil
	}
	if err := s.flushLocked(); err != nil {
		return err
	}
	logging.LogProjectOperation("close", s.project.Name, nil)
	s.project = nil
	s.cache = nil
	return nil
}

// Current returns a copy of the open project and whether it has unsaved
// changes.
func (s *Session) Current() (models.Project, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.project == nil {
		return models.Project{}, false, models.ErrNoOpenProject
	}
	return *s.project, s.dirty, nil
}

// --- theme ---

func (s *Session) Theme() models.Theme {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.theme
}

func (s *Session) SetTheme(t models.Theme) error {
	if !t.Valid() {
		return models.InvalidParameter("theme", string(t), "must be light or dark")
	}
	s.mutex.Lock()
	s.theme = t
	s.mutex.Unlock()
	return nil
}

// ToggleTheme switches between light and dark and returns the new theme.
func (s *Session) ToggleTheme() models.Theme {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.theme == models.ThemeDark {
		s.theme = models.ThemeLight
	} else {
		s.theme = models.ThemeDark
	}
	return s.theme
}

// --- authentication ---

// Login checks the credentials against the policy. When a token issuer is
// configured the returned token authorizes API calls until expires.
func (s *Session) Login(ctx context.Context, user, password string) (string, time.Time, error) {
	if err := s.policy.Authenticate(ctx, user, password); err != nil {
		logging.LogSecurityEvent("login_failed", "medium", "user", user)
		if errors.Is(err, models.ErrUnauthorized) {
			return "", time.Time{}, err
		}
		return "", time.Time{}, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}
	logging.LogInfo("User logged in", "user", user)
	if s.issuer == nil {
		return "", time.Time{}, nil
	}
	return s.issuer.Issue(user)
}

// --- helpers ---

func cleanName(name string) (string, error) {
	name = security.SanitizeProjectName(name)
	if err := security.ValidateProjectName(name); err != nil {
		return "", err
	}
	return name, nil
}

func validateProject(p *models.Project) error {
	if err := linkbudget.Validate(p.Link); err != nil {
		return err
	}
	return databudget.Validate(p.Data)
}
