package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/csrf"

	"github.com/payback159/cubesatbudget/pkg/linkbudget"
	"github.com/payback159/cubesatbudget/pkg/logging"
	"github.com/payback159/cubesatbudget/pkg/models"
	"github.com/payback159/cubesatbudget/pkg/passes"
	"github.com/payback159/cubesatbudget/pkg/security"
	"github.com/payback159/cubesatbudget/pkg/session"
)

const maxBodySize = 64 << 10

// Handler holds dependencies for HTTP handlers
type Handler struct {
	Session    *session.Session
	Station    passes.Station
	TrustProxy bool
}

// NewHandler creates a new handler with dependencies
func NewHandler(s *session.Session, station passes.Station, trustProxy bool) *Handler {
	return &Handler{
		Session:    s,
		Station:    station,
		TrustProxy: trustProxy,
	}
}

// Register adds the JSON API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	mux.HandleFunc("POST /api/login", h.HandleLogin)
	mux.HandleFunc("GET /api/csrf", h.HandleCSRF)
	mux.HandleFunc("GET /api/theme", h.HandleGetTheme)
	mux.HandleFunc("PUT /api/theme", h.HandleSetTheme)

	mux.HandleFunc("GET /api/projects", h.HandleListProjects)
	mux.HandleFunc("POST /api/projects", h.HandleCreateProject)
	mux.HandleFunc("POST /api/projects/import", h.HandleImportProject)
	mux.HandleFunc("POST /api/projects/{name}/open", h.HandleOpenProject)
	mux.HandleFunc("POST /api/projects/{name}/rename", h.HandleRenameProject)
	mux.HandleFunc("POST /api/projects/{name}/duplicate", h.HandleDuplicateProject)
	mux.HandleFunc("DELETE /api/projects/{name}", h.HandleDeleteProject)

	mux.HandleFunc("GET /api/project", h.HandleCurrentProject)
	mux.HandleFunc("POST /api/project/save", h.HandleSaveProject)
	mux.HandleFunc("POST /api/project/close", h.HandleCloseProject)
	mux.HandleFunc("GET /api/project/link", h.HandleGetLink)
	mux.HandleFunc("PUT /api/project/link", h.HandleSetLink)
	mux.HandleFunc("PUT /api/project/link/{field}", h.HandleSetLinkField)
	mux.HandleFunc("GET /api/project/link/sweep", h.HandleSweep)
	mux.HandleFunc("GET /api/project/link/modulations", h.HandleModulations)
	mux.HandleFunc("GET /api/project/data", h.HandleGetData)
	mux.HandleFunc("PUT /api/project/data", h.HandleSetData)
	mux.HandleFunc("PUT /api/project/data/{field}", h.HandleSetDataField)
	mux.HandleFunc("GET /api/project/data/timeline", h.HandleTimeline)
	mux.HandleFunc("POST /api/project/recalculate", h.HandleRecalculate)
	mux.HandleFunc("GET /api/project/results", h.HandleResults)

	mux.HandleFunc("POST /api/passes", h.HandlePasses)
}

// getCSRFToken returns the CSRF token in production, empty string for development
func getCSRFToken(r *http.Request) string {
	if os.Getenv("ENV") == "production" {
		return csrf.Token(r)
	}
	return ""
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.LogError("Failed to write response", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, msgType models.MessageType, text string) {
	writeJSON(w, status, models.Message{Type: msgType, Text: text})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidParameter),
		errors.Is(err, models.ErrUnsupportedModulation),
		errors.Is(err, passes.ErrInvalidTLE):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrProjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrProjectExists),
		errors.Is(err, models.ErrNoOpenProject):
		return http.StatusConflict
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// writeError reports err to the client. Internal failures are logged and
// answered with a generic text.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := models.Message{Type: models.MessageError, Text: err.Error(), Field: models.FieldOf(err)}

	if status == http.StatusInternalServerError {
		logging.LogError("Request failed", err,
			"method", r.Method,
			"path", r.URL.Path,
			"ip", security.GetClientIP(r, h.TrustProxy))
		msg.Text = "internal error"
	} else {
		logging.LogDebug("Request rejected",
			"path", r.URL.Path,
			"status", status,
			"error", err.Error())
	}
	writeJSON(w, status, msg)
}

// decodeJSON reads a size-limited JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return models.InvalidParameter("body", nil, err.Error())
	}
	return nil
}

// --- system ---

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) HandleCSRF(w http.ResponseWriter, r *http.Request) {
	token := getCSRFToken(r)
	if token != "" {
		w.Header().Set("X-CSRF-Token", token)
	}
	writeJSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Username  string     `json:"username"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	token, expires, err := h.Session.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		logging.LogSecurityEvent("Login rejected", "medium",
			"ip", security.GetClientIP(r, h.TrustProxy),
			"user_agent", r.UserAgent())
		h.writeError(w, r, err)
		return
	}
	resp := loginResponse{Username: req.Username, Token: token}
	if token != "" {
		resp.ExpiresAt = &expires
	}
	writeJSON(w, http.StatusOK, resp)
}

type themeBody struct {
	Theme models.Theme `json:"theme"`
}

func (h *Handler) HandleGetTheme(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, themeBody{Theme: h.Session.Theme()})
}

// HandleSetTheme sets the theme from the body; an empty body toggles it.
func (h *Handler) HandleSetTheme(w http.ResponseWriter, r *http.Request) {
	var body themeBody
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &body); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if body.Theme == "" {
		writeJSON(w, http.StatusOK, themeBody{Theme: h.Session.ToggleTheme()})
		return
	}
	if err := h.Session.SetTheme(body.Theme); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// --- projects ---

type nameBody struct {
	Name string `json:"name"`
}

type projectResponse struct {
	Project models.Project `json:"project"`
	Dirty   bool           `json:"dirty"`
}

func (h *Handler) HandleListProjects(w http.ResponseWriter, r *http.Request) {
	list, err := h.Session.List()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.ProjectSummary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) HandleCreateProject(w http.ResponseWriter, r *http.Request) {
	var body nameBody
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.Session.NewProject(body.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, projectResponse{Project: p})
}

// HandleImportProject accepts a project file upload in the "file" form
// field. An optional "name" field overrides the name stored in the file.
func (h *Handler) HandleImportProject(w http.ResponseWriter, r *http.Request) {
	ip := security.GetClientIP(r, h.TrustProxy)
	r.Body = http.MaxBytesReader(w, r.Body, models.MaxImportSize+maxBodySize)

	if err := r.ParseMultipartForm(models.MaxImportSize); err != nil {
		logging.LogWarn("Import form parsing failed",
			"content_length", r.ContentLength,
			"content_type", r.Header.Get("Content-Type"),
			"ip", ip)
		h.writeError(w, r, models.InvalidParameter("file", nil, "expected a multipart upload"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, models.InvalidParameter("file", nil, "is required"))
		return
	}
	defer file.Close()

	if err := security.ValidateImport(header.Filename, header.Size); err != nil {
		logging.LogSecurityEvent("Rejected project import", "medium",
			"reason", err.Error(),
			"size", header.Size,
			"ip", ip)
		h.writeError(w, r, models.InvalidParameter("file", nil, err.Error()))
		return
	}

	p, err := h.Session.Import(file, r.FormValue("name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, projectResponse{Project: p})
}

func (h *Handler) HandleOpenProject(w http.ResponseWriter, r *http.Request) {
	p, err := h.Session.Open(r.PathValue("name"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projectResponse{Project: p})
}

func (h *Handler) HandleRenameProject(w http.ResponseWriter, r *http.Request) {
	var body nameBody
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Session.Rename(r.PathValue("name"), body.Name); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, models.MessageSuccess, "project renamed")
}

func (h *Handler) HandleDuplicateProject(w http.ResponseWriter, r *http.Request) {
	var body nameBody
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.Session.Duplicate(r.PathValue("name"), body.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, projectResponse{Project: p})
}

func (h *Handler) HandleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Delete(r.PathValue("name")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleCurrentProject(w http.ResponseWriter, r *http.Request) {
	p, dirty, err := h.Session.Current()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projectResponse{Project: p, Dirty: dirty})
}

func (h *Handler) HandleSaveProject(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Save(); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, models.MessageSuccess, "project saved")
}

func (h *Handler) HandleCloseProject(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.Close(); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, models.MessageSuccess, "project closed")
}

// --- parameters ---

func (h *Handler) HandleGetLink(w http.ResponseWriter, r *http.Request) {
	link, err := h.Session.GetLink()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (h *Handler) HandleSetLink(w http.ResponseWriter, r *http.Request) {
	var link models.LinkBudgetParameters
	if err := decodeJSON(r, &link); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Session.SetLink(link); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

type fieldBody struct {
	Value string `json:"value"`
}

func (h *Handler) HandleSetLinkField(w http.ResponseWriter, r *http.Request) {
	var body fieldBody
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Session.SetLinkField(r.PathValue("field"), body.Value); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.HandleGetLink(w, r)
}

func (h *Handler) HandleGetData(w http.ResponseWriter, r *http.Request) {
	data, err := h.Session.GetData()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (h *Handler) HandleSetData(w http.ResponseWriter, r *http.Request) {
	var data models.DataBudgetParameters
	if err := decodeJSON(r, &data); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Session.SetData(data); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (h *Handler) HandleSetDataField(w http.ResponseWriter, r *http.Request) {
	var body fieldBody
	if err := decodeJSON(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.Session.SetDataField(r.PathValue("field"), body.Value); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.HandleGetData(w, r)
}

// --- calculations ---

func (h *Handler) HandleRecalculate(w http.ResponseWriter, r *http.Request) {
	res, err := h.Session.Recalculate()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleResults(w http.ResponseWriter, r *http.Request) {
	res, err := h.Session.Results()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func queryFloat(r *http.Request, name string) (float64, error) {
	raw := r.URL.Query().Get(name)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, models.InvalidParameter(name, raw, "must be a number")
	}
	return v, nil
}

func (h *Handler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	param := linkbudget.SweepParameter(r.URL.Query().Get("param"))
	var bounds [3]float64
	for i, name := range []string{"start", "stop", "step"} {
		v, err := queryFloat(r, name)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		bounds[i] = v
	}
	points, err := h.Session.Sweep(param, bounds[0], bounds[1], bounds[2])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *Handler) HandleModulations(w http.ResponseWriter, r *http.Request) {
	margins, err := h.Session.CompareModulations()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, margins)
}

// HandleTimeline simulates the storage backlog; "hours" defaults to 24.
func (h *Handler) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	hours := 24.0
	if r.URL.Query().Has("hours") {
		v, err := queryFloat(r, "hours")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		hours = v
	}
	horizon := time.Duration(hours * float64(time.Hour))
	if horizon > passes.MaxHorizon {
		h.writeError(w, r, models.InvalidParameter("hours", hours,
			fmt.Sprintf("must be at most %.0f", passes.MaxHorizon.Hours())))
		return
	}
	tl, err := h.Session.Timeline(horizon)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

// --- pass prediction ---

type passesRequest struct {
	TLE             string          `json:"tle"`
	Station         *passes.Station `json:"station,omitempty"`
	Start           time.Time       `json:"start,omitempty"`
	Hours           float64         `json:"hours,omitempty"`
	MinElevationDeg float64         `json:"min_elevation_deg"`
	Apply           bool            `json:"apply"`
}

type passesResponse struct {
	Passes  []passes.Pass  `json:"passes"`
	Summary passes.Summary `json:"summary"`
	Applied bool           `json:"applied"`
}

// HandlePasses predicts contacts for a TLE over the ground station and,
// with "apply" set, feeds the summary into the open project.
func (h *Handler) HandlePasses(w http.ResponseWriter, r *http.Request) {
	var req passesRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	tle, err := passes.ParseTLE(strings.NewReader(req.TLE))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	station := h.Station
	if req.Station != nil {
		station = *req.Station
	}
	horizon := passes.DefaultHorizon
	if req.Hours > 0 {
		horizon = time.Duration(req.Hours * float64(time.Hour))
	}

	start := time.Now()
	found, err := passes.Predict(r.Context(), passes.Request{
		TLE:             tle,
		Station:         station,
		Start:           req.Start,
		Horizon:         horizon,
		MinElevationDeg: req.MinElevationDeg,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		if !errors.Is(err, passes.ErrInvalidTLE) {
			err = models.InvalidParameter("passes", nil, err.Error())
		}
		h.writeError(w, r, err)
		return
	}
	logging.LogPerformance("pass_prediction", time.Since(start),
		"satellite", tle.Name,
		"passes", len(found))

	resp := passesResponse{Passes: found, Summary: passes.Summarize(found, horizon)}
	if resp.Passes == nil {
		resp.Passes = []passes.Pass{}
	}
	if req.Apply {
		if err := h.Session.ApplyPassSummary(resp.Summary); err != nil {
			h.writeError(w, r, err)
			return
		}
		resp.Applied = true
	}
	writeJSON(w, http.StatusOK, resp)
}
