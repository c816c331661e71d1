package downloads

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/payback159/cubesatbudget/pkg/logging"
	"github.com/payback159/cubesatbudget/pkg/metrics"
	"github.com/payback159/cubesatbudget/pkg/models"
	"github.com/payback159/cubesatbudget/pkg/report"
	"github.com/payback159/cubesatbudget/pkg/security"
	"github.com/payback159/cubesatbudget/pkg/session"
)

// Handler serves report downloads for the open project.
type Handler struct {
	Session    *session.Session
	TrustProxy bool
}

func NewHandler(s *session.Session, trustProxy bool) *Handler {
	return &Handler{Session: s, TrustProxy: trustProxy}
}

// Register adds the download routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /download/runs.csv", h.HandleRunsCSV)
	mux.HandleFunc("GET /download/runs.xlsx", h.HandleWorkbook)
	mux.HandleFunc("GET /download/report.pdf", h.HandleReportPDF)
	mux.HandleFunc("GET /download/project.json", h.HandleProjectJSON)
}

// writeResponseSafe safely writes response with error handling
func writeResponseSafe(w http.ResponseWriter, buffer *bytes.Buffer, project, ip string) {
	if _, err := w.Write(buffer.Bytes()); err != nil {
		logging.LogError("Failed to write response", err,
			"project", project,
			"ip", ip)
		// Response already started, can't send error status
	}
}

// setDownloadHeaders sets common security and caching headers for downloads
func setDownloadHeaders(w http.ResponseWriter, contentType, filename string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// snapshot fetches the open project, answering 409 when there is none.
func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request, what string) (report.Snapshot, string, bool) {
	ip := security.GetClientIP(r, h.TrustProxy)
	logging.LogInfo("Download requested",
		"download", what,
		"ip", ip)

	snap, err := h.Session.Snapshot()
	if errors.Is(err, models.ErrNoOpenProject) {
		logging.LogWarn("Download requested but no project is open",
			"download", what,
			"ip", ip)
		http.Error(w, "No project is open", http.StatusConflict)
		return report.Snapshot{}, ip, false
	}
	if err != nil {
		logging.LogError("Failed to snapshot project", err, "ip", ip)
		http.Error(w, "Failed to prepare download", http.StatusInternalServerError)
		return report.Snapshot{}, ip, false
	}
	return snap, ip, true
}

// serve renders the snapshot into memory first so a failed render still
// gets a proper error status.
func serve(w http.ResponseWriter, snap report.Snapshot, f report.Format, kind report.Kind, filename, ip string) {
	start := time.Now()

	var buffer bytes.Buffer
	err := report.Write(&buffer, f, snap, kind)
	if err != nil {
		err = &models.ExportError{Format: string(f), Err: err}
	}
	metrics.ObserveExport(string(f), err)
	if err != nil {
		logging.LogError("Failed to render download", err,
			"project", snap.Project.Name,
			"format", string(f),
			"ip", ip)
		http.Error(w, "Failed to generate file", http.StatusInternalServerError)
		return
	}

	setDownloadHeaders(w, f.ContentType(), filename)
	writeResponseSafe(w, &buffer, snap.Project.Name, ip)

	logging.LogFileOperation(string(f)+"_download", filename, int64(buffer.Len()), time.Since(start), true,
		"project", snap.Project.Name,
		"run_count", len(snap.Runs),
		"ip", ip)
}

func filename(project, suffix string) string {
	return security.SafeFilename(project) + suffix
}

// HandleRunsCSV handles CSV download of the calculation history
func (h *Handler) HandleRunsCSV(w http.ResponseWriter, r *http.Request) {
	snap, ip, ok := h.snapshot(w, r, "runs.csv")
	if !ok {
		return
	}
	if len(snap.Runs) == 0 {
		logging.LogWarn("Runs download requested but no data available",
			"project", snap.Project.Name,
			"ip", ip)
		http.Error(w, "No calculation runs available for download", http.StatusBadRequest)
		return
	}
	serve(w, snap, report.FormatCSV, report.KindAll, filename(snap.Project.Name, "_runs.csv"), ip)
}

// HandleWorkbook handles Excel download of parameters, results and runs
func (h *Handler) HandleWorkbook(w http.ResponseWriter, r *http.Request) {
	snap, ip, ok := h.snapshot(w, r, "runs.xlsx")
	if !ok {
		return
	}
	serve(w, snap, report.FormatXLSX, report.KindAll, filename(snap.Project.Name, ".xlsx"), ip)
}

// HandleReportPDF handles the PDF report; ?kind=link|data|all selects the
// sections.
func (h *Handler) HandleReportPDF(w http.ResponseWriter, r *http.Request) {
	kind, err := report.ParseKind(r.URL.Query().Get("kind"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	snap, ip, ok := h.snapshot(w, r, "report.pdf")
	if !ok {
		return
	}
	serve(w, snap, report.FormatPDF, kind, filename(snap.Project.Name, "_"+string(kind)+".pdf"), ip)
}

// HandleProjectJSON handles export of the project parameters
func (h *Handler) HandleProjectJSON(w http.ResponseWriter, r *http.Request) {
	snap, ip, ok := h.snapshot(w, r, "project.json")
	if !ok {
		return
	}
	serve(w, snap, report.FormatJSON, report.KindAll, filename(snap.Project.Name, ".json"), ip)
}
