package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/payback159/cubesatbudget/pkg/models"
)

// ProjectFileVersion is written into every exported project file.
const ProjectFileVersion = 1

// ProjectFile is the on-disk JSON form of a project. Only parameters are
// carried; results are recomputed after import.
type ProjectFile struct {
	Version    int                         `json:"version"`
	Name       string                      `json:"name"`
	ExportedAt time.Time                   `json:"exported_at"`
	Link       models.LinkBudgetParameters `json:"link"`
	Data       models.DataBudgetParameters `json:"data"`
}

// ExportProject writes p as indented JSON.
func ExportProject(w io.Writer, p models.Project) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ProjectFile{
		Version:    ProjectFileVersion,
		Name:       p.Name,
		ExportedAt: time.Now().UTC(),
		Link:       p.Link,
		Data:       p.Data,
	})
}

// ImportProject decodes a project file. Unknown fields are rejected;
// parameter validation is left to the caller. A file without
// duty_cycle_percent generates data all the time.
func ImportProject(r io.Reader) (ProjectFile, error) {
	dec := json.NewDecoder(io.LimitReader(r, models.MaxImportSize+1))
	dec.DisallowUnknownFields()

	var pf ProjectFile
	pf.Data.DutyCyclePercent = 100
	if err := dec.Decode(&pf); err != nil {
		return ProjectFile{}, fmt.Errorf("decode project file: %w", err)
	}
	if pf.Version == 0 || pf.Version > ProjectFileVersion {
		return ProjectFile{}, fmt.Errorf("unsupported project file version %d", pf.Version)
	}
	return pf, nil
}
