package models

import "time"

// Project is a named container of one link budget and one data budget.
// Results are never persisted; they are recomputed after every load.
type Project struct {
	Name      string               `json:"name"`
	Link      LinkBudgetParameters `json:"link"`
	Data      DataBudgetParameters `json:"data"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`

	LinkResult *LinkBudgetResult `json:"-"`
	DataResult *DataBudgetResult `json:"-"`
}

// Run is one recorded recalculation of a project.
type Run struct {
	ID         string               `json:"id"`
	Project    string               `json:"project"`
	At         time.Time            `json:"at"`
	Link       LinkBudgetParameters `json:"link"`
	Data       DataBudgetParameters `json:"data"`
	LinkResult LinkBudgetResult     `json:"link_result"`
	DataResult DataBudgetResult     `json:"data_result"`
}

// ProjectSummary is a listing entry.
type ProjectSummary struct {
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
}
