package storage

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/payback159/cubesatbudget/pkg/models"
)

// ProjectRecord is the projects table. Parameters are flattened into
// columns; results are never stored.
type ProjectRecord struct {
	ID        uint   `gorm:"primarykey,autoIncrement"`
	Name      string `gorm:"size:100;not null;uniqueIndex"`
	CreatedAt time.Time
	UpdatedAt time.Time

	TxPowerDBW     float64
	TxGainDB       float64
	RxGainDB       float64
	FrequencyHz    float64
	DistanceM      float64
	NoiseTempK     float64
	BandwidthHz    float64
	Modulation     string `gorm:"size:20"`
	CodeRate       float64
	DataRateBps    float64
	ExtraLossesDB  float64
	RequiredEbN0DB float64 `gorm:"column:required_ebn0_db"`
	RequiredBER    float64 `gorm:"column:required_ber"`

	GenerationRateBps    float64
	DutyCyclePercent     float64
	DownlinkRateBps      float64
	PassDurationS        float64
	PassesPerDay         float64
	StorageCapacityBytes float64
	CurrentBacklogBytes  float64
	OrbitPeriodS         float64
}

// TableName pins the table name.
func (ProjectRecord) TableName() string { return "projects" }

func recordFromProject(p *models.Project) ProjectRecord {
	return ProjectRecord{
		Name:      p.Name,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,

		TxPowerDBW:     p.Link.TxPowerDBW,
		TxGainDB:       p.Link.TxGainDB,
		RxGainDB:       p.Link.RxGainDB,
		FrequencyHz:    p.Link.FrequencyHz,
		DistanceM:      p.Link.DistanceM,
		NoiseTempK:     p.Link.NoiseTempK,
		BandwidthHz:    p.Link.BandwidthHz,
		Modulation:     p.Link.Modulation,
		CodeRate:       p.Link.CodeRate,
		DataRateBps:    p.Link.DataRateBps,
		ExtraLossesDB:  p.Link.ExtraLossesDB,
		RequiredEbN0DB: p.Link.RequiredEbN0DB,
		RequiredBER:    p.Link.RequiredBER,

		GenerationRateBps:    p.Data.GenerationRateBps,
		DutyCyclePercent:     p.Data.DutyCyclePercent,
		DownlinkRateBps:      p.Data.DownlinkRateBps,
		PassDurationS:        p.Data.PassDurationS,
		PassesPerDay:         p.Data.PassesPerDay,
		StorageCapacityBytes: p.Data.StorageCapacityBytes,
		CurrentBacklogBytes:  p.Data.CurrentBacklogBytes,
		OrbitPeriodS:         p.Data.OrbitPeriodS,
	}
}

func (r *ProjectRecord) toProject() *models.Project {
	return &models.Project{
		Name:      r.Name,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Link: models.LinkBudgetParameters{
			TxPowerDBW:     r.TxPowerDBW,
			TxGainDB:       r.TxGainDB,
			RxGainDB:       r.RxGainDB,
			FrequencyHz:    r.FrequencyHz,
			DistanceM:      r.DistanceM,
			NoiseTempK:     r.NoiseTempK,
			BandwidthHz:    r.BandwidthHz,
			Modulation:     r.Modulation,
			CodeRate:       r.CodeRate,
			DataRateBps:    r.DataRateBps,
			ExtraLossesDB:  r.ExtraLossesDB,
			RequiredEbN0DB: r.RequiredEbN0DB,
			RequiredBER:    r.RequiredBER,
		},
		Data: models.DataBudgetParameters{
			GenerationRateBps:    r.GenerationRateBps,
			DutyCyclePercent:     r.DutyCyclePercent,
			DownlinkRateBps:      r.DownlinkRateBps,
			PassDurationS:        r.PassDurationS,
			PassesPerDay:         r.PassesPerDay,
			StorageCapacityBytes: r.StorageCapacityBytes,
			CurrentBacklogBytes:  r.CurrentBacklogBytes,
			OrbitPeriodS:         r.OrbitPeriodS,
		},
	}
}

// ProjectRepository stores projects by unique name. Failures other than
// not-found and already-exists come back as *models.PersistenceError.
type ProjectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{
		db: db,
	}
}

func (r *ProjectRepository) Create(p *models.Project) error {
	rec := recordFromProject(p)
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ProjectRecord{}).Where("name = ?", p.Name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return models.ErrProjectExists
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return translate("create", p.Name, err)
	}
	p.CreatedAt, p.UpdatedAt = rec.CreatedAt, rec.UpdatedAt
	return nil
}

func (r *ProjectRepository) FindByName(name string) (*models.Project, error) {
	var rec ProjectRecord
	if err := r.db.Where("name = ?", name).First(&rec).Error; err != nil {
		return nil, translate("load", name, err)
	}
	return rec.toProject(), nil
}

// List returns every project, most recently updated first.
func (r *ProjectRepository) List() ([]models.ProjectSummary, error) {
	var recs []ProjectRecord
	err := r.db.Select("name", "updated_at").Order("updated_at DESC").Order("name").Find(&recs).Error
	if err != nil {
		return nil, translate("list", "", err)
	}
	out := make([]models.ProjectSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, models.ProjectSummary{Name: rec.Name, UpdatedAt: rec.UpdatedAt})
	}
	return out, nil
}

// Update overwrites the stored parameters of an existing project.
func (r *ProjectRepository) Update(p *models.Project) error {
	rec := recordFromProject(p)
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var existing ProjectRecord
		if err := tx.Where("name = ?", p.Name).First(&existing).Error; err != nil {
			return err
		}
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		return tx.Save(&rec).Error
	})
	if err != nil {
		return translate("save", p.Name, err)
	}
	p.CreatedAt, p.UpdatedAt = rec.CreatedAt, rec.UpdatedAt
	return nil
}

func (r *ProjectRepository) Rename(oldName, newName string) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ProjectRecord{}).Where("name = ?", newName).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return models.ErrProjectExists
		}
		res := tx.Model(&ProjectRecord{}).Where("name = ?", oldName).
			Updates(map[string]any{"name": newName, "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return translate("rename", oldName, err)
	}
	return nil
}

func (r *ProjectRepository) Delete(name string) error {
	res := r.db.Where("name = ?", name).Delete(&ProjectRecord{})
	if res.Error != nil {
		return translate("delete", name, res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrProjectNotFound
	}
	return nil
}

func translate(op, name string, err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return models.ErrProjectNotFound
	case errors.Is(err, models.ErrProjectExists), errors.Is(err, gorm.ErrDuplicatedKey):
		return models.ErrProjectExists
	}
	return &models.PersistenceError{Op: op, Project: name, Err: err}
}
