package database

import (
	"context"
	"errors"
	"math"
	"time"

	"gorm.io/gorm"

	"certdao/internal/models"
	"certdao/internal/registry"
)

const escrowID = 1

// RegistrationStore persists registrations and the fee escrow with GORM.
type RegistrationStore struct {
	db *gorm.DB
}

// NewRegistrationStore creates a store over db.
func NewRegistrationStore(db *gorm.DB) *RegistrationStore {
	return &RegistrationStore{db: db}
}

var _ registry.Store = (*RegistrationStore)(nil)

func (s *RegistrationStore) Get(ctx context.Context, subject registry.Identity) (*registry.Registration, error) {
	var row models.Registration
	err := s.db.WithContext(ctx).Where("subject = ?", subject.String()).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, registry.ErrNotFound
		}
		return nil, err
	}
	return fromRow(&row), nil
}

func (s *RegistrationStore) FindActiveByDomain(ctx context.Context, domain string) (*registry.Registration, error) {
	var row models.Registration
	err := s.db.WithContext(ctx).
		Where("domain = ? AND status <> ?", domain, string(registry.StatusRevoked)).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, registry.ErrNotFound
		}
		return nil, err
	}
	return fromRow(&row), nil
}

// List returns all registrations ordered by subject.
func (s *RegistrationStore) List(ctx context.Context) ([]*registry.Registration, error) {
	var rows []models.Registration
	if err := s.db.WithContext(ctx).Order("subject asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*registry.Registration, len(rows))
	for i := range rows {
		out[i] = fromRow(&rows[i])
	}
	return out, nil
}

// Save writes the registration and credits the escrow in one transaction.
func (s *RegistrationStore) Save(ctx context.Context, reg *registry.Registration, credit registry.Amount) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(toRow(reg)).Error; err != nil {
			return err
		}
		if credit == 0 {
			return nil
		}
		if credit < 0 {
			return registry.ErrFeeOverflow
		}
		res := tx.Model(&models.Escrow{}).
			Where("id = ? AND balance <= ?", escrowID, int64(math.MaxInt64-credit)).
			UpdateColumn("balance", gorm.Expr("balance + ?", int64(credit)))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return registry.ErrFeeOverflow
		}
		return nil
	})
}

func (s *RegistrationStore) Balance(ctx context.Context) (registry.Amount, error) {
	var escrow models.Escrow
	if err := s.db.WithContext(ctx).First(&escrow, escrowID).Error; err != nil {
		return 0, err
	}
	return registry.Amount(escrow.Balance), nil
}

func toRow(reg *registry.Registration) *models.Registration {
	return &models.Registration{
		Subject:     reg.Subject.String(),
		Domain:      reg.Domain,
		Owner:       reg.Owner.String(),
		Metadata:    reg.Metadata,
		Status:      string(reg.Status),
		FeePaid:     int64(reg.FeePaid),
		SubmittedAt: reg.SubmittedAt,
		ApprovedAt:  reg.ApprovedAt,
		ExpiresAt:   reg.ExpiresAt,
		RevokedAt:   reg.RevokedAt,
		UpdatedAt:   reg.UpdatedAt,
	}
}

func fromRow(row *models.Registration) *registry.Registration {
	return &registry.Registration{
		Subject:     registry.Identity(row.Subject),
		Domain:      row.Domain,
		Owner:       registry.Identity(row.Owner),
		Metadata:    row.Metadata,
		Status:      registry.Status(row.Status),
		FeePaid:     registry.Amount(row.FeePaid),
		SubmittedAt: utc(row.SubmittedAt),
		ApprovedAt:  utc(row.ApprovedAt),
		ExpiresAt:   utc(row.ExpiresAt),
		RevokedAt:   utc(row.RevokedAt),
		UpdatedAt:   utc(row.UpdatedAt),
	}
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}
