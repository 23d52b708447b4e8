package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/lucsky/cuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bbernstein/lacylights-swarm/internal/database/models"
)

// DeviceRepository handles device directory access.
type DeviceRepository struct {
	db *gorm.DB
}

// NewDeviceRepository creates a new DeviceRepository.
func NewDeviceRepository(db *gorm.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// FindAll returns every known device, most recently seen first.
func (r *DeviceRepository) FindAll(ctx context.Context) ([]models.Device, error) {
	var devices []models.Device
	result := r.db.WithContext(ctx).
		Order("last_seen DESC").
		Order("address ASC").
		Find(&devices)
	return devices, result.Error
}

// FindByAddress returns the device with the given address, or nil.
func (r *DeviceRepository) FindByAddress(ctx context.Context, address string) (*models.Device, error) {
	var device models.Device
	result := r.db.WithContext(ctx).First(&device, "address = ?", address)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &device, nil
}

// Upsert records a device sighting keyed by address. FirstSeen is kept
// from the original record.
func (r *DeviceRepository) Upsert(ctx context.Context, device *models.Device) error {
	if device.ID == "" {
		device.ID = cuid.New()
	}
	if device.FirstSeen.IsZero() {
		device.FirstSeen = time.Now()
	}
	if device.LastSeen.IsZero() {
		device.LastSeen = device.FirstSeen
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{"slot", "identifier", "mapping", "last_seen", "updated_at"}),
	}).Create(device).Error
}

// UpdateIdentity stores a new identifier and mapping for the device at address.
func (r *DeviceRepository) UpdateIdentity(ctx context.Context, address, identifier, mapping string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Device{}).
		Where("address = ?", address).
		Updates(map[string]interface{}{
			"identifier": identifier,
			"mapping":    mapping,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Count returns the number of known devices.
func (r *DeviceRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Device{}).Count(&count).Error
	return count, err
}
