package data

import (
	"gorm.io/gorm"

	"github.com/strongroomhq/strongroom/internal/server/models"
	"github.com/strongroomhq/strongroom/uid"
)

func CreateTenantKey(db *gorm.DB, key *models.TenantKey) error {
	return add(db, key)
}

func SaveTenantKey(db *gorm.DB, key *models.TenantKey) error {
	return save(db, key)
}

func GetTenantKey(db *gorm.DB, selectors ...SelectorFunc) (*models.TenantKey, error) {
	return get[models.TenantKey](db, selectors...)
}

// GetActiveTenantKey returns the highest-version active key for the tenant
// and alias, or internal.ErrNotFound when the tenant has no key yet.
func GetActiveTenantKey(db *gorm.DB, tenantID uid.ID, alias string) (*models.TenantKey, error) {
	byActive := func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ?", models.KeyStatusActive).Order("key_version DESC")
	}
	return get[models.TenantKey](db, ByTenantID(tenantID), ByKeyAlias(alias), byActive)
}

func ListTenantKeys(db *gorm.DB, selectors ...SelectorFunc) ([]models.TenantKey, error) {
	return list[models.TenantKey](db, selectors...)
}
