package data

import (
	"gorm.io/gorm"

	"github.com/strongroomhq/strongroom/uid"
)

type SelectorFunc func(db *gorm.DB) *gorm.DB

func ByID(id uid.ID) SelectorFunc {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("id = ?", id)
	}
}

func ByTenantID(tenantID uid.ID) SelectorFunc {
	if tenantID == 0 {
		panic("TenantID was not set")
	}
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_id = ?", tenantID)
	}
}

func ByKeyAlias(alias string) SelectorFunc {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("key_alias = ?", alias)
	}
}

func ByResource(resourceType, resourceID string) SelectorFunc {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("resource_type = ? AND resource_id = ?", resourceType, resourceID)
	}
}

func ByKeyID(keyID uid.ID) SelectorFunc {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("key_id = ?", keyID)
	}
}

func ByIDAfter(cursor uid.ID) SelectorFunc {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("id > ?", cursor)
	}
}

func Limit(n int) SelectorFunc {
	return func(db *gorm.DB) *gorm.DB {
		return db.Limit(n)
	}
}
