package data

import (
	"gorm.io/gorm"

	"github.com/strongroomhq/strongroom/internal/server/models"
	"github.com/strongroomhq/strongroom/uid"
)

func CreateEncryptedBlob(db *gorm.DB, blob *models.EncryptedBlob) error {
	return add(db, blob)
}

func SaveEncryptedBlob(db *gorm.DB, blob *models.EncryptedBlob) error {
	return save(db, blob)
}

func GetEncryptedBlob(db *gorm.DB, selectors ...SelectorFunc) (*models.EncryptedBlob, error) {
	return get[models.EncryptedBlob](db, selectors...)
}

// ListEncryptedBlobBatch returns up to limit blobs still owned by keyID with
// an id greater than cursor, in ascending id order. The id cursor keeps the
// query correct while rows are migrated out of the pending set, which offset
// pagination would not survive.
func ListEncryptedBlobBatch(db *gorm.DB, keyID, cursor uid.ID, limit int) ([]models.EncryptedBlob, error) {
	return list[models.EncryptedBlob](db, ByKeyID(keyID), ByIDAfter(cursor), Limit(limit))
}

// CountEncryptedBlobsForKey returns the number of blobs still encrypted
// under keyID.
func CountEncryptedBlobsForKey(db *gorm.DB, keyID uid.ID) (int64, error) {
	return count[models.EncryptedBlob](db, ByKeyID(keyID))
}
