package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"medscan/internal/model"
)

// dryRunDB renders MySQL statements without a server.
func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "medscan:medscan@tcp(127.0.0.1:3306)/medscan?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	require.NoError(t, err)
	return db
}

func TestListByUserSQL(t *testing.T) {
	db := dryRunDB(t)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var out []model.Prediction
		return listByUser(tx, 7, 10).Find(&out)
	})

	assert.Equal(t, "SELECT * FROM `predictions` WHERE user_id = 7 ORDER BY created_at DESC LIMIT 10", sql)
}

func TestCreatePredictionIgnoresDuplicates(t *testing.T) {
	db := dryRunDB(t)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.Prediction{
			ID:        "r1",
			UserID:    7,
			ModelType: "mri",
			Label:     "Glioma",
			CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		})
	})

	assert.Contains(t, sql, "INSERT INTO `predictions`")
	assert.Contains(t, sql, "ON DUPLICATE KEY UPDATE")
}
