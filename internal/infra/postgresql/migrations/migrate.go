package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/playrelay/push-dispatch/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_devices",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.DeviceModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_devices_player_account ON devices (player_account_id) WHERE player_account_id IS NOT NULL`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.DeviceModel{})
			},
		},
		{
			ID: "000002_create_notifications",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.NotificationModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.NotificationModel{})
			},
		},
		{
			ID: "000003_create_delivery_logs",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.DeliveryLogModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_delivery_logs_notification_id ON delivery_logs (notification_id)`,
					`CREATE INDEX IF NOT EXISTS idx_delivery_logs_device_id ON delivery_logs (device_id)`,
					`CREATE INDEX IF NOT EXISTS idx_delivery_logs_sweep ON delivery_logs (created_at) WHERE status = 'PENDING'`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.DeliveryLogModel{})
			},
		},
	})

	return m.Migrate()
}
