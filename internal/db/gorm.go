package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/linkstash-io/linkstash-back/internal/config"
)

type (
	User struct {
		ID        string `gorm:"primarykey"`
		CreatedAt time.Time
		UpdatedAt time.Time
		Email     string `gorm:"unique;not null"`
		Password  string `gorm:"not null"`
		Token     string `gorm:"index"`
	}

	// Link points at a Category through a soft foreign key: a nil
	// CategoryID means "uncategorized", and the store never enforces
	// the reference itself.
	Link struct {
		ID         string `gorm:"primarykey"`
		CreatedAt  time.Time
		UpdatedAt  time.Time
		URL        string `gorm:"not null"`
		Title      *string
		CategoryID *string `gorm:"index"`
		UserID     string  `gorm:"not null;index"`
	}

	Category struct {
		ID        string `gorm:"primarykey"`
		CreatedAt time.Time
		UpdatedAt time.Time
		Name      string `gorm:"not null"`
		UserID    string `gorm:"not null;index"`
	}
)

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}

func (l *Link) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}

func (c *Category) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

func NewGormClient(cfg *config.Config) (*gorm.DB, error) {
	newLogger := logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Info,
		Colorful:                  true,
		IgnoreRecordNotFoundError: false,
	})

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: newLogger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect database")
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&User{}); err != nil {
		return errors.Wrap(err, "migrate user")
	}
	if err := db.AutoMigrate(&Link{}); err != nil {
		return errors.Wrap(err, "migrate link")
	}
	if err := db.AutoMigrate(&Category{}); err != nil {
		return errors.Wrap(err, "migrate category")
	}
	return nil
}
