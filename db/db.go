package db

import (
	"fmt"
	"log"
	"time"

	"github.com/scriptstage/backend/db/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Database struct {
	logger *log.Logger
	conn   *gorm.DB
}

func New(logger *log.Logger) *Database {
	return &Database{logger: logger}
}

func (d *Database) Init(dsn string) (err error) {
	// TranslateError turns postgres duplicate-key violations into
	// gorm.ErrDuplicatedKey, which the tip ledger relies on as its
	// conflict signal.
	cfg := &gorm.Config{TranslateError: true}

	d.conn, err = gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		d.logger.Printf("Failed to connect to database: %v. Retrying in 5s...", err)
		time.Sleep(5 * time.Second)
		d.conn, err = gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return fmt.Errorf("could not connect to database: %w", err)
		}
	}

	d.logger.Println("Database connected successfully")

	return d.conn.AutoMigrate(
		&model.User{},
		&model.UserSession{},
		&model.Script{},
		&model.Tip{},
		&model.Payout{},
		&model.Refund{},
		&model.WalletNonce{},
		&model.StakeEvent{},
	)
}

func (d *Database) GetUserByID(id uint) (user *model.User, err error) {
	user = &model.User{}
	if err = d.conn.First(user, id).Error; err != nil {
		return nil, err
	}
	return
}

func (d *Database) GetUserByUsername(username string) (user *model.User, err error) {
	user = &model.User{}
	if err = d.conn.Where("username = ?", username).First(user).Error; err != nil {
		return nil, err
	}
	return
}

func (d *Database) CreateUser(user *model.User) error {
	return d.conn.Create(user).Error
}

func (d *Database) GetScriptByID(id uint) (script *model.Script, err error) {
	script = &model.Script{}
	if err = d.conn.First(script, id).Error; err != nil {
		return nil, err
	}
	return
}

func (d *Database) CreateScript(script *model.Script) error {
	return d.conn.Create(script).Error
}

func (d *Database) SaveUserSession(session *model.UserSession) error {
	return d.conn.Create(session).Error
}

func (d *Database) GetUserSession(token string) (session *model.UserSession, err error) {
	session = &model.UserSession{}
	if err = d.conn.Where("token = ?", token).First(session).Error; err != nil {
		return nil, err
	}
	return
}

func (d *Database) CleanupExpiredSessions() error {
	return d.conn.Where("expires_at < ?", time.Now()).Delete(&model.UserSession{}).Error
}
