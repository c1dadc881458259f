package account_manager_db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cernbox/griddav/api"
	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type Options struct {
	DBUsername string
	DBPassword string
	DBHost     string
	DBPort     int
	DBName     string

	// DSN overrides the connection built from the fields above.
	DSN string

	// Table holding the accounts. It needs a user_name and a
	// password_hash (bcrypt) column. Defaults to grid_accounts.
	Table string

	Logger *zap.Logger
}

func (opt *Options) init() {
	if opt.Logger == nil {
		opt.Logger, _ = zap.NewProduction()
	}
	if opt.Table == "" {
		opt.Table = "grid_accounts"
	}
	if opt.DBPort == 0 {
		opt.DBPort = 3306
	}
	if opt.DSN == "" {
		opt.DSN = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", opt.DBUsername, opt.DBPassword, opt.DBHost, opt.DBPort, opt.DBName)
	}
}

type accountManager struct {
	db     *sql.DB
	query  string
	logger *zap.Logger
}

func New(opt *Options) (api.AccountManager, error) {
	if opt == nil {
		opt = &Options{}
	}
	opt.init()
	db, err := sql.Open("mysql", opt.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "account_manager_db: error opening database")
	}
	return &accountManager{
		db:     db,
		query:  fmt.Sprintf("select password_hash from %s where user_name=?", opt.Table),
		logger: opt.Logger,
	}, nil
}

func (am *accountManager) Authenticate(ctx context.Context, user, password string) (*api.Account, error) {
	var hash string
	if err := am.db.QueryRowContext(ctx, am.query, user).Scan(&hash); err != nil {
		if err == sql.ErrNoRows {
			am.logger.Debug("unknown account", zap.String("user", user))
			return nil, api.NewError(api.AuthenticationFailedErrorCode)
		}
		return nil, api.Wrap(err, api.TransportErrorCode, "query account")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, api.NewError(api.AuthenticationFailedErrorCode)
	}
	return &api.Account{User: user}, nil
}
