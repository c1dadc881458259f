package account_manager_file

import (
	"context"
	"io/ioutil"

	"github.com/cernbox/griddav/api"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Entry is one account of the table. PasswordHash is a bcrypt hash.
type Entry struct {
	User         string `yaml:"user"`
	PasswordHash string `yaml:"password_hash"`
}

type table struct {
	Accounts []*Entry `yaml:"accounts"`
}

type Options struct {
	// File is a YAML document with an "accounts" list.
	File string

	// Accounts are added to the ones read from File.
	Accounts []*Entry

	Logger *zap.Logger
}

func (opt *Options) init() {
	if opt.Logger == nil {
		opt.Logger, _ = zap.NewProduction()
	}
}

type accountManager struct {
	hashes map[string][]byte
	logger *zap.Logger
}

func New(opt *Options) (api.AccountManager, error) {
	if opt == nil {
		opt = &Options{}
	}
	opt.init()

	entries := append([]*Entry{}, opt.Accounts...)
	if opt.File != "" {
		data, err := ioutil.ReadFile(opt.File)
		if err != nil {
			return nil, errors.Wrap(err, "account_manager_file: error reading accounts file")
		}
		t := &table{}
		if err := yaml.Unmarshal(data, t); err != nil {
			return nil, errors.Wrap(err, "account_manager_file: error parsing accounts file")
		}
		entries = append(entries, t.Accounts...)
	}

	am := &accountManager{hashes: map[string][]byte{}, logger: opt.Logger}
	for _, e := range entries {
		if e.User == "" || e.PasswordHash == "" {
			return nil, api.NewError(api.ConfigurationErrorCode).WithMessage("account entry without user or password hash")
		}
		am.hashes[e.User] = []byte(e.PasswordHash)
	}
	am.logger.Info("account table loaded", zap.Int("accounts", len(am.hashes)))
	return am, nil
}

func (am *accountManager) Authenticate(ctx context.Context, user, password string) (*api.Account, error) {
	hash, ok := am.hashes[user]
	if !ok {
		am.logger.Debug("unknown account", zap.String("user", user))
		return nil, api.NewError(api.AuthenticationFailedErrorCode)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		if err == bcrypt.ErrMismatchedHashAndPassword {
			return nil, api.NewError(api.AuthenticationFailedErrorCode)
		}
		return nil, errors.Wrap(err, "account_manager_file: error comparing password hash")
	}
	return &api.Account{User: user}, nil
}

// HashPassword returns the bcrypt hash to store in the accounts file.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
