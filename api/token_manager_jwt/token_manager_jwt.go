package token_manager_jwt

import (
	"context"
	"time"

	"github.com/cernbox/griddav/api"
	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Options struct {
	SignSecret string

	// Expiration of the forged tokens. Defaults to one hour.
	Expiration time.Duration

	Logger *zap.Logger
}

func (opt *Options) init() {
	if opt.Logger == nil {
		opt.Logger, _ = zap.NewProduction()
	}
	if opt.Expiration <= 0 {
		opt.Expiration = time.Hour
	}
}

func New(opt *Options) api.TokenManager {
	if opt == nil {
		opt = &Options{}
	}
	opt.init()
	return &tokenManager{signSecret: opt.SignSecret, expiration: opt.Expiration, logger: opt.Logger}
}

type tokenManager struct {
	signSecret string
	expiration time.Duration
	logger     *zap.Logger
}

func (tm *tokenManager) ForgeSessionToken(ctx context.Context, sc *api.SessionClaims) (string, error) {
	token := jwt.New(jwt.GetSigningMethod("HS256"))
	claims := token.Claims.(jwt.MapClaims)
	claims["user"] = sc.User
	claims["sid"] = sc.SessionID
	claims["exp"] = time.Now().Add(tm.expiration).Unix()
	tokenString, err := token.SignedString([]byte(tm.signSecret))
	if err != nil {
		tm.logger.Error("", zap.Error(err))
		return "", err
	}
	return tokenString, nil
}

func (tm *tokenManager) DismantleSessionToken(ctx context.Context, token string) (*api.SessionClaims, error) {
	rawToken, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(tm.signSecret), nil
	})
	if err != nil {
		tm.logger.Warn("invalid token", zap.Error(err))
		return nil, api.NewError(api.InvalidArgumentErrorCode).WithMessage(err.Error())
	}
	if !rawToken.Valid {
		return nil, api.NewError(api.InvalidArgumentErrorCode).WithMessage("token is not valid")
	}

	claims := rawToken.Claims.(jwt.MapClaims)
	user, ok := claims["user"].(string)
	if !ok {
		return nil, api.NewError(api.InvalidArgumentErrorCode).WithMessage("user claim is not a string")
	}
	sid, ok := claims["sid"].(string)
	if !ok {
		return nil, api.NewError(api.InvalidArgumentErrorCode).WithMessage("sid claim is not a string")
	}
	return &api.SessionClaims{User: user, SessionID: sid}, nil
}
