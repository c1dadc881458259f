package auth_manager_ldap

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/cernbox/griddav/api"
	"github.com/cernbox/griddav/api/config"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/ldap.v2"
)

type Options struct {
	Hostname string
	Port     int
	BaseDN   string

	// Filter is a printf template receiving the user name,
	// e.g. "(&(objectClass=person)(uid=%s))".
	Filter string

	BindUsername string
	BindPassword string

	// SSLNegotiationPolicy decides how the connection is secured:
	// CS_NEG_REQUIRE dials TLS, CS_NEG_DONT_CARE tries StartTLS and
	// NO_NEGOTIATION stays in clear text. CS_NEG_REFUSE cannot carry
	// passwords and is rejected.
	SSLNegotiationPolicy string

	// InsecureSkipVerify disables server certificate verification.
	InsecureSkipVerify bool

	Logger *zap.Logger
}

func (opt *Options) init() {
	if opt.Logger == nil {
		opt.Logger, _ = zap.NewProduction()
	}
	if opt.Port == 0 {
		opt.Port = 636
	}
	if opt.Filter == "" {
		opt.Filter = "(uid=%s)"
	}
	if opt.SSLNegotiationPolicy == "" {
		opt.SSLNegotiationPolicy = config.SSLNegotiationRequire
	}
}

type authManager struct {
	hostname     string
	port         int
	baseDN       string
	filter       string
	bindUsername string
	bindPassword string
	policy       string
	tlsConfig    *tls.Config
	logger       *zap.Logger
}

func New(opt *Options) (api.AccountManager, error) {
	if opt == nil {
		opt = &Options{}
	}
	opt.init()
	if opt.SSLNegotiationPolicy == config.SSLNegotiationRefuse {
		return nil, api.NewError(api.ConfigurationErrorCode).WithMessage("PAM authentication requires SSL but the negotiation policy refuses it")
	}
	if opt.Hostname == "" {
		return nil, api.NewError(api.ConfigurationErrorCode).WithMessage("ldap hostname is empty")
	}
	return &authManager{
		hostname:     opt.Hostname,
		port:         opt.Port,
		baseDN:       opt.BaseDN,
		filter:       opt.Filter,
		bindUsername: opt.BindUsername,
		bindPassword: opt.BindPassword,
		policy:       opt.SSLNegotiationPolicy,
		tlsConfig:    &tls.Config{ServerName: opt.Hostname, InsecureSkipVerify: opt.InsecureSkipVerify},
		logger:       opt.Logger,
	}, nil
}

func (am *authManager) dial() (*ldap.Conn, error) {
	addr := fmt.Sprintf("%s:%d", am.hostname, am.port)
	switch am.policy {
	case config.SSLNegotiationRequire:
		return ldap.DialTLS("tcp", addr, am.tlsConfig)
	case config.SSLNegotiationDontCare:
		l, err := ldap.Dial("tcp", addr)
		if err != nil {
			return nil, err
		}
		if err := l.StartTLS(am.tlsConfig); err != nil {
			am.logger.Warn("starttls not available, continuing in clear text", zap.String("addr", addr), zap.Error(err))
			l.Close()
			return ldap.Dial("tcp", addr)
		}
		return l, nil
	default:
		return ldap.Dial("tcp", addr)
	}
}

func (am *authManager) Authenticate(ctx context.Context, clientID, clientSecret string) (*api.Account, error) {
	l, err := am.dial()
	if err != nil {
		return nil, api.Wrap(err, api.TransportErrorCode, "ldap dial")
	}
	defer l.Close()

	// First bind with a read only user
	if am.bindUsername != "" {
		if err := l.Bind(am.bindUsername, am.bindPassword); err != nil {
			return nil, errors.Wrap(err, "auth_manager_ldap: service bind failed")
		}
	}

	// Search for the given clientID
	searchRequest := ldap.NewSearchRequest(
		am.baseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		fmt.Sprintf(am.filter, ldap.EscapeFilter(clientID)),
		[]string{"dn"},
		nil,
	)

	sr, err := l.Search(searchRequest)
	if err != nil {
		return nil, errors.Wrap(err, "auth_manager_ldap: search failed")
	}

	if len(sr.Entries) != 1 {
		am.logger.Debug("ldap search did not return exactly one entry", zap.String("user", clientID), zap.Int("entries", len(sr.Entries)))
		return nil, api.NewError(api.AuthenticationFailedErrorCode)
	}

	userdn := sr.Entries[0].DN

	// Bind as the user to verify their password
	if err := l.Bind(userdn, clientSecret); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			return nil, api.NewError(api.AuthenticationFailedErrorCode)
		}
		return nil, errors.Wrap(err, "auth_manager_ldap: user bind failed")
	}

	return &api.Account{User: clientID}, nil
}
