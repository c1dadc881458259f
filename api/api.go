package api

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// AuthScheme is the handshake the grid performs to validate an account.
type AuthScheme string

const (
	// AuthSchemeStandard is the native grid password handshake.
	AuthSchemeStandard AuthScheme = "STANDARD"

	// AuthSchemePAM delegates the password check to an external directory.
	AuthSchemePAM AuthScheme = "PAM"
)

// ParseAuthScheme resolves a configured scheme string. An empty string
// defaults to the standard scheme.
func ParseAuthScheme(s string) (AuthScheme, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return AuthSchemeStandard, nil
	case strings.EqualFold(s, string(AuthSchemeStandard)):
		return AuthSchemeStandard, nil
	case strings.EqualFold(s, string(AuthSchemePAM)):
		return AuthSchemePAM, nil
	default:
		return "", NewError(ConfigurationErrorCode).WithMessage(fmt.Sprintf("unsupported auth scheme %q", s))
	}
}

// GridIdentity is an authenticated principal bound to the grid connection
// parameters. It must be treated as immutable once built.
type GridIdentity struct {
	Host            string     `json:"host"`
	Port            int        `json:"port"`
	Zone            string     `json:"zone"`
	User            string     `json:"user"`
	Password        string     `json:"-"`
	DefaultResource string     `json:"default_resource"`
	AuthScheme      AuthScheme `json:"auth_scheme"`
}

// HomeCollection returns the canonical home collection of the user,
// /<zone>/home/<user>.
func (id *GridIdentity) HomeCollection() string {
	return path.Join("/", id.Zone, "home", id.User)
}

// CloneForUser returns a copy of the identity for another user name. The
// clone keeps host, zone and storage resource and carries no password.
func (id *GridIdentity) CloneForUser(user string) *GridIdentity {
	c := *id
	c.User = user
	c.Password = ""
	return &c
}

func (id *GridIdentity) String() string {
	return fmt.Sprintf("%s@%s:%d/%s", id.User, id.Host, id.Port, id.Zone)
}

// FileInfo describes a grid collection or data object.
type FileInfo struct {
	Path  string    `json:"path"`
	Size  int64     `json:"size"`
	Owner string    `json:"owner"`
	Mtime time.Time `json:"mtime"`
	IsDir bool      `json:"is_dir"`
}

// Name returns the last element of the path.
func (fi *FileInfo) Name() string {
	return path.Base(fi.Path)
}

// ListingEntry is an immutable snapshot of a child produced by a paged
// listing. Count is the running index of the entry within the listing and is
// the offset of the next page when this is the last entry of a page.
type ListingEntry struct {
	FileInfo
	Count      int  `json:"count"`
	LastResult bool `json:"last_result"`
}

// Grid is the outbound storage catalog.
type Grid interface {
	// Authenticate performs the handshake for the candidate identity and
	// returns the identity the grid accepted.
	Authenticate(ctx context.Context, id *GridIdentity) (*GridIdentity, error)

	// Open returns a session for an already authenticated identity. The
	// session must be closed when the request that opened it ends.
	Open(ctx context.Context, id *GridIdentity) (GridSession, error)
}

// GridSession exposes account-scoped file and collection operations.
// Paths are absolute grid paths.
type GridSession interface {
	// Join builds the grid path of name under parent.
	Join(parent, name string) (string, error)
	Stat(ctx context.Context, p string) (*FileInfo, error)
	// List returns the absolute paths of the direct children of p.
	List(ctx context.Context, p string) ([]string, error)
	ListCollections(ctx context.Context, p string, offset int) ([]*ListingEntry, error)
	ListDataObjects(ctx context.Context, p string, offset int) ([]*ListingEntry, error)
	Mkdir(ctx context.Context, p string) error
	CreateFile(ctx context.Context, p string) error
	Delete(ctx context.Context, p string) error
	Move(ctx context.Context, src, dst string) error
	Copy(ctx context.Context, src, dst string) error
	Reader(ctx context.Context, p string) (io.ReadCloser, error)
	Writer(ctx context.Context, p string) (io.WriteCloser, error)
	Close() error
}

// Account is the result of a successful account handshake.
type Account struct {
	User string `json:"user"`
}

// AccountManager validates user credentials for one auth scheme.
type AccountManager interface {
	Authenticate(ctx context.Context, user, password string) (*Account, error)
}

// CredentialCache maps a derived credential key to a validated identity.
type CredentialCache interface {
	Get(key string) (*GridIdentity, bool)
	Put(key string, id *GridIdentity) *GridIdentity
}

// SessionClaims is what the session cookie carries between requests. The
// session id is random and only meaningful to the server that issued it.
type SessionClaims struct {
	User      string `json:"user"`
	SessionID string `json:"session_id"`
}

// TokenManager forges and verifies session cookies.
type TokenManager interface {
	ForgeSessionToken(ctx context.Context, claims *SessionClaims) (string, error)
	DismantleSessionToken(ctx context.Context, token string) (*SessionClaims, error)
}

// LockScope is the WebDAV lock scope.
type LockScope string

// LockType is the WebDAV lock type.
type LockType string

// LockDepth is the WebDAV lock depth.
type LockDepth string

const (
	LockScopeExclusive LockScope = "exclusive"
	LockScopeShared    LockScope = "shared"

	LockTypeWrite LockType = "write"

	LockDepthZero     LockDepth = "0"
	LockDepthInfinity LockDepth = "infinity"
)

// LockInfo is what the client asked for when acquiring a lock.
type LockInfo struct {
	Owner string    `json:"owner"`
	Scope LockScope `json:"scope"`
	Type  LockType  `json:"type"`
	Depth LockDepth `json:"depth"`
}

// LockToken is an active lock.
type LockToken struct {
	Token    string        `json:"token"`
	Identity string        `json:"identity"`
	Info     LockInfo      `json:"info"`
	Timeout  time.Duration `json:"timeout"`
	Expires  time.Time     `json:"expires"`
}

// LockManager keeps the lock table keyed by grid file identity.
type LockManager interface {
	Lock(identity string, timeout time.Duration, info *LockInfo) (*LockToken, error)
	Refresh(token, identity string, timeout time.Duration) (*LockToken, error)
	Unlock(token, identity string) error
	// UnlockTree drops every lock on identity and below it, for entries
	// that were removed or moved away.
	UnlockTree(identity string) int
	CurrentToken(identity string) *LockToken
	LookupToken(token string) *LockToken
}

// CredentialKey derives the credential cache key of a user name and
// password: the hex md5 of "user:password". It is a lookup key, not a
// secret, and never exposes the raw password.
func CredentialKey(user, password string) string {
	sum := md5.Sum([]byte(user + ":" + password))
	return hex.EncodeToString(sum[:])
}
