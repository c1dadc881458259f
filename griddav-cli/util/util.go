package util

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"github.com/pkg/errors"
	"github.com/studio-b12/gowebdav"
)

// ConfigDir holds the configuration of the client. It defaults to
// ~/.griddav-cli.
var ConfigDir string

type Config struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	ServerURL string `json:"server_url"`
}

func init() {
	if u, err := user.Current(); err == nil {
		ConfigDir = path.Join(u.HomeDir, ".griddav-cli")
	} else {
		ConfigDir = path.Join(os.TempDir(), ".griddav-cli")
	}
}

func configFile() string {
	return path.Join(ConfigDir, "config")
}

func GetConfig() *Config {
	c := &Config{}
	data, err := ioutil.ReadFile(configFile())
	if err != nil {
		return c
	}
	if err := json.Unmarshal(data, c); err != nil {
		return c
	}
	return c
}

func SetConfig(cfg *Config) error {
	if err := os.MkdirAll(ConfigDir, 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return ioutil.WriteFile(configFile(), data, 0600)
}

// GetClient returns a WebDAV client for the gateway saved by login.
func GetClient() (*gowebdav.Client, error) {
	cfg := GetConfig()
	if cfg.ServerURL == "" {
		return nil, errors.New("not logged in, run: griddav-cli login <url>")
	}
	return gowebdav.NewClient(cfg.ServerURL, cfg.Username, cfg.Password), nil
}
