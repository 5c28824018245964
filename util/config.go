package util

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const Name = "fedimag"
const ConfigFileName = "config.yaml"

const (
	DefaultInboxPath        = "/f/inbox"
	DefaultCatchAllMagazine = "random"
	DefaultRequestTimeout   = 5 * time.Second
	DefaultWorkers          = 4
)

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host             string
		HttpPort         int           `yaml:"httpPort"`
		SslDomain        string        `yaml:"sslDomain"`
		WithAp           bool          `yaml:"withAp"`
		InboxPath        string        `yaml:"inboxPath"`
		DatabasePath     string        `yaml:"databasePath"`
		RedisAddr        string        `yaml:"redisAddr"`
		NatsUrl          string        `yaml:"natsUrl"`
		InstanceKeyPath  string        `yaml:"instanceKeyPath"`
		CatchAllMagazine string        `yaml:"catchAllMagazine"`
		RequestTimeout   time.Duration `yaml:"requestTimeout"`
		Workers          int           `yaml:"workers"`
		Debug            bool          `yaml:"debug"`
	}
}

func ReadConf() (*AppConfig, error) {

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	buf, err := os.ReadFile(configPath)
	if err != nil {
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			if writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644); writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	c, err := ParseConf(buf)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.applyDefaults()
	return c, nil
}

// ParseConf decodes a YAML document without looking at the environment.
func ParseConf(buf []byte) (*AppConfig, error) {
	c := &AppConfig{}
	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}
	return c, nil
}

func (c *AppConfig) applyEnv() error {
	strs := map[string]*string{
		"FEDIMAG_HOST":               &c.Conf.Host,
		"FEDIMAG_SSLDOMAIN":          &c.Conf.SslDomain,
		"FEDIMAG_INBOX_PATH":         &c.Conf.InboxPath,
		"FEDIMAG_DATABASE_PATH":      &c.Conf.DatabasePath,
		"FEDIMAG_REDIS_ADDR":         &c.Conf.RedisAddr,
		"FEDIMAG_NATS_URL":           &c.Conf.NatsUrl,
		"FEDIMAG_INSTANCE_KEY_PATH":  &c.Conf.InstanceKeyPath,
		"FEDIMAG_CATCH_ALL_MAGAZINE": &c.Conf.CatchAllMagazine,
	}
	for env, dst := range strs {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"FEDIMAG_HTTPPORT": &c.Conf.HttpPort,
		"FEDIMAG_WORKERS":  &c.Conf.Workers,
	}
	for env, dst := range ints {
		if v := os.Getenv(env); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", env, err)
			}
			*dst = n
		}
	}

	if v := os.Getenv("FEDIMAG_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid FEDIMAG_REQUEST_TIMEOUT: %w", err)
		}
		c.Conf.RequestTimeout = d
	}

	// Only "true" switches a flag on, like the yaml value it overrides.
	if os.Getenv("FEDIMAG_WITH_AP") == "true" {
		c.Conf.WithAp = true
	}
	if os.Getenv("FEDIMAG_DEBUG") == "true" {
		c.Conf.Debug = true
	}
	return nil
}

func (c *AppConfig) applyDefaults() {
	if c.Conf.InboxPath == "" {
		c.Conf.InboxPath = DefaultInboxPath
	}
	if !strings.HasPrefix(c.Conf.InboxPath, "/") {
		c.Conf.InboxPath = "/" + c.Conf.InboxPath
	}
	if c.Conf.CatchAllMagazine == "" {
		c.Conf.CatchAllMagazine = DefaultCatchAllMagazine
	}
	if c.Conf.RequestTimeout <= 0 {
		c.Conf.RequestTimeout = DefaultRequestTimeout
	}
	if c.Conf.Workers <= 0 {
		c.Conf.Workers = DefaultWorkers
	}
}
