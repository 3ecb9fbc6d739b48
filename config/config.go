package config

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/voxchat/voxchat/globals"
)

const (
	defaultListenAddr    = ":3000"
	defaultAdminPassword = "admin123"
	defaultHistorySize   = 50
	defaultStaticDir     = "public"
)

// Config is the global configuration object which is filled via the configuration file,
// environment variables (VOXCHAT_ prefix) and command-line flags.
type Config struct {
	ListenAddr        string            `mapstructure:"listen_addr"`
	AdminPassword     string            `mapstructure:"admin_password"`
	HistorySize       int               `mapstructure:"history_size"`
	StaticDir         string            `mapstructure:"static_dir"`
	MessageFilter     string            `mapstructure:"message_filter"`
	LogLevel          string            `mapstructure:"log_level"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
}

// PersistenceConfig selects the persistence backend. Type is one of "sqlite",
// "postgres" or "buntdb"; DSN is the backend-specific connection string resp. file path.
type PersistenceConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("listen-addr", "", "listen address of the http/websocket server")
	flagSet.String("admin-password", "", "shared secret for the /auth command")
	flagSet.String("log-level", "", "log level (TRACE/DEBUG/INFO/WARN/ERROR)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	name = strings.Replace(name, "-", "_", -1)
	return pflag.NormalizedName(name)
}

// ReadConfiguration reads and parses the configuration located at configPath, which can
// either point to a single TOML file or to a directory, in which case all *.toml files
// in this directory are concatenated. It returns a Config object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	viper.SetDefault("listen_addr", defaultListenAddr)
	viper.SetDefault("admin_password", defaultAdminPassword)
	viper.SetDefault("history_size", defaultHistorySize)
	viper.SetDefault("static_dir", defaultStaticDir)
	err := viper.BindPFlags(flagSet)
	if err != nil {
		globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
	}
	viper.SetEnvPrefix("VOXCHAT")
	viper.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := ioutil.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		viper.SetConfigType("toml")
		err = viper.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			globals.AppLogger.Error("could not read config", "error", err)
		}
	}
	err = viper.Unmarshal(&cfg)
	if err != nil {
		globals.AppLogger.Error("could not unmarshal config", "error", err)
	}

	globals.AppLogger.Debug("config", "cfg", cfg)
	return &cfg, nil
}
