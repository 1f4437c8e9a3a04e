// Package benvcli holds the command and flag surface of the benv binary.
package benvcli

import (
	"errors"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/milessabin/compiler-benchmark/internal/log"
	libconfig "github.com/milessabin/compiler-benchmark/pkg/config"
)

// DefaultConfigPath is the config file location consulted when --config is
// not given.
const DefaultConfigPath = "/etc/benv/benv.conf"

// GlobalFlags apply to every command.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:      "config",
		Aliases:   []string{"c"},
		Value:     DefaultConfigPath,
		Usage:     "Path to the benv configuration file",
		EnvVars:   []string{"BENV_CONFIG"},
		TakesFile: true,
	},
	&cli.StringFlag{
		Name:    "log-level",
		Aliases: []string{"l"},
		Usage:   "Log messages above specified level: trace, debug, info, warn, error, fatal or panic.",
		EnvVars: []string{"BENV_LOG_LEVEL"},
	},
	&cli.StringFlag{
		Name:    "log-filter",
		Usage:   "Filter the log messages by the provided regular expression.",
		EnvVars: []string{"BENV_LOG_FILTER"},
	},
}

// GetConfigFromContext returns the config stored in the app metadata.
func GetConfigFromContext(c *cli.Context) (*libconfig.Config, error) {
	config, ok := c.App.Metadata["config"].(*libconfig.Config)
	if !ok {
		return nil, errors.New("type assertion error when accessing benv config")
	}
	return config, nil
}

// Before merges the configuration sources and configures logging. It runs
// before any command action.
func Before(c *cli.Context) error {
	config, err := GetConfigFromContext(c)
	if err != nil {
		return err
	}
	if err := mergeConfig(config, c); err != nil {
		return err
	}
	return setupLogging(config)
}

func mergeConfig(config *libconfig.Config, ctx *cli.Context) error {
	// Don't parse the config if the user explicitly set it to "".
	if path := ctx.String("config"); path != "" {
		if err := config.UpdateFromFile(path); err != nil {
			// The default path is allowed to be absent.
			if ctx.IsSet("config") || !os.IsNotExist(err) {
				return err
			}
		}
	}

	if ctx.IsSet("log-level") {
		config.LogLevel = ctx.String("log-level")
	}
	if ctx.IsSet("log-filter") {
		config.LogFilter = ctx.String("log-filter")
	}

	return config.Validate()
}

func setupLogging(config *libconfig.Config) error {
	level, err := logrus.ParseLevel(config.LogLevel)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	filterHook, err := log.NewFilterHook(config.LogFilter)
	if err != nil {
		return err
	}
	logrus.AddHook(filterHook)

	return nil
}
