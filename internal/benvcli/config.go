package benvcli

import (
	"os"

	"github.com/urfave/cli/v2"
)

// ConfigCommand outputs the merged configuration as a commented TOML
// template, suitable as a starting point for a config file.
var ConfigCommand = &cli.Command{
	Name:   "config",
	Usage:  "display the effective configuration as a TOML template",
	Action: benvConfig,
}

func benvConfig(c *cli.Context) error {
	config, err := GetConfigFromContext(c)
	if err != nil {
		return err
	}
	return config.WriteTemplate(os.Stdout)
}
