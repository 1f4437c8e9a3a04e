package benvcli

import (
	"github.com/urfave/cli/v2"

	"github.com/milessabin/compiler-benchmark/internal/benv"
	"github.com/milessabin/compiler-benchmark/internal/cpufreq"
	"github.com/milessabin/compiler-benchmark/internal/irqaffinity"
	"github.com/milessabin/compiler-benchmark/internal/precheck"
	"github.com/milessabin/compiler-benchmark/internal/services"
	"github.com/milessabin/compiler-benchmark/internal/shield"
	libconfig "github.com/milessabin/compiler-benchmark/pkg/config"
)

// SetCommand prepares the machine for a benchmarking run.
var SetCommand = &cli.Command{
	Name:  "set",
	Usage: "verify the machine baseline and apply the benchmarking tunables",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "no-services",
			Usage: "do not suspend background services",
		},
		&cli.BoolFlag{
			Name:  "no-frequency",
			Usage: "do not pin the CPU frequency",
		},
		&cli.BoolFlag{
			Name:  "no-shield",
			Usage: "do not create the CPU shield",
		},
		&cli.BoolFlag{
			Name:  "no-irq-affinity",
			Usage: "do not reroute hardware interrupts",
		},
	},
	Action: benvSet,
}

func benvSet(c *cli.Context) error {
	config, err := GetConfigFromContext(c)
	if err != nil {
		return err
	}

	env, cleanup, err := buildEnv(config)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := benv.DefaultOptions()
	opts.Services = !c.Bool("no-services")
	opts.Frequency = !c.Bool("no-frequency")
	opts.Shield = !c.Bool("no-shield")
	opts.IRQAffinity = !c.Bool("no-irq-affinity")

	return env.Set(c.Context, opts)
}

func buildEnv(config *libconfig.Config) (*benv.Env, func(), error) {
	shieldCPUs, err := config.ShieldCPUSet()
	if err != nil {
		return nil, nil, err
	}

	svc := services.New()
	env := benv.New(
		config,
		precheck.New(config.Baseline),
		svc,
		cpufreq.New(),
		shield.New(shieldCPUs),
		irqaffinity.New(config.Tuning),
	)
	return env, svc.Close, nil
}
