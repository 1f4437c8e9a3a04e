package benvcli_test

import (
	"io"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/milessabin/compiler-benchmark/internal/benvcli"
	libconfig "github.com/milessabin/compiler-benchmark/pkg/config"
)

// The actual test suite.
var _ = t.Describe("BenvCLI", func() {
	var probed *libconfig.Config

	newApp := func() *cli.App {
		app := cli.NewApp()
		app.Writer = io.Discard
		app.Flags = benvcli.GlobalFlags
		app.Metadata = map[string]interface{}{"config": libconfig.DefaultConfig()}
		app.Before = benvcli.Before
		app.Commands = []*cli.Command{{
			Name: "probe",
			Action: func(c *cli.Context) error {
				var err error
				probed, err = benvcli.GetConfigFromContext(c)
				return err
			},
		}}
		return app
	}

	BeforeEach(func() {
		probed = nil
	})

	AfterEach(func() {
		logrus.SetLevel(logrus.InfoLevel)
	})

	It("should run with the default configuration", func() {
		Expect(newApp().Run([]string{"benv", "probe"})).To(BeNil())
		Expect(probed).NotTo(BeNil())
		Expect(probed.LogLevel).To(Equal("info"))
	})

	It("should merge a configuration file", func() {
		path := filepath.Join(t.MustTempDir("benvcli"), "benv.conf")
		Expect(os.WriteFile(path, []byte(`
[benv]
log_level = "debug"

[benv.baseline]
kernel_release = "4.15.0-54-generic"
`), 0o644)).To(BeNil())

		Expect(newApp().Run([]string{"benv", "--config", path, "probe"})).To(BeNil())

		Expect(probed.Baseline.KernelRelease).To(Equal("4.15.0-54-generic"))
		Expect(probed.LogLevel).To(Equal("debug"))
		Expect(logrus.GetLevel()).To(Equal(logrus.DebugLevel))
	})

	It("should fail on an explicitly given missing config file", func() {
		err := newApp().Run([]string{"benv", "--config", "/not/there", "probe"})
		Expect(err).NotTo(BeNil())
	})

	It("should let flags override the configuration file", func() {
		path := filepath.Join(t.MustTempDir("benvcli"), "benv.conf")
		Expect(os.WriteFile(path, []byte("[benv]\nlog_level = \"warn\"\n"), 0o644)).To(BeNil())

		err := newApp().Run([]string{"benv", "--config", path, "--log-level", "error", "probe"})
		Expect(err).To(BeNil())
		Expect(probed.LogLevel).To(Equal("error"))
	})

	It("should fail on an invalid log level", func() {
		err := newApp().Run([]string{"benv", "--log-level", "verbose", "probe"})
		Expect(err).NotTo(BeNil())
	})

	It("should fail on an invalid log filter", func() {
		err := newApp().Run([]string{"benv", "--log-filter", "(", "probe"})
		Expect(err).NotTo(BeNil())
	})
})
