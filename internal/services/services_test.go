package services

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/milessabin/compiler-benchmark/pkg/config"
)

type unitCall struct {
	op   string
	unit string
}

// fakeConn simulates the systemd D-Bus connection.
type fakeConn struct {
	calls        []unitCall
	stopErrs     map[string]error
	stopResults  map[string]string
	startErrs    map[string]error
	startResults map[string]string
	closed       bool
}

func (f *fakeConn) StopUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error) {
	f.calls = append(f.calls, unitCall{"stop", name})
	if err := f.stopErrs[name]; err != nil {
		return 0, err
	}
	result := f.stopResults[name]
	if result == "" {
		result = "done"
	}
	ch <- result
	return 1, nil
}

func (f *fakeConn) StartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error) {
	f.calls = append(f.calls, unitCall{"start", name})
	if err := f.startErrs[name]; err != nil {
		return 0, err
	}
	result := f.startResults[name]
	if result == "" {
		result = "done"
	}
	ch <- result
	return 1, nil
}

func (f *fakeConn) Close() {
	f.closed = true
}

// The actual test suite.
var _ = Describe("Controller", func() {
	var (
		sut     *Controller
		conn    *fakeConn
		running []string
		ctx     context.Context
	)

	entries := []config.ServiceEntry{
		{Process: "mysqld", Units: []string{"mysql.service"}},
		{Process: "dockerd", Units: []string{"docker.service", "docker.socket"}},
	}

	BeforeEach(func() {
		ctx = context.Background()
		conn = &fakeConn{
			stopErrs:     map[string]error{},
			stopResults:  map[string]string{},
			startErrs:    map[string]error{},
			startResults: map[string]string{},
		}
		running = nil
		sut = &Controller{
			connFunc:  func(context.Context) (systemdConnection, error) { return conn, nil },
			procsFunc: func(context.Context) ([]string, error) { return running, nil },
			delay:     0,
		}
	})

	It("should not connect to the bus before the first use", func() {
		connected := false
		sut.connFunc = func(context.Context) (systemdConnection, error) {
			connected = true
			return conn, nil
		}

		Expect(connected).To(BeFalse())
		Expect(sut.Stop(ctx, entries)).To(BeNil())
		Expect(connected).To(BeTrue())
	})

	It("should fail when the bus is unreachable", func() {
		sut.connFunc = func(context.Context) (systemdConnection, error) {
			return nil, errors.New("no bus")
		}

		err := sut.Stop(ctx, entries)
		Expect(err).NotTo(BeNil())
		Expect(err.Error()).To(ContainSubstring("connect to systemd"))
	})

	It("should only close an established connection", func() {
		sut.Close()
		Expect(conn.closed).To(BeFalse())

		Expect(sut.Start(ctx, entries)).To(BeNil())
		sut.Close()
		Expect(conn.closed).To(BeTrue())
	})

	Describe("Stop", func() {
		It("should stop every unit in entry order", func() {
			Expect(sut.Stop(ctx, entries)).To(BeNil())
			Expect(conn.calls).To(Equal([]unitCall{
				{"stop", "mysql.service"},
				{"stop", "docker.service"},
				{"stop", "docker.socket"},
			}))
		})

		It("should tolerate a failing stop request when the process is gone", func() {
			conn.stopErrs["mysql.service"] = errors.New("job canceled")

			Expect(sut.Stop(ctx, entries)).To(BeNil())
		})

		It("should tolerate a non-done job result when the process is gone", func() {
			conn.stopResults["docker.socket"] = "canceled"

			Expect(sut.Stop(ctx, entries)).To(BeNil())
		})

		It("should fail when a process survives its unit stop", func() {
			running = []string{"mysqld"}

			err := sut.Stop(ctx, entries)
			Expect(err).NotTo(BeNil())
			Expect(err.Error()).To(ContainSubstring(`process "mysqld" still running`))

			// the remaining entries must not have been touched
			Expect(conn.calls).To(Equal([]unitCall{{"stop", "mysql.service"}}))
		})
	})

	Describe("Start", func() {
		It("should start every unit in entry order", func() {
			Expect(sut.Start(ctx, entries)).To(BeNil())
			Expect(conn.calls).To(Equal([]unitCall{
				{"start", "mysql.service"},
				{"start", "docker.service"},
				{"start", "docker.socket"},
			}))
		})

		It("should fail on a start request error", func() {
			conn.startErrs["docker.service"] = errors.New("unit not found")

			err := sut.Start(ctx, entries)
			Expect(err).NotTo(BeNil())
			Expect(err.Error()).To(ContainSubstring("docker.service"))
		})

		It("should fail on a non-done job result", func() {
			conn.startResults["mysql.service"] = "failed"

			err := sut.Start(ctx, entries)
			Expect(err).NotTo(BeNil())
			Expect(err.Error()).To(ContainSubstring(`finished with "failed"`))
		})
	})
})
