package irqaffinity

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/utils/cpuset"
)

// The actual test suite.
var _ = Describe("Manager", func() {
	var (
		sut        *Manager
		procIRQDir string
		snapshot   string
		ctx        context.Context
	)

	// originals indexed by path relative to procIRQDir
	originals := map[string]string{
		defaultAffinityFile: "ff",
		"0/smp_affinity":    "ff",
		"1/smp_affinity":    "3",
		"2/smp_affinity":    "ff",
		"3/smp_affinity":    "0000000c",
		"11/smp_affinity":   "f0",
	}

	mustRead := func(rel string) string {
		content, err := os.ReadFile(filepath.Join(procIRQDir, rel))
		Expect(err).To(BeNil())
		return strings.TrimSpace(string(content))
	}

	BeforeEach(func() {
		ctx = context.Background()
		procIRQDir = GinkgoT().TempDir()
		snapshot = filepath.Join(GinkgoT().TempDir(), "irq_affinity.snapshot")

		for rel, content := range originals {
			path := filepath.Join(procIRQDir, rel)
			Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(BeNil())
			Expect(os.WriteFile(path, []byte(content+"\n"), 0o644)).To(BeNil())
		}

		sut = &Manager{
			procIRQDir:   procIRQDir,
			snapshotFile: snapshot,
			target:       cpuset.New(0),
			banned: map[string]bool{
				filepath.Join(procIRQDir, "0/smp_affinity"): true,
				filepath.Join(procIRQDir, "2/smp_affinity"): true,
			},
		}
	})

	Describe("Setup", func() {
		It("should route every non-banned interrupt to the target CPU", func() {
			Expect(sut.Setup(ctx)).To(BeNil())

			for _, rel := range []string{defaultAffinityFile, "1/smp_affinity", "3/smp_affinity", "11/smp_affinity"} {
				set, err := ParseMask(mustRead(rel))
				Expect(err).To(BeNil())
				Expect(set.Equals(cpuset.New(0))).To(BeTrue())
			}
		})

		It("should never touch banned files", func() {
			Expect(sut.Setup(ctx)).To(BeNil())

			Expect(mustRead("0/smp_affinity")).To(Equal("ff"))
			Expect(mustRead("2/smp_affinity")).To(Equal("ff"))

			content, err := os.ReadFile(snapshot)
			Expect(err).To(BeNil())
			Expect(string(content)).NotTo(ContainSubstring("0/smp_affinity"))
			Expect(string(content)).NotTo(ContainSubstring("2/smp_affinity"))
		})

		It("should save the original mask of every touched file", func() {
			Expect(sut.Setup(ctx)).To(BeNil())

			content, err := os.ReadFile(snapshot)
			Expect(err).To(BeNil())
			lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
			Expect(lines).To(HaveLen(4))

			Expect(lines[0]).To(Equal(filepath.Join(procIRQDir, defaultAffinityFile) + ":ff"))
			Expect(lines[1]).To(Equal(filepath.Join(procIRQDir, "1/smp_affinity") + ":3"))
			Expect(lines[2]).To(Equal(filepath.Join(procIRQDir, "3/smp_affinity") + ":0000000c"))
			Expect(lines[3]).To(Equal(filepath.Join(procIRQDir, "11/smp_affinity") + ":f0"))
		})

		It("should fail when a written mask does not read back", func() {
			// A write to /dev/null succeeds but reads back empty, as if
			// the kernel silently rejected the mask.
			target := filepath.Join(procIRQDir, "1/smp_affinity")
			Expect(os.Remove(target)).To(BeNil())
			Expect(os.Symlink(os.DevNull, target)).To(BeNil())

			err := sut.Setup(ctx)
			Expect(err).NotTo(BeNil())
			Expect(err.Error()).To(ContainSubstring("affinity verification failed"))

			// later targets must not have been touched
			Expect(mustRead("3/smp_affinity")).To(Equal("0000000c"))
			Expect(mustRead("11/smp_affinity")).To(Equal("f0"))
		})

		It("should not overwrite an existing snapshot on repeated setup", func() {
			Expect(sut.Setup(ctx)).To(BeNil())
			firstSnapshot, err := os.ReadFile(snapshot)
			Expect(err).To(BeNil())

			// A second setup without an intervening reset must keep the
			// originally captured state recoverable.
			Expect(sut.Setup(ctx)).To(BeNil())
			secondSnapshot, err := os.ReadFile(snapshot)
			Expect(err).To(BeNil())
			Expect(secondSnapshot).To(Equal(firstSnapshot))

			Expect(sut.Reset(ctx)).To(BeNil())
			Expect(mustRead("1/smp_affinity")).To(Equal("3"))
			Expect(mustRead("3/smp_affinity")).To(Equal("0000000c"))
		})
	})

	Describe("Reset", func() {
		It("should restore every saved mask byte for byte and delete the snapshot", func() {
			Expect(sut.Setup(ctx)).To(BeNil())
			Expect(sut.Reset(ctx)).To(BeNil())

			Expect(mustRead(defaultAffinityFile)).To(Equal("ff"))
			Expect(mustRead("1/smp_affinity")).To(Equal("3"))
			Expect(mustRead("3/smp_affinity")).To(Equal("0000000c"))
			Expect(mustRead("11/smp_affinity")).To(Equal("f0"))

			_, err := os.Stat(snapshot)
			Expect(os.IsNotExist(err)).To(BeTrue())
		})

		It("should be a no-op without a snapshot", func() {
			Expect(sut.Reset(ctx)).To(BeNil())
		})

		It("should be safely callable twice", func() {
			Expect(sut.Setup(ctx)).To(BeNil())
			Expect(sut.Reset(ctx)).To(BeNil())
			Expect(sut.Reset(ctx)).To(BeNil())
		})

		It("should tolerate an interrupt source that vanished after setup", func() {
			Expect(sut.Setup(ctx)).To(BeNil())
			Expect(os.RemoveAll(filepath.Join(procIRQDir, "11"))).To(BeNil())

			Expect(sut.Reset(ctx)).To(BeNil())
			Expect(mustRead("1/smp_affinity")).To(Equal("3"))
		})

		It("should fail on a malformed snapshot and keep it for a retry", func() {
			Expect(os.WriteFile(snapshot, []byte("not a snapshot line\n"), 0o644)).To(BeNil())

			Expect(sut.Reset(ctx)).NotTo(BeNil())

			_, err := os.Stat(snapshot)
			Expect(err).To(BeNil())
		})
	})
})
