package cli_test

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"rssel/internal/cli"
	"rssel/internal/config"
)

// run executes the root command against home and returns its stdout.
func run(home string, args ...string) (string, error) {
	cmd := cli.NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(GinkgoWriter)
	cmd.SetArgs(append([]string{"--home", home}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(home string, args ...string) string {
	out, err := run(home, args...)
	ExpectWithOffset(1, err).NotTo(HaveOccurred(), "rssel %v", args)
	return out
}

func feedServer() *httptest.Server {
	mux := http.NewServeMux()
	serve := func(path, fixture string) {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, fixture)
		})
	}
	serve("/go.xml", "../../testdata/sample.xml")
	serve("/data.atom", "../../testdata/atom.xml")
	return httptest.NewServer(mux)
}

var _ = Describe("NewRootCmd", func() {
	It("registers every command", func() {
		cmd := cli.NewRootCmd()
		var names []string
		for _, c := range cmd.Commands() {
			names = append(names, c.Name())
		}
		Expect(names).To(ContainElements(
			"init", "sources", "fetch", "sync", "list", "next",
			"tags", "mark", "star", "archive", "purge", "serve",
		))
	})

	It("has the global flags", func() {
		cmd := cli.NewRootCmd()
		for _, name := range []string{"home", "log-level", "log-format"} {
			Expect(cmd.PersistentFlags().Lookup(name)).NotTo(BeNil(), name)
		}
	})

	It("rejects conflicting export switches", func() {
		_, err := run(GinkgoT().TempDir(), "sync", "--write-files", "--no-write-files")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("init", func() {
	var home string

	BeforeEach(func() {
		home = filepath.Join(GinkgoT().TempDir(), "home")
	})

	It("writes the starter files and the database", func() {
		out := mustRun(home, "init")
		Expect(out).To(ContainSubstring("wrote " + config.Path(home)))

		for _, name := range []string{"config.toml", "sources.json", "stopwords.txt", "rssel.db"} {
			_, err := os.Stat(filepath.Join(home, name))
			Expect(err).NotTo(HaveOccurred(), name)
		}

		cfg, err := config.Load(home)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Export.Format).To(Equal("md"))
	})

	It("keeps existing files unless forced", func() {
		mustRun(home, "init")
		Expect(os.WriteFile(filepath.Join(home, "sources.json"), []byte(`[]`), 0o600)).To(Succeed())

		out := mustRun(home, "init")
		Expect(out).To(ContainSubstring("kept " + filepath.Join(home, "sources.json")))
		data, err := os.ReadFile(filepath.Join(home, "sources.json"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal(`[]`))

		mustRun(home, "init", "--force")
		data, err = os.ReadFile(filepath.Join(home, "sources.json"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(ContainSubstring(`"sources"`))
	})
})

var _ = Describe("Archive workflow", func() {
	var (
		home string
		srv  *httptest.Server
	)

	BeforeEach(func() {
		srv = feedServer()
		DeferCleanup(srv.Close)

		home = GinkgoT().TempDir()
		mustRun(home, "init")
		doc := fmt.Sprintf(`{
  "sources": [
    {"url": %q, "title": "Gopher Notes", "groups": ["go"], "tier": 1},
    {"url": %q, "groups": ["data"]},
  ],
}`, srv.URL+"/go.xml", srv.URL+"/data.atom")
		Expect(os.WriteFile(filepath.Join(home, "sources.json"), []byte(doc), 0o600)).To(Succeed())

		out := mustRun(home, "sync", "--no-write-files")
		Expect(out).To(ContainSubstring("fetched 2 sources, 5 new items"))
		Expect(out).To(ContainSubstring("tagged 5 items"))
	})

	It("does not store duplicates on a second fetch", func() {
		out := mustRun(home, "fetch")
		Expect(out).To(ContainSubstring("fetched 2 sources, 0 new items"))
	})

	It("reports an unknown source", func() {
		_, err := run(home, "fetch", "--source", "999")
		Expect(err).To(MatchError(ContainSubstring("not found")))
	})

	It("lists group names", func() {
		Expect(mustRun(home, "sources", "--groups")).To(Equal("data\ngo\n"))
	})

	It("lists sources with counts", func() {
		out := mustRun(home, "sources")
		Expect(out).To(ContainSubstring("Gopher Notes"))
		Expect(out).To(ContainSubstring(srv.URL + "/data.atom"))
		Expect(out).NotTo(ContainSubstring("never"))
	})

	It("lists and filters items", func() {
		out := mustRun(home, "list", "--all", "--sort", "id")
		for _, title := range []string{
			"Kubernetes operators in Go", "SQLite WAL mode explained", "Release notes",
			"Streaming joins with watermarks", "Partitioning parquet files",
		} {
			Expect(out).To(ContainSubstring(title))
		}

		out = mustRun(home, "list", "--group", "data")
		Expect(out).To(ContainSubstring("Streaming joins"))
		Expect(out).NotTo(ContainSubstring("Kubernetes"))

		out = mustRun(home, "list", "--tag", "kubernetes")
		Expect(out).To(ContainSubstring("Kubernetes operators in Go"))
		Expect(out).NotTo(ContainSubstring("parquet"))

		out = mustRun(home, "list", "--query", "write-ahead")
		Expect(out).To(ContainSubstring("SQLite WAL"))
		Expect(out).NotTo(ContainSubstring("Release notes"))

		out = mustRun(home, "list", "--group-by", "group")
		Expect(out).To(ContainSubstring("== go (3)"))
		Expect(out).To(ContainSubstring("== data (2)"))
	})

	It("rejects bad list options", func() {
		_, err := run(home, "list", "--sort", "sideways")
		Expect(err).To(HaveOccurred())
		_, err = run(home, "list", "--read", "--unread")
		Expect(err).To(HaveOccurred())
		_, err = run(home, "list", "--since", "not a date")
		Expect(err).To(HaveOccurred())
	})

	It("marks, stars and reads items", func() {
		Expect(mustRun(home, "mark", "1,2")).To(ContainSubstring("marked 2 items read"))
		out := mustRun(home, "list", "--unread")
		Expect(out).NotTo(ContainSubstring("Kubernetes"))
		Expect(out).To(ContainSubstring("Release notes"))

		mustRun(home, "mark", "2", "--unread")
		Expect(mustRun(home, "list", "--unread")).To(ContainSubstring("SQLite WAL"))

		Expect(mustRun(home, "star", "3")).To(ContainSubstring("starred 1 items"))
		Expect(mustRun(home, "list", "--starred")).To(ContainSubstring("Release notes"))

		_, err := run(home, "mark", "99")
		Expect(err).To(HaveOccurred())
		_, err = run(home, "star", "abc")
		Expect(err).To(HaveOccurred())

		out = mustRun(home, "next")
		Expect(out).To(ContainSubstring("Partitioning parquet files"))
		Expect(mustRun(home, "list", "--unread")).NotTo(ContainSubstring("parquet"))

		out = mustRun(home, "next", "--group", "go", "--keep")
		Expect(out).To(ContainSubstring("Release notes"))
		Expect(mustRun(home, "list", "--unread")).To(ContainSubstring("Release notes"))
	})

	It("protects starred items when archiving by id", func() {
		mustRun(home, "star", "2")

		out := mustRun(home, "archive", "id", "1", "2")
		Expect(out).To(ContainSubstring("kept 2: starred"))
		Expect(out).To(ContainSubstring("archived 1 items"))
		Expect(mustRun(home, "list")).NotTo(ContainSubstring("Kubernetes"))
		Expect(mustRun(home, "list", "--deleted", "only")).To(ContainSubstring("Kubernetes"))

		Expect(mustRun(home, "archive", "id", "2", "--force")).To(ContainSubstring("archived 1 items"))
		Expect(mustRun(home, "archive", "id", "1", "2", "--undo")).To(ContainSubstring("restored 2 items"))
		Expect(mustRun(home, "list")).To(ContainSubstring("Kubernetes"))
	})

	It("changes nothing when an item id is unknown", func() {
		_, err := run(home, "archive", "id", "1", "999")
		Expect(err).To(MatchError(ContainSubstring("not found")))
		Expect(mustRun(home, "list", "--deleted", "only")).To(Equal("no items\n"))

		mustRun(home, "archive", "id", "1")
		_, err = run(home, "archive", "id", "1", "999", "--undo")
		Expect(err).To(MatchError(ContainSubstring("not found")))
		Expect(mustRun(home, "list", "--deleted", "only")).To(ContainSubstring("Kubernetes"))
	})

	It("keeps starred items when archiving by date unless forced", func() {
		mustRun(home, "star", "2")

		out := mustRun(home, "archive", "date", "--until", "2024-01-05")
		Expect(out).To(ContainSubstring("archived 2 items, kept 1 starred"))
		out = mustRun(home, "list")
		Expect(out).To(ContainSubstring("SQLite WAL"))
		Expect(out).NotTo(ContainSubstring("Release notes"))

		Expect(mustRun(home, "archive", "date", "--until", "2024-01-05", "--force")).To(Equal("archived 1 items\n"))
		Expect(mustRun(home, "list")).NotTo(ContainSubstring("SQLite WAL"))
		Expect(mustRun(home, "list", "--deleted", "only", "--starred")).To(ContainSubstring("SQLite WAL"))
	})

	It("archives by date range and undoes it", func() {
		_, err := run(home, "archive", "date")
		Expect(err).To(HaveOccurred())

		Expect(mustRun(home, "archive", "date", "--until", "2024-01-05")).To(ContainSubstring("archived 3 items"))
		out := mustRun(home, "list")
		Expect(out).NotTo(ContainSubstring("Release notes"))
		Expect(out).To(ContainSubstring("parquet"))

		Expect(mustRun(home, "archive", "date", "--until", "2024-01-05", "--undo")).To(ContainSubstring("restored 3 items"))
	})

	It("archives a source with its items", func() {
		out := mustRun(home, "archive", "source", "2", "--delete-items")
		Expect(out).To(ContainSubstring("archived 1 sources"))
		Expect(out).To(ContainSubstring("archived 2 items"))
		Expect(mustRun(home, "list")).NotTo(ContainSubstring("parquet"))
		Expect(mustRun(home, "sources")).To(ContainSubstring("[archived]"))

		out = mustRun(home, "fetch")
		Expect(out).To(ContainSubstring("fetched 1 sources"))

		out = mustRun(home, "archive", "group", "data", "--delete-items", "--undo")
		Expect(out).To(ContainSubstring("restored 1 sources"))
		Expect(out).To(ContainSubstring("restored 2 items"))
		Expect(mustRun(home, "list")).To(ContainSubstring("parquet"))

		_, err := run(home, "archive", "group", "nope")
		Expect(err).To(HaveOccurred())
	})

	It("purges archived items", func() {
		_, err := run(home, "purge")
		Expect(err).To(HaveOccurred())

		mustRun(home, "archive", "id", "1")
		Expect(mustRun(home, "purge", "--deleted")).To(ContainSubstring("purged 1 items"))
		Expect(mustRun(home, "list", "--deleted", "include")).NotTo(ContainSubstring("Kubernetes"))
	})

	It("lists and proposes tags", func() {
		Expect(mustRun(home, "tags", "list")).To(ContainSubstring("kubernetes"))
		Expect(mustRun(home, "tags", "list", "--group", "data")).NotTo(ContainSubstring("kubernetes"))

		Expect(mustRun(home, "tags", "auto")).To(ContainSubstring("tagged 0 items"))

		out := mustRun(home, "tags", "auto", "--dry-run", "--retag-all", "--group", "go", "--max-tags", "2")
		Expect(out).To(ContainSubstring("Kubernetes operators in Go -> "))
		Expect(out).To(ContainSubstring("would tag 3 items"))
	})

	It("exports pending items on the next sync", func() {
		dest := filepath.Join(GinkgoT().TempDir(), "tree")
		out := mustRun(home, "sync", "--dest", dest, "--format", "json")
		Expect(out).To(ContainSubstring("exported 5 items"))

		files, err := filepath.Glob(filepath.Join(dest, "*", "*.json"))
		Expect(err).NotTo(HaveOccurred())
		Expect(files).To(HaveLen(5))

		out = mustRun(home, "sync", "--dest", dest, "--format", "json")
		Expect(out).NotTo(ContainSubstring("exported"))
	})
})
