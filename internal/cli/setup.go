package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"rssel/internal/config"
	"rssel/internal/sources"
	"rssel/internal/tagger"
)

const initLongDesc string = `Initialize an rssel home directory.

Writes config.toml, a sample sources.json and an empty stopwords.txt, then
creates the database. Existing files are kept unless --force is given.

Examples:
  rssel init
  rssel --home ~/feeds init --force`

const initShortDesc string = "Initialize the home directory"

type initCommander struct {
	g     *globals
	force bool
}

func newInitCmd(g *globals) *cobra.Command {
	cmder := &initCommander{g: g}

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE:  cmder.run,
	}
	cmd.Flags().BoolVar(&cmder.force, "force", false, "overwrite existing files")

	return cmd
}

func (c *initCommander) run(cmd *cobra.Command, _ []string) error {
	home := config.ResolveHome(c.g.home)
	if err := os.MkdirAll(home, 0o750); err != nil {
		return fmt.Errorf("creating home directory: %w", err)
	}
	out := cmd.OutOrStdout()

	cfg := config.Default(home)
	tmpl, err := config.Template(cfg)
	if err != nil {
		return err
	}
	files := []struct {
		path string
		data []byte
	}{
		{config.Path(home), tmpl},
		{cfg.SourcesFile, sources.Sample()},
		{cfg.StopwordsFile, []byte(tagger.StopwordsTemplate)},
	}
	for _, f := range files {
		wrote, err := writeFile(f.path, f.data, c.force)
		if err != nil {
			return err
		}
		if wrote {
			_, _ = fmt.Fprintf(out, "wrote %s\n", f.path)
		} else {
			_, _ = fmt.Fprintf(out, "kept %s\n", f.path)
		}
	}

	a, err := c.g.open(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	a.printf("database ready at %s\n", a.cfg.DatabasePath)
	return nil
}

func writeFile(path string, data []byte, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("stat %s: %w", path, err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

const sourcesLongDesc string = `List the registered sources with item counts.

Sources are registered from sources.json on every fetch or sync. The handle
shown here can be used wherever a command takes --id or --source.
--groups lists the group names in use.`

func newSourcesCmd(g *globals) *cobra.Command {
	var groupsOnly bool

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List registered sources",
		Long:  sourcesLongDesc,
		Args:  cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, _ []string) error {
			if groupsOnly {
				groups, err := a.store.Groups(cmd.Context())
				if err != nil {
					return err
				}
				if len(groups) == 0 {
					a.printf("no groups\n")
				}
				for _, grp := range groups {
					a.printf("%s\n", grp)
				}
				return nil
			}

			srcs, err := a.engine.Sources(cmd.Context())
			if err != nil {
				return err
			}
			if len(srcs) == 0 {
				a.printf("no sources registered; run rssel fetch\n")
				return nil
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tTIER\tGROUP\tITEMS\tUNREAD\tFETCHED\tTITLE\tTAGS")
			for _, s := range srcs {
				fetched := "never"
				if s.LastFetchAt != nil {
					fetched = humanize.Time(*s.LastFetchAt)
				}
				title := s.Title
				if title == "" {
					title = s.URL
				}
				if s.Archived {
					title += " [archived]"
				}
				_, _ = fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%d\t%s\t%s\t%s\n",
					s.Handle, s.Tier, s.Group, s.Items, s.Unread, fetched, title, strings.Join(s.TopTags, ","))
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().BoolVar(&groupsOnly, "groups", false, "list group names only")

	return cmd
}
