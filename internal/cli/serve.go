package cli

import (
	"github.com/spf13/cobra"

	"rssel/internal/server"
)

const serveLongDesc string = `Serve the archive as a JSON API.

Endpoints:
  GET  /api/items                  list items; accepts the list filters as query parameters
  GET  /api/items/{id}             one item with its tags
  POST /api/items/{id}/{action}    read, unread, star or unstar
  GET  /api/tags                   tag counts
  GET  /api/sources                source summaries

Examples:
  rssel serve
  rssel serve --listen :8080`

type serveCommander struct {
	listen string
}

func newServeCmd(g *globals) *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API",
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: withApp(g, func(cmd *cobra.Command, a *app, _ []string) error {
			addr := a.cfg.Server.Listen
			if cmder.listen != "" {
				addr = cmder.listen
			}
			srv := server.New(a.store, a.engine, a.cfg.Query.NewHours, a.log)
			return srv.ListenAndServe(cmd.Context(), addr)
		}),
	}
	cmd.Flags().StringVar(&cmder.listen, "listen", "", "listen address (default from config)")

	return cmd
}
