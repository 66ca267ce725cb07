package commands

import (
	"github.com/spf13/cobra"

	"github.com/zevanoo/baileys-ez/cmd/internal/app"
)

func serveCmd(cfg func() *app.Config) *cobra.Command {
	var (
		addr        string
		archive     string
		clientsFile string
		bridgeURL   string
		noConnect   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the host: clients, archive, HTTP and event stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := cfg()
			f := cmd.Flags()
			if f.Changed("addr") {
				c.HTTPAddr = addr
			}
			if f.Changed("archive") {
				c.Archive = archive
			}
			if f.Changed("clients") {
				c.ClientsFile = clientsFile
			}
			if f.Changed("bridge") {
				c.BridgeURL = bridgeURL
			}
			if noConnect {
				c.ConnectOnStart = false
			}
			return app.Run(*c)
		},
	}

	f := cmd.Flags()
	f.StringVar(&addr, "addr", "", "HTTP listen address (env EZWA_HTTP_ADDR)")
	f.StringVar(&archive, "archive", "", "memory, sqlite, postgres or off (env EZWA_ARCHIVE)")
	f.StringVar(&clientsFile, "clients", "", "clients manifest, YAML (env EZWA_CLIENTS_FILE)")
	f.StringVar(&bridgeURL, "bridge", "", "protocol bridge websocket URL (env EZWA_BRIDGE_URL)")
	f.BoolVar(&noConnect, "no-connect", false, "register clients without connecting them")
	return cmd
}
