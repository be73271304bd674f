package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/repochat/pkg/engine"
	"github.com/xhad/repochat/server"
)

var flagAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Answer questions about a repository over a websocket",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, namespace, err := openRepo(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		addr := a.config.Server.Addr
		if flagAddr != "" {
			addr = flagAddr
		}

		s := server.NewWSServer(server.Config{
			Addr:      addr,
			Namespace: namespace,
			Engine:    a.engineConfig(namespace),
			Logger:    a.logger,
		}, func(cfg engine.Config) (*engine.Session, error) {
			return a.newSession(namespace, cfg)
		}, a.index)

		color.Cyan("Serving %s on %s (ws://%s/ws)", namespace, addr, addr)
		return s.ListenAndServe(ctx)
	},
}

func init() {
	addRepoFlags(serveCmd)
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}
