package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/entrhq/claimbridge/pkg/config"
	"github.com/entrhq/claimbridge/pkg/server"
)

var (
	serveListen    string
	serveOpenTab   bool
	serveAutoStart bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background router with its HTTP and websocket front",
	Long: `Run the background router behind an HTTP server.

Frontends post messages to /v1/messages. Remote tabs connect to
/v1/tabs/{id}/ws. With --open-tab a managed browser opens the configured
portal and registers it as a local tab; send it {"action":"start-flow"} on
/v1/tabs/{id}/messages (or pass --auto-start) to run the automation.

Examples:
  claimbridge serve
  claimbridge serve --listen :8642 --open-tab --auto-start`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveOpenTab, "open-tab", false, "Open the portal in a managed browser tab")
	serveCmd.Flags().BoolVar(&serveAutoStart, "auto-start", false, "Start the portal flow as soon as the tab is ready")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger("claimbridge")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bg, err := startBackground(logger)
	if err != nil {
		return err
	}
	defer bg.Close()

	if serveOpenTab {
		p, err := openPortal(ctx, bg.rt, config.GetPortal().Snapshot(), logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := p.Close(); err != nil {
				logger.Warnf("browser shutdown: %v", err)
			}
		}()
		if serveAutoStart {
			p.agent.StartFlow()
		}
	}

	serverSection := config.GetServer()
	listen := serveListen
	if listen == "" {
		listen = serverSection.GetListenAddr()
	}

	srv := server.New(bg.rt, bg.router.Store(), server.Options{
		ListenAddr:      listen,
		ShutdownTimeout: serverSection.GetShutdownTimeout(),
	}, logger.Named("server"))
	return srv.ListenAndServe(ctx)
}
