package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/entrhq/claimbridge/pkg/config"
)

var (
	runURL         string
	runPayload     string
	runPayloadFile string
	runHeadful     bool
	runTimeout     time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive the portal once with a payload",
	Long: `Open the portal in a managed browser, hand it the payload, and run
the login, contact-details and documents steps once.

When the run reaches the documents page the submission is saved through the
configured records endpoint.

Examples:
  claimbridge run --payload-file case.json
  claimbridge run --url https://portal.example/login --payload '{"caseId":"C-1"}'
  cat case.json | claimbridge run --payload-file -`,
	Args: cobra.NoArgs,
	RunE: runPortal,
}

func init() {
	runCmd.Flags().StringVar(&runURL, "url", "", "Portal start URL (overrides config)")
	runCmd.Flags().StringVar(&runPayload, "payload", "", "Inline JSON payload")
	runCmd.Flags().StringVar(&runPayloadFile, "payload-file", "", "File holding the JSON payload (- for stdin)")
	runCmd.Flags().BoolVar(&runHeadful, "headful", false, "Show the browser window")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 10*time.Minute, "Give up after this long")
}

func runPortal(cmd *cobra.Command, args []string) error {
	logger := newLogger("claimbridge")

	payload, err := readPayload(runPayload, runPayloadFile)
	if err != nil {
		return err
	}

	settings := config.GetPortal().Snapshot()
	if runURL != "" {
		settings.StartURL = runURL
	}
	if runHeadful {
		settings.Headless = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	bg, err := startBackground(logger)
	if err != nil {
		return err
	}
	defer bg.Close()

	if payload != nil {
		if err := bg.storePayload(ctx, payload); err != nil {
			return err
		}
	}

	p, err := openPortal(ctx, bg.rt, settings, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Warnf("browser shutdown: %v", err)
		}
	}()

	if payload != nil {
		if _, err := p.agent.RequestPayload(ctx); err != nil {
			return err
		}
	}

	done := make(chan struct{})
	p.agent.StartFlow()
	go func() {
		p.agent.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	report, ok := p.agent.LastReport()
	if !ok {
		return errors.New("flow did not run")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "completed=%t stages=%v attached=%t\n", report.Completed, report.Stages, report.Attached)
	if !report.Completed {
		return errors.New("portal flow did not complete")
	}
	return nil
}
