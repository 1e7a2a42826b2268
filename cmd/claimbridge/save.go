package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/entrhq/claimbridge/pkg/config"
	"github.com/entrhq/claimbridge/pkg/submission"
)

var saveMaxAttempts int

var saveCmd = &cobra.Command{
	Use:   "save [record.json]",
	Short: "Save one submission record with retries",
	Long: `Post a submission record to the configured records endpoint, retrying
on the backoff schedule. The record is read from the file argument, or from
stdin when no file is given.

Prints the JSON result; exits non-zero when the record needs manual saving.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSave,
}

func init() {
	saveCmd.Flags().IntVar(&saveMaxAttempts, "max-attempts", 0, "Attempts before giving up (default from config)")
}

func runSave(cmd *cobra.Command, args []string) error {
	file := "-"
	if len(args) == 1 {
		file = args[0]
	}
	data, err := readPayload("", file)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	section := config.GetSave()
	attempts := saveMaxAttempts
	if attempts <= 0 {
		attempts = section.GetMaxAttempts()
	}

	service := submission.NewServiceFromConfig(section, newLogger("submission"))
	result := service.Save(ctx, data, attempts)

	enc := json.NewEncoder(cmd.OutOrStdout())
	if err := enc.Encode(result); err != nil {
		return err
	}
	if !result.Success {
		return errors.New("submission needs manual saving")
	}
	return nil
}
