package main

import (
	"context"
	"encoding/json"
	"os"

	"lv-papertrade/internal/audit"
	"lv-papertrade/internal/logging"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var auditDir string

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the local audit trail",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every event recorded by the badger audit sink, one JSON object per line",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := auditDir
		if dir == "" {
			dir = os.Getenv("AUDIT_BADGER_DIR")
		}
		if dir == "" {
			return errors.New("audit dir not set: pass --dir or AUDIT_BADGER_DIR")
		}
		sink, err := audit.OpenBadgerSink(dir, logging.Discard())
		if err != nil {
			return err
		}
		defer sink.Close()
		events, err := sink.List(context.Background())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, evt := range events {
			if err := enc.Encode(evt); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	auditListCmd.Flags().StringVar(&auditDir, "dir", "", "badger directory (defaults to AUDIT_BADGER_DIR)")
	auditCmd.AddCommand(auditListCmd)
}
