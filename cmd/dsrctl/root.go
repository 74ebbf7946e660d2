package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ignite/mailgun-dsr-connector/internal/app"
	"github.com/ignite/mailgun-dsr-connector/internal/config"
	"github.com/ignite/mailgun-dsr-connector/internal/service/dsr"
)

type rootOptions struct {
	configPath string
	requestID  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "dsrctl",
		Short: "Run data subject requests against Mailgun mailing lists",
		Long: `dsrctl runs a single seed, access or erasure request against the
Mailgun account configured by MAILGUN_API_KEY (or --config) and prints the
result as JSON.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.yaml (defaults plus env when empty)")
	cmd.PersistentFlags().StringVar(&opts.requestID, "request-id", "", "request ID to correlate logs and audit rows")

	cmd.AddCommand(newSeedCmd(opts), newAccessCmd(opts), newErasureCmd(opts), newAuditCmd(opts))
	return cmd
}

// run builds the connector for one command and hands it over. Every command
// runs under one request ID, --request-id or a fresh one, so the printed
// result, the logs and the audit rows agree.
func (o *rootOptions) run(cmd *cobra.Command, fn func(a *app.App) (any, error)) error {
	cfg, err := config.LoadFromEnv(o.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	id := o.requestID
	if id == "" {
		id = uuid.NewString()
	}
	cmd.SetContext(dsr.WithRequestID(cmd.Context(), id))
	out, err := fn(a)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
