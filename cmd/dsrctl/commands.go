package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ignite/mailgun-dsr-connector/internal/app"
	"github.com/ignite/mailgun-dsr-connector/internal/service/dsr"
)

func newSeedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <identifier> <mailing-list>",
		Short: "Subscribe an identifier to a mailing list",
		Long: `Upserts the identifier onto the list. Upstream failures are logged and
the command still succeeds.

Examples:
  dsrctl seed jane@example.com newsletter@mg.example.com`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(a *app.App) (any, error) {
				ctx := cmd.Context()
				if err := a.Service.Seed(ctx, dsr.SeedInput{Identifier: args[0], MailingList: args[1]}); err != nil {
					return nil, err
				}
				return map[string]string{"request_id": dsr.RequestIDFrom(ctx)}, nil
			})
		},
	}
}

func newAccessCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "access <identifier>",
		Short: "List every mailing list the identifier is subscribed to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(a *app.App) (any, error) {
				return a.Service.Access(cmd.Context(), args[0])
			})
		},
	}
}

func newErasureCmd(opts *rootOptions) *cobra.Command {
	var lists []string
	var contextFile string

	cmd := &cobra.Command{
		Use:   "erasure <identifier>",
		Short: "Remove an identifier from the given mailing lists",
		Long: `Removes the identifier from each list named by --lists, or from the
contextDict in --context-file (the JSON printed by "dsrctl access"). With
neither, nothing is removed.

Examples:
  dsrctl erasure jane@example.com --lists a@mg.example.com,b@mg.example.com
  dsrctl access jane@example.com > access.json
  dsrctl erasure jane@example.com --context-file access.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dict, err := erasureContext(lists, contextFile)
			if err != nil {
				return err
			}
			return opts.run(cmd, func(a *app.App) (any, error) {
				return a.Service.Erasure(cmd.Context(), args[0], dict)
			})
		},
	}
	cmd.Flags().StringSliceVar(&lists, "lists", nil, "mailing list addresses to remove the identifier from")
	cmd.Flags().StringVar(&contextFile, "context-file", "", "access result JSON holding a contextDict")
	cmd.MarkFlagsMutuallyExclusive("lists", "context-file")
	return cmd
}

func newAuditCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit <identifier>",
		Short: "Show the recorded DSR history of an identifier",
		Long: `Prints the audit rows recorded for the identifier, newest first.
Requires the audit database (audit.enabled or DATABASE_URL).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(a *app.App) (any, error) {
				if a.Audit == nil {
					return nil, errors.New("audit trail is not enabled")
				}
				entries, err := a.Audit.ListByIdentifier(cmd.Context(), args[0], limit)
				if err != nil {
					return nil, err
				}
				if entries == nil {
					entries = []dsr.AuditEntry{}
				}
				return entries, nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of rows")
	return cmd
}

func erasureContext(lists []string, contextFile string) (*dsr.ContextDict, error) {
	if len(lists) > 0 {
		return &dsr.ContextDict{MailingLists: lists}, nil
	}
	if contextFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(contextFile)
	if err != nil {
		return nil, fmt.Errorf("read context file: %w", err)
	}
	var res dsr.AccessResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parse context file: %w", err)
	}
	return &res.ContextDict, nil
}
