package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/recordkit/internal/adapter"
	"github.com/roach88/recordkit/internal/store"
)

// RecordOptions holds the flags shared by the record commands.
type RecordOptions struct {
	*RootOptions
	Query      string   // wire filter as JSON
	Data       string   // payload as JSON, or "-" for stdin
	Select     []string // field whitelist
	Refresh    bool     // re-apply the default TTL on update and patch
	NoPaginate bool     // disable pagination for find
	Seconds    int      // TTL for expire
}

func (o *RecordOptions) addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.Query, "query", "q", "", `filter as JSON, e.g. '{"age":{"$gt":30},"$sort":{"name":1}}'`)
	cmd.Flags().StringSliceVar(&o.Select, "select", nil, "fields to return (the identity is always kept)")
}

func (o *RecordOptions) addDataFlag(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.Data, "data", "d", "", `record as JSON, or "-" to read stdin`)
	_ = cmd.MarkFlagRequired("data")
}

// params builds the adapter params from the flags.
func (o *RecordOptions) params() (adapter.Params, error) {
	p := adapter.Params{
		Select:            o.Select,
		RefreshExpiration: o.Refresh,
		DisablePagination: o.NoPaginate,
		Provider:          "cli",
	}
	if o.Query == "" {
		return p, nil
	}
	var q map[string]any
	if err := json.Unmarshal([]byte(o.Query), &q); err != nil {
		return p, fmt.Errorf("invalid --query JSON: %w", err)
	}
	p.Query = q
	return p, nil
}

// payload decodes --data, reading stdin for "-".
func (o *RecordOptions) payload(stdin io.Reader) (any, error) {
	raw := []byte(o.Data)
	if strings.TrimSpace(o.Data) == "-" {
		var err error
		raw, err = io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("invalid --data JSON: %w", err)
	}
	return v, nil
}

// object decodes --data as a single record.
func (o *RecordOptions) object(stdin io.Reader) (store.Record, error) {
	v, err := o.payload(stdin)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid --data: expected a JSON object")
	}
	return store.Record(m), nil
}

// recordCommand wires a record command: parse params, open a session,
// call run and print its result.
func recordCommand(opts *RecordOptions, cmd *cobra.Command, op string, run func(ctx context.Context, svc *adapter.Service, p adapter.Params) (any, error)) error {
	f := newFormatter(opts.RootOptions, cmd)
	p, err := opts.params()
	if err != nil {
		return f.Fail(ErrCodeInput, op+" failed", err)
	}

	return withSession(opts.RootOptions, cmd, func(ctx context.Context, s *session, f *OutputFormatter) error {
		out, err := run(ctx, s.service, p)
		if err != nil {
			return f.Fail(ErrCodeGeneric, op+" failed", err)
		}
		return f.Document(out)
	})
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "find",
		Short: "Find records matching a query",
		Long: `Find records matching a query.

The query is the wire filter: field equality, $ne, $gt, $gte, $lt, $lte,
$and, $or, plus the $sort, $limit, $skip and $select directives. With
pagination configured the result is {total, limit, skip, data}.

Examples:
  recordkit find --schema people.yaml
  recordkit find -q '{"age":{"$gte":18},"$sort":{"age":-1},"$limit":5}'
  recordkit find -q '{"city":"London"}' --select name --no-paginate`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return recordCommand(opts, cmd, "find", func(ctx context.Context, svc *adapter.Service, p adapter.Params) (any, error) {
				return svc.Find(ctx, p)
			})
		},
	}

	opts.addQueryFlags(cmd)
	cmd.Flags().BoolVar(&opts.NoPaginate, "no-paginate", false, "return every match without the page envelope")

	return cmd
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get one record by identity",
		Long: `Get one record by identity.

A --query further constrains the lookup; a record that exists but does not
match is reported as not found.

Example:
  recordkit get 01890a5d-ac96-774b-bcce-b302099a8057 --select name`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return recordCommand(opts, cmd, "get", func(ctx context.Context, svc *adapter.Service, p adapter.Params) (any, error) {
				return svc.Get(ctx, args[0], p)
			})
		},
	}

	opts.addQueryFlags(cmd)

	return cmd
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create one or more records",
		Long: `Create one or more records.

Each record gets a generated identity. A JSON array creates several records
and requires "create" in the config's multi list.

Examples:
  recordkit create -d '{"name":"Ada","age":36}'
  cat people.json | recordkit create -d -`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.payload(cmd.InOrStdin())
			if err != nil {
				return newFormatter(rootOpts, cmd).Fail(ErrCodeInput, "create failed", err)
			}
			return recordCommand(opts, cmd, "create", func(ctx context.Context, svc *adapter.Service, p adapter.Params) (any, error) {
				return svc.CreateAny(ctx, data, p)
			})
		},
	}

	opts.addDataFlag(cmd)
	cmd.Flags().StringSliceVar(&opts.Select, "select", nil, "fields to return (the identity is always kept)")

	return cmd
}

// mutationCommand builds update and patch, which share their flags.
func mutationCommand(rootOpts *RootOptions, use, short, long string, call func(*adapter.Service) func(context.Context, string, store.Record, adapter.Params) (store.Record, error)) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           use + " <id>",
		Short:         short,
		Long:          long,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.object(cmd.InOrStdin())
			if err != nil {
				return newFormatter(rootOpts, cmd).Fail(ErrCodeInput, use+" failed", err)
			}
			return recordCommand(opts, cmd, use, func(ctx context.Context, svc *adapter.Service, p adapter.Params) (any, error) {
				return call(svc)(ctx, args[0], data, p)
			})
		},
	}

	opts.addQueryFlags(cmd)
	opts.addDataFlag(cmd)
	cmd.Flags().BoolVar(&opts.Refresh, "refresh", false, "reset the record's TTL to the default expiration")

	return cmd
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	return mutationCommand(rootOpts, "update", "Replace a record",
		`Replace a record.

The stored record is replaced by --data; fields not in --data are dropped.
The identity is kept.

Example:
  recordkit update 01890a5d-ac96-774b-bcce-b302099a8057 -d '{"name":"Ada","age":37}'`,
		func(svc *adapter.Service) func(context.Context, string, store.Record, adapter.Params) (store.Record, error) {
			return svc.Update
		})
}

// NewPatchCommand creates the patch command.
func NewPatchCommand(rootOpts *RootOptions) *cobra.Command {
	return mutationCommand(rootOpts, "patch", "Merge fields into a record",
		`Merge fields into a record.

Fields in --data overwrite the stored ones; other fields are kept.

Example:
  recordkit patch 01890a5d-ac96-774b-bcce-b302099a8057 -d '{"age":37}' --refresh`,
		func(svc *adapter.Service) func(context.Context, string, store.Record, adapter.Params) (store.Record, error) {
			return svc.Patch
		})
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a record",
		Long: `Remove a record and print it as it was before removal.

Example:
  recordkit remove 01890a5d-ac96-774b-bcce-b302099a8057`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return recordCommand(opts, cmd, "remove", func(ctx context.Context, svc *adapter.Service, p adapter.Params) (any, error) {
				return svc.Remove(ctx, args[0], p)
			})
		},
	}

	opts.addQueryFlags(cmd)

	return cmd
}

// ExpireResult is the output of the expire command.
type ExpireResult struct {
	ID      string `json:"id"`
	Seconds int    `json:"seconds"`
}

func (r ExpireResult) String() string {
	return fmt.Sprintf("%s expires in %ds", r.ID, r.Seconds)
}

// NewExpireCommand creates the expire command.
func NewExpireCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "expire <id>",
		Short: "Set a record's TTL",
		Long: `Set a record's TTL, replacing any previous one.

Example:
  recordkit expire 01890a5d-ac96-774b-bcce-b302099a8057 --seconds 3600`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session, f *OutputFormatter) error {
				if err := s.service.Expire(ctx, args[0], opts.Seconds); err != nil {
					return f.Fail(ErrCodeBackend, "expire failed", err)
				}
				return f.Success(ExpireResult{ID: args[0], Seconds: opts.Seconds})
			})
		},
	}

	cmd.Flags().IntVar(&opts.Seconds, "seconds", 0, "TTL in seconds (required)")
	_ = cmd.MarkFlagRequired("seconds")

	return cmd
}
