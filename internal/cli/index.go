package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/recordkit/internal/schema"
)

// IndexResult is the output of the index command.
type IndexResult struct {
	Collection  string         `json:"collection"`
	Backend     string         `json:"backend"`
	Fingerprint string         `json:"fingerprint"`
	Rebuilt     bool           `json:"rebuilt"`
	Fields      []schema.Field `json:"fields"`
}

func (r IndexResult) String() string {
	var b strings.Builder
	state := "up to date"
	if r.Rebuilt {
		state = "rebuilt"
	}
	fmt.Fprintf(&b, "Index %s on %s %s (%s)\n", r.Collection, r.Backend, state, r.Fingerprint)
	for _, f := range r.Fields {
		sortable := ""
		if f.Sortable {
			sortable = " sortable"
		}
		fmt.Fprintf(&b, "  %s: %s%s\n", f.Name, f.Type, sortable)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewIndexCommand creates the index command.
func NewIndexCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the collection index",
		Long: `Build the collection index from the schema.

The index is only rebuilt when the schema fingerprint changed since the
last build. Every other command ensures the index too; run this one to
check a schema change ahead of time.

Example:
  recordkit index --config recordkit.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session, f *OutputFormatter) error {
				indexed := s.service.Schema()
				fingerprint, err := indexed.Fingerprint()
				if err != nil {
					return f.Fail(ErrCodeSchema, "failed to fingerprint schema", err)
				}
				return f.Success(IndexResult{
					Collection:  indexed.Name,
					Backend:     s.config.Backend,
					Fingerprint: fingerprint,
					Rebuilt:     s.service.IndexRebuilt(),
					Fields:      indexed.SortedFields(),
				})
			})
		},
	}

	return cmd
}

// sweeper is implemented by backends that enforce expiry themselves.
type sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// SweepResult is the output of the sweep command.
type SweepResult struct {
	Removed int64 `json:"removed"`
}

func (r SweepResult) String() string {
	return fmt.Sprintf("Removed %d expired record(s)", r.Removed)
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired records",
		Long: `Delete expired records from the store.

Expired records are never returned, but SQLite keeps their rows until a
sweep. Redis expires keys itself and does not support this command.

Example:
  recordkit sweep --dsn ./records.db --schema people.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session, f *OutputFormatter) error {
				sw, ok := s.backend.(sweeper)
				if !ok {
					return f.Fail(ErrCodeBackend, "sweep failed",
						fmt.Errorf("backend %s expires records natively", s.config.Backend))
				}
				n, err := sw.Sweep(ctx)
				if err != nil {
					return f.Fail(ErrCodeBackend, "sweep failed", err)
				}
				return f.Success(SweepResult{Removed: n})
			})
		},
	}

	return cmd
}
