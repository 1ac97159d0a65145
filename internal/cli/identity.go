package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Rebalancy/agent-contracts/internal/gate"
	"github.com/Rebalancy/agent-contracts/internal/store"
)

// IdentityResult reports an approve or revoke.
type IdentityResult struct {
	CodeIdentity string `json:"code_identity"`
	Approved     bool   `json:"approved"`
	Changed      bool   `json:"changed"`
}

// adminGate returns a gate that can approve and revoke but not register:
// quote verification happens in the attested deployment, never here.
func adminGate(st *store.Store, opts *RootOptions) *gate.Gate {
	return gate.New(st, nil, gate.WithLogger(opts.Logger))
}

// NewApproveCommand creates the approve command.
func NewApproveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <code-identity>",
		Short: "Approve a worker code identity",
		Long: `Add a code identity (the hex digest of a worker's app compose document)
to the approved set. Workers registered with it may drive the engine.

Examples:
  rebalancer approve 4f1c...e9`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := context.Background()
			already, err := st.IsApproved(ctx, args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read approvals", err)
			}
			if err := adminGate(st, opts).Approve(ctx, args[0]); err != nil {
				return WrapExitError(ExitCommandError, "failed to approve", err)
			}

			res := IdentityResult{CodeIdentity: args[0], Approved: true, Changed: !already}
			return newFormatter(opts, cmd).Success(res, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "approved %s\n", args[0])
				return err
			})
		},
	}
}

// NewRevokeCommand creates the revoke command.
func NewRevokeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <code-identity>",
		Short: "Revoke a worker code identity",
		Long: `Remove a code identity from the approved set. Workers bound to it are
refused on their next call; their registrations are kept.

Exit codes:
  0 - The identity was revoked
  1 - The identity was not approved`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer st.Close()

			removed, err := adminGate(st, opts).Revoke(context.Background(), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to revoke", err)
			}
			if !removed {
				f := newFormatter(opts, cmd)
				_ = f.Error("NOT_APPROVED", fmt.Sprintf("%s is not approved", args[0]), nil)
				return NewExitError(ExitFailure, "identity not approved")
			}

			res := IdentityResult{CodeIdentity: args[0], Changed: true}
			return newFormatter(opts, cmd).Success(res, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "revoked %s\n", args[0])
				return err
			})
		},
	}
}

// WorkerView is a worker record as printed by the worker command.
type WorkerView struct {
	Identity     string    `json:"identity"`
	Checksum     string    `json:"checksum"`
	CodeIdentity string    `json:"code_identity"`
	Approved     bool      `json:"approved"`
	RegisteredAt time.Time `json:"registered_at"`
}

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker <identity>",
		Short: "Show a registered worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := context.Background()
			f := newFormatter(opts, cmd)
			w, found, err := st.Worker(ctx, args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read worker", err)
			}
			if !found {
				_ = f.Error("WORKER_NOT_REGISTERED", fmt.Sprintf("no worker %s", args[0]), nil)
				return NewExitError(ExitFailure, "worker not found")
			}
			approved, err := st.IsApproved(ctx, w.CodeIdentity)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read approvals", err)
			}

			view := WorkerView{
				Identity:     w.Identity,
				Checksum:     w.Checksum,
				CodeIdentity: w.CodeIdentity,
				Approved:     approved,
				RegisteredAt: w.RegisteredAt,
			}
			return f.Success(view, func(out io.Writer) error {
				fmt.Fprintf(out, "identity:      %s\n", view.Identity)
				fmt.Fprintf(out, "checksum:      %s\n", view.Checksum)
				fmt.Fprintf(out, "code identity: %s\n", view.CodeIdentity)
				fmt.Fprintf(out, "approved:      %t\n", view.Approved)
				_, err := fmt.Fprintf(out, "registered:    %s\n", view.RegisteredAt.Format(time.RFC3339))
				return err
			})
		},
	}
}
