package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Rebalancy/agent-contracts/internal/chainconfig"
	"github.com/Rebalancy/agent-contracts/internal/domain"
	"github.com/Rebalancy/agent-contracts/internal/store"
)

// ChainAddResult reports one chain of an add.
type ChainAddResult struct {
	ChainID domain.ChainID `json:"chain_id"`
	Added   bool           `json:"added"`
	Reason  string         `json:"reason,omitempty"`
}

// NewChainsCommand creates the chains command group.
func NewChainsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chains",
		Short: "Manage supported chains",
	}
	cmd.AddCommand(newChainsAddCommand(opts))
	cmd.AddCommand(newChainsListCommand(opts))
	return cmd
}

func newChainsAddCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <file>",
		Short: "Validate and store chain configurations",
		Long: `Validate a chain configuration file (CUE, YAML or JSON) against the
schema and store every chain it lists. Chains that are already configured
are skipped and reported; configurations are never overwritten.

Exit codes:
  0 - Every chain was added
  1 - At least one chain was already configured
  2 - Invalid file or database error

Examples:
  rebalancer chains add ./chains.yaml
  rebalancer chains add ./chains.cue --db ./rebalancer.db --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChainsAdd(opts, args[0], cmd)
		},
	}
}

func runChainsAdd(opts *RootOptions, path string, cmd *cobra.Command) error {
	configs, err := chainconfig.LoadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid chain config", err)
	}

	st, err := openStore(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	results := make([]ChainAddResult, 0, len(configs))
	skipped := 0
	for _, c := range configs {
		err := st.AddChainConfig(ctx, c)
		switch {
		case errors.Is(err, store.ErrDuplicateChain):
			skipped++
			results = append(results, ChainAddResult{ChainID: c.ChainID, Reason: "already configured"})
		case err != nil:
			return WrapExitError(ExitCommandError, "failed to store chain config", err)
		default:
			opts.Logger.Info("chain configured", "chain_id", c.ChainID)
			results = append(results, ChainAddResult{ChainID: c.ChainID, Added: true})
		}
	}

	err = newFormatter(opts, cmd).Success(results, func(w io.Writer) error {
		for _, r := range results {
			if r.Added {
				fmt.Fprintf(w, "added chain %d\n", r.ChainID)
			} else {
				fmt.Fprintf(w, "skipped chain %d: %s\n", r.ChainID, r.Reason)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if skipped > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d chain(s) already configured", skipped))
	}
	return nil
}

func newChainsListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List supported chains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer st.Close()

			configs, err := st.ChainConfigs(context.Background())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list chains", err)
			}

			return newFormatter(opts, cmd).Success(configs, func(w io.Writer) error {
				if len(configs) == 0 {
					_, err := fmt.Fprintln(w, "No chains configured.")
					return err
				}
				rows := make([][]string, 0, len(configs))
				for _, c := range configs {
					rows = append(rows, []string{
						fmt.Sprint(c.ChainID),
						fmt.Sprint(c.Bridge.Domain),
						c.Lending.PoolAddress,
						c.Vault.VaultAddress,
					})
				}
				return table(w, []string{"CHAIN", "DOMAIN", "LENDING POOL", "VAULT"}, rows)
			})
		},
	}
}
