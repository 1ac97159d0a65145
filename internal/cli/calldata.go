package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Rebalancy/agent-contracts/internal/chainconfig"
	"github.com/Rebalancy/agent-contracts/internal/domain"
	"github.com/Rebalancy/agent-contracts/internal/txbuilder"
)

// CalldataResult is an encoded contract call.
type CalldataResult struct {
	Kind    string         `json:"kind"`
	ChainID domain.ChainID `json:"chain_id"`
	txbuilder.Call
}

type chainSource interface {
	ChainConfig(ctx context.Context, id domain.ChainID) (domain.ChainConfig, error)
}

// NewCalldataCommand creates the calldata command.
func NewCalldataCommand(opts *RootOptions) *cobra.Command {
	var (
		chain     uint64
		argsJSON  string
		chainFile string
	)

	cmd := &cobra.Command{
		Use:   "calldata <kind>",
		Short: "Encode a contract call without signing it",
		Long: `Encode the contract call for an argument kind against a chain's address
book and print the target and calldata. Nothing is signed or stored.

The address book comes from --chains when given, else from the database.

Kinds:
  ` + strings.Join(txbuilder.Kinds(), "\n  ") + `

Examples:
  rebalancer calldata lending_supply --chain 8453 --args '{"amount":1000000}'
  rebalancer calldata bridge_mint --chain 1 --chains ./chains.yaml \
    --args '{"message":"0x01","attestation":"0x02"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			callArgs, err := txbuilder.ParseArgs(args[0], []byte(argsJSON))
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid arguments", err)
			}

			var src chainSource
			if chainFile != "" {
				configs, err := chainconfig.LoadFile(chainFile)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid chain config", err)
				}
				reg, err := chainconfig.NewRegistry(configs...)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid chain config", err)
				}
				src = reg
			} else {
				st, err := openStore(opts)
				if err != nil {
					return err
				}
				defer st.Close()
				src = st
			}

			f := newFormatter(opts, cmd)
			id := domain.ChainID(chain)
			cfg, err := src.ChainConfig(context.Background(), id)
			if errors.Is(err, chainconfig.ErrNotConfigured) {
				_ = f.Error("CHAIN_NOT_CONFIGURED", fmt.Sprintf("chain %d is not configured", id), nil)
				return NewExitError(ExitFailure, "chain not configured")
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read chain config", err)
			}

			call, err := txbuilder.Build(callArgs, cfg)
			if err != nil {
				_ = f.Error("INVALID_ARGUMENT", err.Error(), nil)
				return WrapExitError(ExitFailure, "failed to encode call", err)
			}

			res := CalldataResult{Kind: callArgs.Kind(), ChainID: id, Call: call}
			return f.Success(res, func(w io.Writer) error {
				fmt.Fprintf(w, "to:   %s\n", res.To.Hex())
				_, err := fmt.Fprintf(w, "data: %s\n", res.Data)
				return err
			})
		},
	}

	cmd.Flags().Uint64Var(&chain, "chain", 0, "chain ID to encode against")
	cmd.Flags().StringVar(&argsJSON, "args", "{}", "call arguments as JSON")
	cmd.Flags().StringVar(&chainFile, "chains", "", "chain config file to use instead of the database")
	_ = cmd.MarkFlagRequired("chain")
	return cmd
}
