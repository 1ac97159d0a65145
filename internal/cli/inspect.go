package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/Rebalancy/agent-contracts/internal/domain"
	"github.com/Rebalancy/agent-contracts/internal/txbuilder"
)

// SessionView is the active session with its derived state.
type SessionView struct {
	domain.ActiveSession
	Age      string   `json:"age"`
	Expired  bool     `json:"expired"`
	NextStep string   `json:"next_step,omitempty"`
	Signed   []string `json:"signed"`
}

// NewSessionCommand creates the session command.
func NewSessionCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Show the active session",
		Long: `Show the active session, the steps already signed and the next step
the flow expects. A session at or past the operations timeout (--timeout)
is reported as expired; the next start evicts it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := context.Background()
			f := newFormatter(opts, cmd)
			session, found, err := st.ActiveSession(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read session", err)
			}
			if !found {
				_ = f.Error("NO_ACTIVE_SESSION", "no session is active", nil)
				return NewExitError(ExitFailure, "no active session")
			}
			steps, err := st.SignedSteps(ctx, session.Nonce)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read signed steps", err)
			}

			view := sessionView(session, steps, time.Now(), opts.Timeout)
			return f.Success(view, func(w io.Writer) error {
				fmt.Fprintf(w, "nonce:    %d\n", view.Nonce)
				fmt.Fprintf(w, "flow:     %s\n", view.Flow)
				fmt.Fprintf(w, "route:    %d -> %d\n", view.SourceChain, view.DestinationChain)
				fmt.Fprintf(w, "started:  %s (%s ago)\n", view.StartedAt.Format(time.RFC3339), view.Age)
				fmt.Fprintf(w, "signed:   %v\n", view.Signed)
				switch {
				case view.Finished:
					fmt.Fprintln(w, "status:   finished")
				case view.Expired:
					fmt.Fprintln(w, "status:   expired")
				default:
					fmt.Fprintf(w, "next:     %s\n", view.NextStep)
				}
				return nil
			})
		},
	}
}

func sessionView(s domain.ActiveSession, signed []domain.Step, now time.Time, timeout time.Duration) SessionView {
	have := make(map[domain.Step]bool, len(signed))
	names := make([]string, 0, len(signed))
	for _, step := range signed {
		have[step] = true
		names = append(names, step.String())
	}

	view := SessionView{
		ActiveSession: s,
		Age:           s.Age(now).Truncate(time.Second).String(),
		Expired:       s.Age(now) >= timeout,
		Signed:        names,
	}
	for _, step := range s.Flow.Sequence() {
		if !have[step] {
			view.NextStep = step.String()
			break
		}
	}
	return view
}

// NewLogsCommand creates the logs command.
func NewLogsCommand(opts *RootOptions) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List the latest activity logs",
		Long: `List activity logs, newest first. Logs of timed-out sessions are
dropped when the session is evicted; completed, aborted and finished
sessions keep theirs.

Examples:
  rebalancer logs --count 5
  rebalancer logs --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 0 {
				return NewExitError(ExitCommandError, "--count must not be negative")
			}
			st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer st.Close()

			logs, err := st.LatestLogs(context.Background(), count)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read logs", err)
			}

			return newFormatter(opts, cmd).Success(logs, func(w io.Writer) error {
				if len(logs) == 0 {
					_, err := fmt.Fprintln(w, "No activity logs.")
					return err
				}
				rows := make([][]string, 0, len(logs))
				for _, l := range logs {
					actual := "-"
					if l.ActualAmount != nil {
						actual = l.ActualAmount.String()
					}
					rows = append(rows, []string{
						strconv.FormatUint(l.Nonce, 10),
						l.Flow.String(),
						fmt.Sprintf("%d -> %d", l.SourceChain, l.DestinationChain),
						l.ExpectedAmount.String(),
						actual,
						strconv.Itoa(len(l.Transactions)),
					})
				}
				return table(w, []string{"NONCE", "FLOW", "ROUTE", "EXPECTED", "ACTUAL", "TXS"}, rows)
			})
		},
	}

	cmd.Flags().IntVar(&count, "count", 10, "number of logs to show")
	return cmd
}

// TxView is one signed payload from an activity log.
type TxView struct {
	Step    string        `json:"step"`
	Sender  string        `json:"sender,omitempty"`
	Payload hexutil.Bytes `json:"payload"`
}

// NewTxsCommand creates the txs command.
func NewTxsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "txs <nonce>",
		Short: "List the signed payloads of a session",
		Long: `List the signed payloads logged for a session nonce, in log order.
Each payload is its one-byte step tag followed by the signed transaction;
the sender is recovered from the transaction signature.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nonce, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid nonce", err)
			}
			st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer st.Close()

			payloads, err := st.Transactions(context.Background(), nonce)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read transactions", err)
			}

			views := make([]TxView, 0, len(payloads))
			for _, p := range payloads {
				views = append(views, txView(p))
			}
			return newFormatter(opts, cmd).Success(views, func(w io.Writer) error {
				if len(views) == 0 {
					_, err := fmt.Fprintf(w, "No transactions for nonce %d.\n", nonce)
					return err
				}
				rows := make([][]string, 0, len(views))
				for _, v := range views {
					rows = append(rows, []string{v.Step, v.Sender, v.Payload.String()})
				}
				return table(w, []string{"STEP", "SENDER", "PAYLOAD"}, rows)
			})
		},
	}
}

func txView(p domain.SignedPayload) TxView {
	v := TxView{Payload: hexutil.Bytes(p)}
	if step, err := p.Step(); err == nil {
		v.Step = step.String()
	} else {
		v.Step = "unknown"
	}
	if sender, err := txbuilder.Sender(p.Transaction()); err == nil {
		v.Sender = sender.Hex()
	}
	return v
}

// SignatureView is a cached signature and the hash it signs.
type SignatureView struct {
	Nonce       uint64 `json:"nonce"`
	PayloadHash string `json:"payload_hash"`
	TxView
}

// NewSignatureCommand creates the signature command.
func NewSignatureCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "signature <nonce> <step>",
		Short: "Show a cached signature",
		Long: `Read a signed payload from the signature cache without re-signing.

Examples:
  rebalancer signature 3 bridge_burn`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nonce, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid nonce", err)
			}
			step, err := domain.ParseStep(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid step", err)
			}
			st, err := openStore(opts)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := context.Background()
			f := newFormatter(opts, cmd)
			key := domain.CacheKey{Nonce: nonce, Step: step}
			payload, found, err := st.SignedPayload(ctx, key)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read signature", err)
			}
			if !found {
				_ = f.Error("NOT_CACHED", fmt.Sprintf("no signature cached for %s", key), nil)
				return NewExitError(ExitFailure, "signature not cached")
			}
			hash, _, err := st.PayloadHash(ctx, key)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read payload hash", err)
			}

			view := SignatureView{Nonce: nonce, PayloadHash: hash.Hex(), TxView: txView(payload)}
			return f.Success(view, func(w io.Writer) error {
				fmt.Fprintf(w, "step:         %s\n", view.Step)
				fmt.Fprintf(w, "payload hash: %s\n", view.PayloadHash)
				fmt.Fprintf(w, "sender:       %s\n", view.Sender)
				_, err := fmt.Fprintf(w, "payload:      %s\n", view.Payload)
				return err
			})
		},
	}
}
