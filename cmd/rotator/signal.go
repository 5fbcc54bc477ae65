package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"RotationSentinel/internal/model"
	"RotationSentinel/internal/reconciler"
)

func newSignalCmd(a *app) *cobra.Command {
	var (
		localOnly bool
		date      string
	)
	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Resolve today's rotation signal and print it as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if date != "" {
				if a.remote == nil {
					return fmt.Errorf("--date needs remote_signal.base_url")
				}
				sig, err := a.remote.SignalFor(cmd.Context(), date)
				if err != nil {
					return err
				}
				return writeJSON(out, sig)
			}

			res, err := a.chain(localOnly).Resolve(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "provider: %s\n", res.Provider)
			if res.Provider == "local" {
				tbl := newTable(cmd.ErrOrStderr(), "INSTRUMENT", "RESULT", "SCORE")
				for _, ev := range a.engine.LastEvaluations() {
					result, score := "accepted", "-"
					if !ev.Accepted() {
						result = "rejected by " + ev.RejectedBy
					}
					if ev.Score != nil {
						score = fmt.Sprintf("%.2f", ev.Score.Score)
					}
					tbl.Append([]string{ev.Instrument.Name, result, score})
				}
				tbl.Render()
			}
			return writeJSON(out, res.Signal)
		},
	}
	cmd.Flags().BoolVar(&localOnly, "local", false, "compute locally, skipping the remote and stored signal")
	cmd.Flags().StringVar(&date, "date", "", "fetch the remote signal published for YYYY-MM-DD")
	return cmd
}

func newAdviseCmd(a *app) *cobra.Command {
	var localOnly bool
	cmd := &cobra.Command{
		Use:   "advise",
		Short: "Show buy/sell advice for the current holdings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.chain(localOnly).Resolve(cmd.Context())
			if err != nil {
				return err
			}
			p := a.pm.Portfolio()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "signal %s (%s, %s)\n", res.Signal.Date, res.Signal.Status, res.Provider)

			tbl := newTable(out, "ACTION", "INSTRUMENT", "CURRENT", "TARGET", "TARGET VALUE", "REASON")
			for _, adv := range reconciler.Advise(p, res.Signal) {
				tbl.Append([]string{string(adv.Action), adv.InstrumentName,
					humanize.Comma(int64(adv.CurrentShares)), humanize.Comma(int64(adv.TargetShares)),
					humanize.CommafWithDigits(adv.TargetValue, 2), adv.Reason})
			}
			tbl.Render()

			if p.StrategyConfig.FreePlayPercent > 0 {
				classified := reconciler.Classify(p, res.Signal)
				sv, fv := reconciler.Breakdown(classified)
				fmt.Fprintf(out, "\nstrategy %s | free play %s (budget %s)\n",
					humanize.CommafWithDigits(sv, 2), humanize.CommafWithDigits(fv, 2),
					humanize.CommafWithDigits(p.FreePlayBudget(), 2))
				for _, c := range classified {
					if c.Action == model.ActionAdjust {
						fmt.Fprintf(out, "  reduce %s by %d shares\n", c.Holding.Name, c.SuggestedReduceShares)
					}
				}
			}
			if !a.pm.IsUpdatedToday() {
				fmt.Fprintln(cmd.ErrOrStderr(), "holdings were not updated today")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&localOnly, "local", false, "compute the signal locally")
	return cmd
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the remote signal service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.remote == nil {
				return fmt.Errorf("remote_signal.base_url is not configured")
			}
			if !a.remote.Health(cmd.Context()) {
				return fmt.Errorf("remote signal service at %s is unhealthy", a.remote.BaseURL)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
