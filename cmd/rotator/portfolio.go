package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"RotationSentinel/internal/model"
)

func newHoldingCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "holding",
		Short: "Manage brokerage holdings",
	}

	add := &cobra.Command{
		Use:   "add <name> <shares> <cost-price>",
		Short: "Add a holding, merging into an existing one of the same name",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			shares, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("bad shares: %w", err)
			}
			cost, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("bad cost price: %w", err)
			}
			h, err := a.pm.AddHolding(args[0], shares, cost)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %d @ %.3f\n", h.ID, h.Name, h.Shares, h.CostPrice)
			return nil
		},
	}

	update := &cobra.Command{
		Use:   "update <id> <shares> <cost-price>",
		Short: "Overwrite shares and cost of a holding",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			shares, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("bad shares: %w", err)
			}
			cost, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("bad cost price: %w", err)
			}
			return a.pm.UpdateHolding(args[0], shares, cost)
		},
	}

	remove := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a holding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.pm.RemoveHolding(args[0])
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List holdings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := a.pm.Portfolio()
			tbl := newTable(cmd.OutOrStdout(), "ID", "NAME", "SHARES", "COST", "VALUE")
			for _, h := range p.Holdings {
				tbl.Append([]string{h.ID, h.Name, humanize.Comma(int64(h.Shares)),
					strconv.FormatFloat(h.CostPrice, 'f', 3, 64), humanize.CommafWithDigits(h.DisplayMarketValue(), 2)})
			}
			tbl.Render()
			return nil
		},
	}

	touch := &cobra.Command{
		Use:   "confirm",
		Short: "Mark holdings as reviewed today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.pm.MarkUpdated()
		},
	}

	cmd.AddCommand(add, update, remove, list, touch)
	return cmd
}

func newCapitalCmd(a *app) *cobra.Command {
	var total, cash float64
	cmd := &cobra.Command{
		Use:   "capital",
		Short: "Show or set total capital and cash balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("total") {
				if err := a.pm.SetTotalCapital(total); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("cash") {
				if err := a.pm.SetCashBalance(cash); err != nil {
					return err
				}
			}
			p := a.pm.Portfolio()
			fmt.Fprintf(cmd.OutOrStdout(), "total %s | cash %s | strategy budget %s | free play budget %s\n",
				humanize.CommafWithDigits(p.TotalCapital, 2), humanize.CommafWithDigits(p.CashBalance, 2),
				humanize.CommafWithDigits(p.StrategyBudget(), 2), humanize.CommafWithDigits(p.FreePlayBudget(), 2))
			return nil
		},
	}
	cmd.Flags().Float64Var(&total, "total", 0, "total account capital")
	cmd.Flags().Float64Var(&cash, "cash", 0, "available cash")
	return cmd
}

// importFile is the JSON layout accepted by the import command.
type importFile struct {
	Holdings []model.ImportRow   `json:"holdings"`
	Summary  model.ImportSummary `json:"summary"`
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json>",
		Short: "Replace all holdings with the rows in a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var f importFile
			if err := json.Unmarshal(data, &f); err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}
			if err := a.pm.Import(f.Holdings, f.Summary); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d holdings\n", len(f.Holdings))
			return nil
		},
	}
}
