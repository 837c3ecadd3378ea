package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"threader/internal/app"
	"threader/internal/storage"
	logx "threader/pkg/logx"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)

func historyCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show completed runs from the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			store, err := app.OpenStore(cfg, logx.Nop())
			if errors.Is(err, storage.ErrDisabled) {
				return errors.New("storage is disabled in config; nothing recorded")
			}
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			runs, err := store.RecentRuns(ctx, limit)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				for _, r := range runs {
					if err := enc.Encode(r); err != nil {
						return err
					}
				}
				return nil
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}
			fmt.Println(renderRuns(runs))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per line")
	return cmd
}

func renderRuns(runs []storage.RunRecord) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("FINISHED", "TASK", "KIND", "ELAPSED", "SLICES", "STEPS").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for _, r := range runs {
		t.Row(
			r.Finished.Local().Format(time.DateTime),
			r.Task,
			r.Kind,
			r.Elapsed.Round(time.Millisecond).String(),
			strconv.Itoa(r.Slices),
			strconv.Itoa(r.Iterations),
		)
	}
	return t.String()
}
