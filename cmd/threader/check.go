package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"threader/internal/app"
)

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config and list the tasks it declares",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			fmt.Printf("config ok: priority %.2f, frame rate %.0f fps, %d task(s)\n",
				cfg.Scheduler.EffectivePriority(), cfg.Scheduler.EffectiveFrameRate(), len(cfg.Tasks))
			if len(cfg.Tasks) == 0 {
				return nil
			}

			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("NAME", "KIND", "SIZE", "SCHEDULE", "SLEEP", "PAUSED").
				StyleFunc(func(row, _ int) lipgloss.Style {
					if row == table.HeaderRow {
						return headerStyle
					}
					return lipgloss.NewStyle().Padding(0, 1)
				})
			for _, tc := range cfg.Tasks {
				schedule := tc.Schedule
				if schedule == "" {
					schedule = "once"
				}
				size := "default"
				if tc.Size > 0 {
					size = fmt.Sprint(tc.Size)
				}
				t.Row(tc.Name, tc.Kind, size, schedule, nonEmptyOr(tc.Sleep, "-"), fmt.Sprint(tc.Paused))
			}
			fmt.Println(t.String())
			return nil
		},
	}
}

func nonEmptyOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
