package cmd

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"

	"lilac/builddb"
	"lilac/config"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch the current batch in real time",
	Long:  `Polls the build database and displays the per-package status of the running batch.`,
	RunE:  runMonitor,
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	if !cfg.DatabaseEnabled() {
		return fmt.Errorf("monitor requires lilac.dburl to be configured")
	}

	db, err := builddb.OpenDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	app := tview.NewApplication()
	table := tview.NewTable().SetFixed(1, 0)
	table.SetBorder(true).SetTitle(" lilac batch ")

	refresh := func() {
		rows, err := db.CurrentRows()
		table.Clear()
		for col, h := range []string{"IDX", "PKGBASE", "STATUS", "REASONS"} {
			table.SetCell(0, col, tview.NewTableCell(h).
				SetTextColor(tcell.ColorYellow).
				SetSelectable(false))
		}
		if err != nil {
			table.SetCell(1, 0, tview.NewTableCell(err.Error()))
			return
		}
		for i, row := range rows {
			color := tcell.ColorWhite
			switch row.Status {
			case builddb.StatusBuilding:
				color = tcell.ColorGreen
			case builddb.StatusDone:
				color = tcell.ColorGray
			}
			reasons := ""
			if len(row.BuildReasons) > 0 {
				reasons = row.BuildReasons[0]
			}
			table.SetCell(i+1, 0, tview.NewTableCell(fmt.Sprintf("%d", row.Index)).SetTextColor(color))
			table.SetCell(i+1, 1, tview.NewTableCell(row.Pkgbase).SetTextColor(color))
			table.SetCell(i+1, 2, tview.NewTableCell(row.Status).SetTextColor(color))
			table.SetCell(i+1, 3, tview.NewTableCell(reasons).SetTextColor(color))
		}
		if ev, err := db.LastBatchEvent(); err == nil {
			table.SetTitle(fmt.Sprintf(" lilac batch (%s %s) ", ev.Event, ev.TS.Format("15:04:05")))
		}
	}

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			app.QueueUpdateDraw(refresh)
		}
	}()

	refresh()
	return app.SetRoot(table, true).Run()
}
