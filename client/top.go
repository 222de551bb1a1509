package main

import (
	"fmt"
	"time"

	"github.com/gammadia/gpumux/api"
	"github.com/gammadia/gpumux/inventory"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Show a live view of the server",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		interval := lo.Must(cmd.Flags().GetDuration("interval"))

		// Fail early when the server cannot be reached
		first, err := client.Status(cmd.Context())
		if err != nil {
			return err
		}

		app := tview.NewApplication()

		// Header
		header := tview.NewTextView().
			SetDynamicColors(true).
			SetWordWrap(true).
			SetTextAlign(tview.AlignLeft)
		header.SetBorder(true).SetTitle(" gpumux ")

		// GPUs table
		gpusTable := tview.NewTable().
			SetFixed(1, 0).
			SetSelectable(true, false)
		gpusTable.SetBorder(true).SetTitle(" GPUs ")

		// Jobs table
		jobsTable := tview.NewTable().
			SetFixed(1, 0).
			SetSelectable(true, false)
		jobsTable.SetBorder(true).SetTitle(" Jobs ")

		// Pending queue
		pendingView := tview.NewTextView().SetWrap(false)
		pendingView.SetBorder(true).SetTitle(" Pending ")

		layout := tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(header, 4, 0, false).
			AddItem(gpusTable, 0, 1, false).
			AddItem(jobsTable, 0, 2, false).
			AddItem(pendingView, 0, 1, false)

		// Focus cycling: Tab switches between the scrollable panes
		focusables := []tview.Primitive{gpusTable, jobsTable, pendingView}
		focusIndex := 0
		app.SetFocus(gpusTable)

		app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
			if event.Rune() == 'q' {
				app.Stop()
				return nil
			}
			if event.Key() == tcell.KeyTab || event.Key() == tcell.KeyBacktab {
				if event.Key() == tcell.KeyBacktab {
					focusIndex = (focusIndex + len(focusables) - 1) % len(focusables)
				} else {
					focusIndex = (focusIndex + 1) % len(focusables)
				}
				app.SetFocus(focusables[focusIndex])
				return nil
			}
			return event
		})

		// Only accessed from tview's event loop (via QueueUpdateDraw)
		var lastStatus *api.Status
		var lastError error

		updateHeader := func() {
			header.Clear()
			uptime := api.FormatDuration(time.Since(lastStatus.StartedAt))
			thread := "[green]alive[white]"
			if !lastStatus.JobThread {
				thread = "[red]stopped[white]"
			}
			fmt.Fprintf(header, " [yellow]%s[white] %s  |  Uptime: [green]%s[white]  |  Job thread: %s\n",
				lastStatus.Server, lastStatus.Version, uptime, thread)
			if lastStatus.Host != nil {
				fmt.Fprintf(header, " Load: [yellow]%.2f[white]  |  Memory: [yellow]%.0f%%[white]  |  Disk: [yellow]%.0f%%[white]",
					lastStatus.Host.Load1, lastStatus.Host.MemUsedPercent, lastStatus.Host.DiskUsedPercent)
			}
			if lastError != nil {
				fmt.Fprintf(header, "  [red]%s[white]", tview.Escape(lastError.Error()))
			}
		}

		updateGPUs := func() {
			gpusTable.Clear()
			rows := resourceRows(lastStatus)
			busy := lo.CountBy(rows, func(row resourceRow) bool { return row.job != nil })
			gpusTable.SetTitle(fmt.Sprintf(" GPUs: %d/%d busy ", busy, len(rows)))

			for col, title := range []string{"GPU", "LABEL", "JOB", "ELAPSED", "COMMAND"} {
				gpusTable.SetCell(0, col, tview.NewTableCell(title).
					SetTextColor(tcell.ColorYellow).
					SetSelectable(false).
					SetExpansion(lo.Ternary(col == 4, 4, 1)))
			}

			for i, row := range rows {
				gpusTable.SetCell(i+1, 0, tview.NewTableCell(fmt.Sprint(row.resource.ID)).SetTextColor(tcell.ColorWhite))
				gpusTable.SetCell(i+1, 1, tview.NewTableCell(row.resource.Label).SetTextColor(tcell.ColorGray))
				if row.job == nil {
					gpusTable.SetCell(i+1, 2, tview.NewTableCell("idle").SetTextColor(tcell.ColorGreen))
					gpusTable.SetCell(i+1, 3, tview.NewTableCell(""))
					gpusTable.SetCell(i+1, 4, tview.NewTableCell(""))
					continue
				}
				gpusTable.SetCell(i+1, 2, tview.NewTableCell(fmt.Sprintf("#%d", row.job.ID)).SetTextColor(tcell.ColorAqua))
				gpusTable.SetCell(i+1, 3, tview.NewTableCell(row.job.Elapsed).SetTextColor(tcell.ColorWhite))
				gpusTable.SetCell(i+1, 4, tview.NewTableCell(row.job.Command).SetTextColor(tcell.ColorYellow).SetExpansion(4))
			}
		}

		updateJobs := func() {
			jobsTable.Clear()
			jobs := append(append([]api.Job{}, lastStatus.Running...), lastStatus.Completed...)
			jobsTable.SetTitle(fmt.Sprintf(" Jobs: %d running, %d completed ", len(lastStatus.Running), len(lastStatus.Completed)))

			for col, title := range []string{"ID", "GPU", "STATUS", "ELAPSED", "COMMAND"} {
				jobsTable.SetCell(0, col, tview.NewTableCell(title).
					SetTextColor(tcell.ColorYellow).
					SetSelectable(false).
					SetExpansion(lo.Ternary(col == 4, 4, 1)))
			}

			for i, job := range jobs {
				label, statusColor := jobState(job)
				jobsTable.SetCell(i+1, 0, tview.NewTableCell(fmt.Sprintf("#%d", job.ID)).SetTextColor(lo.Ternary(job.Status == nil, tcell.ColorAqua, tcell.ColorGray)))
				jobsTable.SetCell(i+1, 1, tview.NewTableCell(lo.Ternary(job.Resource != nil, fmt.Sprint(lo.FromPtr(job.Resource)), "-")))
				jobsTable.SetCell(i+1, 2, tview.NewTableCell(label).SetTextColor(statusColor))
				jobsTable.SetCell(i+1, 3, tview.NewTableCell(job.Elapsed))
				jobsTable.SetCell(i+1, 4, tview.NewTableCell(job.Command).SetExpansion(4))
			}
		}

		updatePending := func() {
			lines := pendingLines(lastStatus.Pending)
			pendingView.SetTitle(fmt.Sprintf(" Pending (%d) ", len(lines)))
			pendingView.SetText(lastStatus.Pending)
		}

		updateAll := func() {
			updateHeader()
			updateGPUs()
			updateJobs()
			updatePending()
		}

		lastStatus = first
		updateAll()

		done := make(chan struct{})

		// Poll the server, feeding results into tview's event loop
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-cmd.Context().Done():
					app.Stop()
					return
				case <-ticker.C:
				}

				status, err := client.Status(cmd.Context())
				app.QueueUpdateDraw(func() {
					lastError = err
					if status != nil {
						lastStatus = status
					}
					updateAll()
				})
			}
		}()

		err = app.SetRoot(layout, true).Run()
		close(done)
		return err
	},
}

func init() {
	topCmd.Flags().Duration("interval", 1*time.Second, "refresh interval")
}

type resourceRow struct {
	resource inventory.Resource
	job      *api.Job
}

// resourceRows pairs every resource of the server with the job running on it, if any.
func resourceRows(status *api.Status) []resourceRow {
	byResource := lo.SliceToMap(
		lo.Filter(status.Running, func(job api.Job, _ int) bool { return job.Resource != nil }),
		func(job api.Job) (int, api.Job) { return *job.Resource, job },
	)

	rows := make([]resourceRow, 0, len(status.Resources))
	for _, r := range status.Resources {
		row := resourceRow{resource: r}
		if job, ok := byResource[r.ID]; ok {
			row.job = &job
		}
		rows = append(rows, row)
	}
	return rows
}

func jobState(job api.Job) (string, tcell.Color) {
	switch {
	case job.Status == nil:
		return "running", tcell.ColorYellow
	case *job.Status == 0:
		return "ok", tcell.ColorGreen
	default:
		return fmt.Sprintf("exit %d", *job.Status), tcell.ColorRed
	}
}
