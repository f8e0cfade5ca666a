package ui

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/metrics"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/view"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/window"
)

// Actions are the callbacks bound to keyboard shortcuts. Nil entries are ignored.
type Actions struct {
	Quit             func()
	TogglePause      func()
	Reload           func()
	ToggleSeriesMode func()
	ToggleValueMode  func()
	CycleWindow      func()
	CycleRange       func()
	Export           func()
}

// ChartView draws the latest frame sized to its box on every redraw
type ChartView struct {
	*tview.Box
	scheme *ColorScheme

	mu    sync.RWMutex
	frame view.Frame
}

// NewChartView creates an empty chart
func NewChartView(scheme *ColorScheme) *ChartView {
	c := &ChartView{Box: tview.NewBox(), scheme: scheme}
	c.SetBackgroundColor(tcell.ColorBlack)
	c.SetBorder(true).
		SetTitleColor(scheme.Header).
		SetBorderColor(scheme.Border)
	return c
}

// SetFrame replaces the frame drawn by the chart
func (c *ChartView) SetFrame(frame view.Frame) {
	c.mu.Lock()
	c.frame = frame
	c.mu.Unlock()
}

// Frame returns the frame currently drawn
func (c *ChartView) Frame() view.Frame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frame
}

// Draw implements tview.Primitive
func (c *ChartView) Draw(screen tcell.Screen) {
	c.Box.DrawForSubclass(screen, c)
	x, y, w, h := c.GetInnerRect()
	if w <= 0 || h <= 1 {
		return
	}
	frame := c.Frame()

	tview.Print(screen, Legend(frame, c.scheme), x, y, w, tview.AlignLeft, c.scheme.Primary)
	lines := strings.Split(RenderChart(frame, w, h-1, c.scheme), "\n")
	for i, line := range lines {
		if i+1 >= h {
			break
		}
		tview.Print(screen, line, x, y+1+i, w, tview.AlignLeft, c.scheme.Primary)
	}
}

// Layout manages the overall TUI layout
type Layout struct {
	app     *tview.Application
	pages   *tview.Pages
	scheme  *ColorScheme
	actions Actions

	header         *tview.TextView
	chart          *ChartView
	equipmentTable *tview.Table
	alertsList     *tview.List
	maintenance    *tview.TextView
	statusBar      *tview.TextView

	// Current view state, touched only on the tview goroutine
	selected    string
	records     []metrics.MaintenanceRecord
	trends      map[string][]window.Value
	currentView string
}

// NewLayout creates a new layout manager
func NewLayout(app *tview.Application, scheme *ColorScheme, actions Actions) *Layout {
	return &Layout{
		app:         app,
		pages:       tview.NewPages(),
		scheme:      scheme,
		actions:     actions,
		trends:      make(map[string][]window.Value),
		currentView: "main",
	}
}

// Initialize sets up the complete layout
func (l *Layout) Initialize() {
	l.createHeader()
	l.chart = NewChartView(l.scheme)
	l.createEquipmentTable()
	l.createAlertsList()
	l.createMaintenanceView()
	l.createStatusBar()

	l.pages.AddPage("main", l.buildMainLayout(), true, true)
	l.pages.AddPage("help", l.createHelpPage(), true, false)

	l.setupNavigation()

	l.app.SetRoot(l.pages, true)
	l.app.SetFocus(l.equipmentTable)
}

func (l *Layout) createHeader() {
	l.header = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetScrollable(false)
	l.header.SetBackgroundColor(tcell.ColorBlack)
	l.header.SetBorder(true).
		SetTitle(" Production Line Monitor ").
		SetTitleColor(l.scheme.Header).
		SetBorderColor(l.scheme.Border)
	l.SetSummary(metrics.Summary{Status: "N/A"})
}

func (l *Layout) createEquipmentTable() {
	l.equipmentTable = tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false).
		SetFixed(1, 0)
	l.equipmentTable.SetBackgroundColor(tcell.ColorBlack)
	l.equipmentTable.SetBorder(true).
		SetTitle(" Equipment ").
		SetTitleColor(l.scheme.Header).
		SetBorderColor(l.scheme.Border)

	headers := []string{"Equipment", "Status", "Production", "Efficiency", "Downtime", "Trend"}
	for col, header := range headers {
		l.equipmentTable.SetCell(0, col, tview.NewTableCell(header).
			SetTextColor(l.scheme.Label).
			SetSelectable(false).
			SetAttributes(tcell.AttrBold))
	}

	l.equipmentTable.SetSelectionChangedFunc(func(row, _ int) {
		if cell := l.equipmentTable.GetCell(row, 0); cell != nil && row > 0 {
			l.selected = cell.Text
			l.renderMaintenance()
		}
	})
}

func (l *Layout) createAlertsList() {
	l.alertsList = tview.NewList().
		ShowSecondaryText(false)
	l.alertsList.SetBackgroundColor(tcell.ColorBlack)
	l.alertsList.SetMainTextColor(l.scheme.Primary)
	l.alertsList.SetBorder(true).
		SetTitle(" Alerts ").
		SetTitleColor(l.scheme.Header).
		SetBorderColor(l.scheme.Border)
}

func (l *Layout) createMaintenanceView() {
	l.maintenance = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	l.maintenance.SetBackgroundColor(tcell.ColorBlack)
	l.maintenance.SetBorder(true).
		SetTitle(" Maintenance ").
		SetTitleColor(l.scheme.Header).
		SetBorderColor(l.scheme.Border)
}

func (l *Layout) createStatusBar() {
	l.statusBar = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	l.statusBar.SetBackgroundColor(tcell.ColorBlack)
	l.SetStatus("Starting", false)
}

func (l *Layout) buildMainLayout() *tview.Flex {
	side := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(l.alertsList, 0, 1, false).
		AddItem(l.maintenance, 0, 1, false)

	middle := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(l.chart, 0, 3, false).
		AddItem(side, 0, 1, false)

	mainFlex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(l.header, 3, 0, false).
		AddItem(middle, 0, 3, false).
		AddItem(l.equipmentTable, 0, 1, true).
		AddItem(l.statusBar, 1, 0, false)
	mainFlex.SetBackgroundColor(tcell.ColorBlack)
	return mainFlex
}

func (l *Layout) createHelpPage() *tview.Flex {
	helpText := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	helpText.SetBackgroundColor(tcell.ColorBlack)
	helpText.SetTextColor(l.scheme.Primary)
	helpText.SetBorder(true).
		SetTitle(" Help ").
		SetTitleColor(l.scheme.Header).
		SetBorderColor(l.scheme.Border)

	help := fmt.Sprintf(`[%s::b]Production Monitor - Keyboard Shortcuts[-:-:-]

[%s::b]Chart:[-:-:-]
  m          Toggle total / per-equipment series
  d          Toggle cumulative / per-interval values
  w          Cycle window size
  t          Cycle time range
  e          Export chart as PNG

[%s::b]Actions:[-:-:-]
  r          Reload window
  p          Pause/Resume polling
  ↑/↓        Select equipment for maintenance details
  Esc        Back to maintenance overview

[%s::b]General:[-:-:-]
  F1/h/?     Show this help
  q          Quit

[%s::b]Press any key to return...[-:-:-]`,
		Tag(l.scheme.Header),
		Tag(l.scheme.Label),
		Tag(l.scheme.Label),
		Tag(l.scheme.Label),
		Tag(l.scheme.Secondary),
	)
	helpText.SetText(help)

	helpFlex := tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(helpText, 22, 1, true).
			AddItem(nil, 0, 1, false), 64, 1, true).
		AddItem(nil, 0, 1, false)
	helpFlex.SetBackgroundColor(tcell.ColorBlack)
	return helpFlex
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}

func (l *Layout) setupNavigation() {
	l.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if l.currentView == "help" {
			l.pages.SwitchToPage("main")
			l.currentView = "main"
			return nil
		}
		switch event.Key() {
		case tcell.KeyF1:
			l.pages.SwitchToPage("help")
			l.currentView = "help"
			return nil
		case tcell.KeyEscape:
			l.selected = ""
			l.renderMaintenance()
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q', 'Q':
				call(l.actions.Quit)
			case 'h', '?':
				l.pages.SwitchToPage("help")
				l.currentView = "help"
			case 'p', 'P':
				call(l.actions.TogglePause)
			case 'r', 'R':
				call(l.actions.Reload)
			case 'm', 'M':
				call(l.actions.ToggleSeriesMode)
			case 'd', 'D':
				call(l.actions.ToggleValueMode)
			case 'w', 'W':
				call(l.actions.CycleWindow)
			case 't', 'T':
				call(l.actions.CycleRange)
			case 'e', 'E':
				call(l.actions.Export)
			default:
				return event
			}
			return nil
		}
		return event
	})
}

// SetFrame updates the chart and its title. Must run on the tview goroutine.
func (l *Layout) SetFrame(frame view.Frame, rangeName string, maxPoints int, trends map[string][]window.Value) {
	l.chart.SetFrame(frame)
	title := fmt.Sprintf(" %s | %s | %s", frame.YAxisLabel, frame.SeriesMode, rangeName)
	if rangeName == "realtime" {
		title += fmt.Sprintf(" | window %d", maxPoints)
	}
	l.chart.SetTitle(title + " ")
	if trends != nil {
		l.trends = trends
	}
}

// SetSummary updates the KPI header
func (l *Layout) SetSummary(s metrics.Summary) {
	l.header.SetText(fmt.Sprintf(
		"[%s]Daily production[-] [%s::b]%s[-:-:-]   [%s]Efficiency[-] [%s::b]%.1f%%[-:-:-]   [%s]Status[-] [%s::b]%s[-:-:-]   [%s]Active[-] [%s::b]%d/%d[-:-:-]",
		Tag(l.scheme.Label), Tag(l.scheme.Value), FormatNumber(s.DailyProduction),
		Tag(l.scheme.Label), Tag(l.scheme.GetColorForEfficiency(s.Efficiency)), s.Efficiency,
		Tag(l.scheme.Label), Tag(l.scheme.GetColorForStatus(s.Status)), tview.Escape(s.Status),
		Tag(l.scheme.Label), Tag(l.scheme.Value), s.ActiveEquipment, s.TotalEquipment,
	))
}

// SetEquipment refreshes the equipment table
func (l *Layout) SetEquipment(equipment []metrics.Equipment) {
	sorted := make([]metrics.Equipment, len(equipment))
	copy(sorted, equipment)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EquipmentID < sorted[j].EquipmentID })
	downtime := metrics.Downtime(l.records)

	for row := l.equipmentTable.GetRowCount() - 1; row > 0; row-- {
		l.equipmentTable.RemoveRow(row)
	}
	for i, e := range sorted {
		row := i + 1
		l.equipmentTable.SetCell(row, 0, tview.NewTableCell(e.EquipmentID).SetTextColor(l.scheme.Primary))
		status := e.Status
		if status == "" {
			status = "-"
		}
		l.equipmentTable.SetCell(row, 1, tview.NewTableCell(status).SetTextColor(l.scheme.GetColorForStatus(e.Status)))
		l.equipmentTable.SetCell(row, 2, tview.NewTableCell(FormatNumber(e.Production)).SetTextColor(l.scheme.Value).SetAlign(tview.AlignRight))
		l.equipmentTable.SetCell(row, 3, tview.NewTableCell(fmt.Sprintf("%.1f%%", e.Efficiency)).
			SetTextColor(l.scheme.GetColorForEfficiency(e.Efficiency)).SetAlign(tview.AlignRight))
		l.equipmentTable.SetCell(row, 4, tview.NewTableCell(FormatDuration(downtime[e.EquipmentID])).SetTextColor(l.scheme.Secondary).SetAlign(tview.AlignRight))
		l.equipmentTable.SetCell(row, 5, tview.NewTableCell(Sparkline(l.trends[e.EquipmentID], 24)).SetTextColor(l.scheme.SeriesColor(i)))
	}
}

// SetAlerts refreshes the alerts list, newest first
func (l *Layout) SetAlerts(alerts []metrics.Alert) {
	l.alertsList.Clear()
	if len(alerts) == 0 {
		l.alertsList.AddItem(fmt.Sprintf("[%s]No alerts[-]", Tag(l.scheme.Muted)), "", 0, nil)
		return
	}
	sorted := make([]metrics.Alert, len(alerts))
	copy(sorted, alerts)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.After(sorted[j].Timestamp) })
	for _, a := range sorted {
		label := a.Type
		switch a.Type {
		case metrics.AlertErrorStart:
			label = "fault"
		case metrics.AlertErrorEnd:
			label = "recovered"
		}
		l.alertsList.AddItem(fmt.Sprintf("[%s]%s %s %s[-]",
			Tag(l.scheme.GetAlertColor(a.Type)),
			a.Timestamp.Local().Format("01-02 15:04:05"),
			tview.Escape(a.EquipmentID),
			label,
		), "", 0, nil)
	}
}

// SetMaintenance stores maintenance records and redraws the panel
func (l *Layout) SetMaintenance(records []metrics.MaintenanceRecord) {
	l.records = records
	l.renderMaintenance()
}

func (l *Layout) renderMaintenance() {
	var b strings.Builder
	if l.selected == "" {
		l.maintenance.SetTitle(" Maintenance ")
		counts := make(map[string]int)
		ongoing := make(map[string]bool)
		for _, r := range l.records {
			counts[r.EquipmentID]++
			if r.Ongoing {
				ongoing[r.EquipmentID] = true
			}
		}
		ids := make([]string, 0, len(counts))
		for id := range counts {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		if len(ids) == 0 {
			fmt.Fprintf(&b, "[%s]No maintenance records[-]", Tag(l.scheme.Muted))
		}
		for _, id := range ids {
			color := l.scheme.Run
			if ongoing[id] {
				color = l.scheme.Error
			}
			fmt.Fprintf(&b, "[%s]%-8s[-] %d record(s)\n", Tag(color), tview.Escape(id), counts[id])
		}
		l.maintenance.SetText(b.String())
		return
	}

	l.maintenance.SetTitle(fmt.Sprintf(" Maintenance: %s ", l.selected))
	var rows []metrics.MaintenanceRecord
	for _, r := range l.records {
		if r.EquipmentID == l.selected {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Start.After(rows[j].Start) })
	if len(rows) == 0 {
		fmt.Fprintf(&b, "[%s]No maintenance records[-]", Tag(l.scheme.Muted))
		l.maintenance.SetText(b.String())
		return
	}
	var total time.Duration
	for _, r := range rows {
		total += r.Duration
		end := "ongoing"
		if !r.Ongoing && !r.End.IsZero() {
			end = r.End.Local().Format("15:04:05")
		}
		fmt.Fprintf(&b, "%s → %-8s %s\n", r.Start.Local().Format("01-02 15:04:05"), end, FormatDuration(r.Duration))
	}
	fmt.Fprintf(&b, "[%s::b]Total downtime %s[-:-:-]", Tag(l.scheme.Highlight), FormatDuration(total))
	l.maintenance.SetText(b.String())
}

// SetStatus updates the bottom status bar
func (l *Layout) SetStatus(status string, failed bool) {
	color := l.scheme.Secondary
	if failed {
		color = l.scheme.Error
	}
	l.statusBar.SetText(fmt.Sprintf(
		"[%s]%s %s[-] | [%s]F1 help | q quit[-:-:-]",
		Tag(color),
		tview.Escape(status),
		tview.Escape("["+time.Now().Format("15:04:05")+"]"),
		Tag(l.scheme.Muted),
	))
}

// Run starts the TUI application
func (l *Layout) Run() error {
	return l.app.Run()
}
