// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package liveui

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/teracyte/liveview/lib/imaging"
	"github.com/teracyte/liveview/lib/poll"
)

// liveChromeLines is every live-screen line outside the history
// viewport: header, banner, six detail lines, two histogram lines, the
// history title, separator, and help bar.
const liveChromeLines = 13

const timeLayout = "15:04:05"

var sparkLevels = []rune("▁▂▃▄▅▆▇█")

func (model *Model) applyInputStyles() {
	focused := lipgloss.NewStyle().Foreground(model.theme.FocusedInput)
	model.username.PromptStyle = focused
	model.password.PromptStyle = focused
}

func (model *Model) updateLayout() {
	model.history.Width = model.width
	model.history.Height = max(1, model.height-liveChromeLines)
	inputWidth := max(10, min(48, model.width-24))
	model.username.Width = inputWidth
	model.password.Width = inputWidth
	model.syncHistory()
}

// syncHistory re-renders the history list into the viewport, keeping
// the scroll position where possible and the selection in view.
func (model *Model) syncHistory() {
	model.followSelection()
	offset := model.history.YOffset
	selectedStyle := lipgloss.NewStyle().Bold(true).Foreground(model.theme.HeaderForeground)
	lines := make([]string, 0, len(model.state.History))
	for index, entry := range model.state.History {
		line := "  " + historyLine(entry)
		if index == model.cursor {
			line = selectedStyle.Render("▸ " + historyLine(entry))
		}
		lines = append(lines, model.truncate(line))
	}
	model.history.SetContent(strings.Join(lines, "\n"))
	model.history.SetYOffset(offset)

	if model.history.Height <= 0 {
		return
	}
	switch {
	case model.cursor < model.history.YOffset:
		model.history.SetYOffset(model.cursor)
	case model.cursor >= model.history.YOffset+model.history.Height:
		model.history.SetYOffset(model.cursor - model.history.Height + 1)
	}
}

// followSelection re-finds the selected image after the history
// changed. An empty history ends any inspection.
func (model *Model) followSelection() {
	entries := model.state.History
	if len(entries) == 0 {
		model.cursor = 0
		model.selectedID = ""
		model.inspecting = false
		return
	}
	if model.cursor > 0 || model.inspecting {
		index := slices.IndexFunc(entries, func(entry poll.HistoryEntry) bool {
			return entry.ImageID == model.selectedID
		})
		if index >= 0 {
			model.cursor = index
		}
	}
	model.cursor = min(model.cursor, len(entries)-1)
	model.selectedID = entries[model.cursor].ImageID
}

func historyLine(entry poll.HistoryEntry) string {
	return fmt.Sprintf("%s  %-14s  %-18s  I=%-8.2f F=%.3f",
		entry.Timestamp.Local().Format(timeLayout),
		entry.ImageID, entry.Label, entry.IntensityAverage, entry.FocusScore)
}

func (model Model) truncate(line string) string {
	if model.width <= 0 {
		return line
	}
	return ansi.Truncate(line, model.width, "…")
}

// View implements tea.Model.
func (model Model) View() string {
	if !model.ready {
		return "Loading..."
	}
	if model.screen == ScreenLogin {
		return model.renderLogin()
	}
	return model.renderLive()
}

func (model Model) renderLogin() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(model.theme.HeaderForeground)
	faintStyle := lipgloss.NewStyle().Foreground(model.theme.FaintText)
	errorStyle := lipgloss.NewStyle().Bold(true).Foreground(model.theme.StatusError)

	lines := []string{
		titleStyle.Render("Live Viewer"),
		faintStyle.Render("Sign in to the imaging service"),
		"",
		model.username.View(),
		model.password.View(),
		"",
	}
	switch {
	case model.loggingIn:
		lines = append(lines, faintStyle.Render("Signing in..."))
	case model.loginError != "":
		lines = append(lines, errorStyle.Render(model.loginError))
	default:
		lines = append(lines, "")
	}
	lines = append(lines, "", faintStyle.Render("Tab switch field · Enter sign in · Esc quit"))

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(model.theme.BorderColor).
		Padding(1, 3).
		Render(strings.Join(lines, "\n"))
	return lipgloss.Place(model.width, model.height, lipgloss.Center, lipgloss.Center, box)
}

func (model Model) renderLive() string {
	sections := []string{
		model.renderHeader(),
		model.renderBanner(),
	}
	if entry, ok := model.selectedEntry(); ok && model.inspecting {
		sections = append(sections, model.renderInspect(entry)...)
	} else {
		sections = append(sections, model.renderDetails()...)
		sections = append(sections, model.renderHistogram()...)
	}

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(model.theme.HeaderForeground)
	sections = append(sections,
		titleStyle.Render(fmt.Sprintf("History (%d)", len(model.state.History))),
		lipgloss.NewStyle().Height(model.history.Height).Render(model.history.View()),
		lipgloss.NewStyle().Foreground(model.theme.BorderColor).Render(strings.Repeat("─", model.width)),
		model.renderHelp(),
	)
	return strings.Join(sections, "\n")
}

// renderHeader renders the title, the status text in its state color,
// and the session marker.
func (model Model) renderHeader() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(model.theme.HeaderForeground)
	status := model.state.Status
	switch {
	case model.starting && !model.hasState:
		status = poll.StatusStarting
	case status == "":
		status = poll.StatusIdle
	}
	statusStyle := lipgloss.NewStyle().Bold(true).Foreground(model.theme.StatusColor(model.state))
	header := titleStyle.Render("Live Viewer") + "  " + statusStyle.Render("● "+status)
	if model.hasState && !model.state.SessionValid {
		header += "  " + lipgloss.NewStyle().Foreground(model.theme.StatusError).Render("[signed out]")
	}
	return model.truncate(header)
}

func (model Model) renderBanner() string {
	if model.state.Overlay == "" {
		return ""
	}
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(model.theme.OverlayForeground).
		Background(model.theme.OverlayBackground).
		Padding(0, 1)
	return model.truncate(style.Render(model.state.Overlay))
}

func (model Model) renderDetails() []string {
	labelStyle := lipgloss.NewStyle().Foreground(model.theme.FaintText)
	valueStyle := lipgloss.NewStyle().Foreground(model.theme.NormalText)
	if model.state.Stale {
		valueStyle = valueStyle.Foreground(model.theme.FaintText)
	}
	row := func(label, value string) string {
		return model.truncate(labelStyle.Render(fmt.Sprintf("%-10s", label)) + valueStyle.Render(value))
	}

	latest := model.state.ImageID
	if latest == "" {
		latest = "-"
	}
	if model.state.Frame == nil || model.state.Result == nil {
		return []string{
			row("Latest", latest),
			row("Frame", "waiting for the first valid image"),
			"", "", "", "",
		}
	}

	frame, result := model.state.Frame, model.state.Result
	captured := frame.Timestamp
	if !frame.CapturedAt.IsZero() {
		captured = frame.CapturedAt.Local().Format("2006-01-02 " + timeLayout)
	}
	if captured == "" {
		captured = "-"
	}
	shown := frame.ID
	if latest != frame.ID {
		shown += "  (latest: " + latest + ")"
	}

	frameText := "-"
	if decoded := model.state.Decoded; decoded != nil {
		frameText = fmt.Sprintf("%s %dx%d · %s · %s", decoded.Format, decoded.Width, decoded.Height,
			formatBytes(decoded.Size), shortDigest(decoded.Digest))
	}

	return []string{
		row("Image", shown),
		row("Captured", captured),
		row("Updated", model.state.UpdatedAt.Local().Format(timeLayout)),
		row("Label", result.Label),
		row("Metrics", fmt.Sprintf("intensity %.2f   focus %.3f", result.IntensityAverage, result.FocusScore)),
		row("Frame", frameText),
	}
}

// renderInspect renders a history entry in place of the details and
// histogram sections, keeping their line count.
func (model Model) renderInspect(entry poll.HistoryEntry) []string {
	labelStyle := lipgloss.NewStyle().Foreground(model.theme.FaintText)
	valueStyle := lipgloss.NewStyle().Foreground(model.theme.NormalText)
	row := func(label, value string) string {
		return model.truncate(labelStyle.Render(fmt.Sprintf("%-10s", label)) + valueStyle.Render(value))
	}

	frameText := "-"
	if entry.Format != "" {
		frameText = fmt.Sprintf("%s %dx%d", entry.Format, entry.Width, entry.Height)
	}
	histogram := []string{model.truncate(labelStyle.Render("Histogram  -")), ""}
	if len(entry.Histogram) > 0 {
		width := max(8, model.width-12)
		bars := lipgloss.NewStyle().Foreground(model.theme.HistogramBar).Render(sparkline(entry.Histogram, width))
		summary := imaging.AnalysisResult{Histogram: entry.Histogram}.Summarize()
		histogram = []string{
			model.truncate(labelStyle.Render("Histogram ") + bars),
			model.truncate(labelStyle.Render(summaryText(summary))),
		}
	}

	return append([]string{
		row("History", fmt.Sprintf("%s  (%d of %d, Esc to return)", entry.ImageID, model.cursor+1, len(model.state.History))),
		row("Captured", entry.Timestamp.Local().Format("2006-01-02 "+timeLayout)),
		row("Label", entry.Label),
		row("Metrics", fmt.Sprintf("intensity %.2f   focus %.3f", entry.IntensityAverage, entry.FocusScore)),
		row("Frame", frameText),
		row("Digest", entry.Digest),
	}, histogram...)
}

func (model Model) renderHistogram() []string {
	labelStyle := lipgloss.NewStyle().Foreground(model.theme.FaintText)
	if model.state.Result == nil || len(model.state.Result.Histogram) == 0 {
		return []string{model.truncate(labelStyle.Render("Histogram  -")), ""}
	}

	result := *model.state.Result
	summary := result.Summarize()
	width := max(8, model.width-12)
	bars := lipgloss.NewStyle().Foreground(model.theme.HistogramBar).Render(sparkline(result.Histogram, width))
	return []string{
		model.truncate(labelStyle.Render("Histogram ") + bars),
		model.truncate(labelStyle.Render(summaryText(summary))),
	}
}

func summaryText(summary imaging.HistogramSummary) string {
	return fmt.Sprintf("          %d bins · total %d · peak bin %d (%d)",
		summary.Bins, summary.Total, summary.PeakBin, summary.PeakCount)
}

// sparkline renders counts as block characters, summing adjacent bins
// when there are more bins than columns.
func sparkline(counts []int, width int) string {
	if len(counts) == 0 || width <= 0 {
		return ""
	}
	columns := min(width, len(counts))
	buckets := make([]int, columns)
	for index, count := range counts {
		buckets[index*columns/len(counts)] += count
	}
	peak := 0
	for _, value := range buckets {
		peak = max(peak, value)
	}

	var builder strings.Builder
	for _, value := range buckets {
		level := 0
		if peak > 0 {
			level = value * (len(sparkLevels) - 1) / peak
		}
		builder.WriteRune(sparkLevels[level])
	}
	return builder.String()
}

func formatBytes(size int) string {
	switch {
	case size >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(size)/(1<<20))
	case size >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(size)/(1<<10))
	default:
		return fmt.Sprintf("%d B", size)
	}
}

func shortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}

// renderHelp renders the bottom bar: key hints, then the refresh
// notice, then the most recent log record.
func (model Model) renderHelp() string {
	style := lipgloss.NewStyle().Foreground(model.theme.HelpText)
	help := style.Render(" r refresh  ↑↓ history  Enter inspect  q quit")

	if model.notice != "" {
		noticeColor := model.theme.NormalText
		if model.noticeIsError {
			noticeColor = model.theme.StatusError
		}
		help += "  " + lipgloss.NewStyle().Bold(true).Foreground(noticeColor).Render(model.notice)
	}

	if model.logNotice != "" {
		logColor := model.theme.FaintText
		switch {
		case model.logLevel >= slog.LevelError:
			logColor = model.theme.StatusError
		case model.logLevel >= slog.LevelWarn:
			logColor = model.theme.StatusStale
		}
		help += "  " + lipgloss.NewStyle().Foreground(logColor).Render(model.logNotice)
	}
	return model.truncate(help)
}
