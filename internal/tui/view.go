package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// render builds the full dashboard.
func (m Model) render() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderHelperSection())
	b.WriteString("\n")
	b.WriteString(m.renderSpawnSection())
	b.WriteString("\n")
	b.WriteString(m.renderLatencySection())
	b.WriteString("\n")
	b.WriteString(m.renderFooter())

	return b.String()
}

func (m Model) renderHeader() string {
	title := headerStyle.Render("go-app-spawn")
	subtitle := titleStyle.Render("spawn helper driver")
	elapsed := fmt.Sprintf("elapsed %s", formatDuration(m.Elapsed()))
	return lipgloss.JoinHorizontal(lipgloss.Left,
		title, "  ", subtitle, "  ", footerStyle.Render(elapsed))
}

func (m Model) renderHelperSection() string {
	var b strings.Builder

	b.WriteString(sectionHeaderStyle.Render("Helper"))
	b.WriteString("\n")
	b.WriteString(RenderKeyValue("State", GetHelperStateLabel(m.helperState)))
	b.WriteString("\n")

	pid := "-"
	if m.helperPID > 0 {
		pid = fmt.Sprintf("%d", m.helperPID)
	}
	b.WriteString(RenderKeyValue("PID", pid))
	b.WriteString("\n")
	b.WriteString(RenderKeyValue("Restarts", fmt.Sprintf("%d", m.helperRestarts)))
	b.WriteString("\n")

	return b.String()
}

func (m Model) renderSpawnSection() string {
	var b strings.Builder

	b.WriteString(sectionHeaderStyle.Render("Spawn Requests"))
	b.WriteString("\n")

	barWidth := m.width - 30
	if barWidth > 50 {
		barWidth = 50
	}
	progress := fmt.Sprintf("%d / %d  ", m.snapshot.Total(), m.count)
	b.WriteString(RenderKeyValue("Progress",
		progress+RenderProgressBar(m.Progress(), barWidth)))
	b.WriteString("\n")

	b.WriteString(RenderKeyValue("App root", m.appRoot))
	b.WriteString("\n")
	b.WriteString(RenderKeyValue("Succeeded",
		valueGoodStyle.Render(fmt.Sprintf("%d", m.snapshot.Succeeded))))
	b.WriteString("\n")

	failures := fmt.Sprintf("%d", m.snapshot.Failed)
	rate := formatPercent(m.FailureRate())
	b.WriteString(RenderKeyValue("Failed",
		GetFailureRateStyle(m.FailureRate()).Render(failures)+
			unitStyle.Render(" ("+rate+")")))
	b.WriteString("\n")
	b.WriteString(RenderKeyValue("Rate", formatRate(m.snapshot.SpawnsPerSecond())))
	b.WriteString("\n")

	return b.String()
}

func (m Model) renderLatencySection() string {
	var b strings.Builder

	b.WriteString(sectionHeaderStyle.Render("Spawn Latency"))
	b.WriteString("\n")

	if m.snapshot.Succeeded == 0 {
		b.WriteString(footerStyle.Render("  no successful spawns yet"))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(RenderKeyValue("p50", formatMs(m.snapshot.P50)))
	b.WriteString("\n")
	b.WriteString(RenderKeyValue("p95", formatMs(m.snapshot.P95)))
	b.WriteString("\n")
	b.WriteString(RenderKeyValue("p99", formatMs(m.snapshot.P99)))
	b.WriteString("\n")
	b.WriteString(RenderKeyValue("min / max",
		formatMs(m.snapshot.Min)+unitStyle.Render(" / ")+formatMs(m.snapshot.Max)))
	b.WriteString("\n")

	return b.String()
}

func (m Model) renderFooter() string {
	parts := []string{"q: quit", "r: refresh"}
	if m.metricsAddr != "" {
		parts = append(parts, "metrics: http://"+m.metricsAddr+"/metrics")
	}
	return footerStyle.Render(strings.Join(parts, "  •  "))
}
