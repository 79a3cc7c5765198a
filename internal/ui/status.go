package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// PartitionStatus describes one partition for `subindex status`.
type PartitionStatus struct {
	Name       string `json:"name"`
	Exists     bool   `json:"exists"`
	Generation int64  `json:"generation"`
	Documents  int    `json:"documents"`
	Locked     bool   `json:"locked"`
	SizeBytes  int64  `json:"size_bytes"`
	Error      string `json:"error,omitempty"`
}

// StatusInfo contains index health information.
type StatusInfo struct {
	Root       string            `json:"root"`
	Partitions []PartitionStatus `json:"partitions"`
	Documents  int               `json:"documents"`
	TotalSize  int64             `json:"total_size"`
	Healthy    bool              `json:"healthy"`
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{
		out:    out,
		styles: GetStyles(noColor),
	}
}

// Render displays status info as a table.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintln(r.out, r.styles.Panel.Render(r.styles.Header.Render("Index Status: "+info.Root)))
	_, _ = fmt.Fprintln(r.out)

	width := len("PARTITION")
	for _, p := range info.Partitions {
		if len(p.Name) > width {
			width = len(p.Name)
		}
	}

	header := fmt.Sprintf("  %-*s  %-8s  %10s  %10s  %10s", width, "PARTITION", "STATE", "GENERATION", "DOCS", "SIZE")
	_, _ = fmt.Fprintln(r.out, r.styles.Label.Render(header))
	for _, p := range info.Partitions {
		state := r.renderState(p)
		// Pad on the raw text so escape codes do not break alignment.
		pad := strings.Repeat(" ", max(0, 8-len(stateText(p))))
		_, _ = fmt.Fprintf(r.out, "  %-*s  %s%s  %10d  %10d  %10s\n",
			width, p.Name, state, pad, p.Generation, p.Documents, FormatBytes(p.SizeBytes))
		if p.Error != "" {
			_, _ = fmt.Fprintf(r.out, "    %s\n", r.styles.Error.Render(p.Error))
		}
	}
	_, _ = fmt.Fprintln(r.out)
	_, _ = fmt.Fprintf(r.out, "  Documents: %d\n", info.Documents)
	_, _ = fmt.Fprintf(r.out, "  Size:      %s\n", FormatBytes(info.TotalSize))
	health := r.styles.Success.Render("healthy")
	if !info.Healthy {
		health = r.styles.Warning.Render("needs attention")
	}
	_, _ = fmt.Fprintf(r.out, "  Status:    %s\n", health)
	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func stateText(p PartitionStatus) string {
	switch {
	case p.Error != "":
		return "error"
	case !p.Exists:
		return "missing"
	case p.Locked:
		return "locked"
	default:
		return "ready"
	}
}

func (r *StatusRenderer) renderState(p PartitionStatus) string {
	text := stateText(p)
	switch text {
	case "ready":
		return r.styles.Success.Render(text)
	case "locked", "missing":
		return r.styles.Warning.Render(text)
	default:
		return r.styles.Error.Render(text)
	}
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
