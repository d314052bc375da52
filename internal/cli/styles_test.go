package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeneralMagicio/QAcc-BE-sub001/internal/model"
)

func TestFormatters(t *testing.T) {
	tests := []struct {
		name   string
		format func(string) string
		icon   string
	}{
		{"success", FormatSuccess, SuccessIcon},
		{"error", FormatError, ErrorIcon},
		{"warning", FormatWarning, WarningIcon},
		{"info", FormatInfo, InfoIcon},
		{"title", FormatTitle, FlowIcon},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tt.format("sweep complete")
			assert.Contains(t, out, tt.icon)
			assert.Contains(t, out, "sweep complete")
		})
	}
}

func TestRenderStateTable(t *testing.T) {
	out := RenderStateTable(map[model.EventState]int{
		model.StateFinalized: 7,
		model.StateUnmatched: 2,
	})

	lines := strings.Split(out, "\n")
	require.GreaterOrEqual(t, len(lines), 7)
	assert.Contains(t, out, "finalized")
	assert.Contains(t, out, "7")
	assert.Contains(t, lines[len(lines)-1], "9")

	// Lifecycle order, not map order.
	assert.Less(t, strings.Index(out, "ingested"), strings.Index(out, "finalized"))
}

func TestRenderBox(t *testing.T) {
	out := RenderBox("Status", "all good")
	assert.Contains(t, out, "Status")
	assert.Contains(t, out, "all good")
}

func TestNewProgressBar(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar(&buf, 2, "Importing")
	require.NoError(t, bar.Add(2))
	assert.Contains(t, buf.String(), "Importing")
}
