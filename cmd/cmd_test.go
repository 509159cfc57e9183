package cmd

import (
	"context"
	"testing"

	"harvest/internal/models"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestTruncateCell(t *testing.T) {
	assert.Equal(t, "short", truncateCell("short", 10))
	assert.Equal(t, "https://...", truncateCell("https://example.com/long", 11))
	assert.Equal(t, "żółć...", truncateCell("żółćżółćżółć", 7))
}

func TestColorStatus(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()
	for _, s := range []models.Status{models.StatusPending, models.StatusProcessing, models.StatusCompleted, models.StatusFailed} {
		assert.Equal(t, string(s), colorStatus(s))
	}
}

func TestGetAppFromContext_Missing(t *testing.T) {
	_, err := GetAppFromContext(context.Background())
	assert.Error(t, err)
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"serve", "worker", "scrape", "status", "jobs", "stats", "delete", "doctor"}
	for _, name := range want {
		c, _, err := rootCmd.Find([]string{name})
		if assert.NoError(t, err, name) {
			assert.Equal(t, name, c.Name())
		}
	}
}
