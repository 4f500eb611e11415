package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sleroq/feishu-to-markdown/internal/app/exporter"
)

func TestSummaryError(t *testing.T) {
	assert.NoError(t, summaryError(exporter.SpaceSummary{Succeeded: 3}))
	assert.ErrorIs(t, summaryError(exporter.SpaceSummary{Cancelled: true, Failed: 1}), context.Canceled)
	assert.EqualError(t, summaryError(exporter.SpaceSummary{Succeeded: 2, Failed: 1}), "1 of 3 documents failed")

	listing := exporter.SpaceSummary{
		Succeeded:     3,
		ListingErrors: []*exporter.WikiListError{{Parent: "n1", Err: errors.New("no permission")}},
	}
	assert.EqualError(t, summaryError(listing), "1 wiki subtrees could not be listed")
}
