package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/odyssey-dms/odyssey-dms/internal/app"
	_ "github.com/odyssey-dms/odyssey-dms/testing"
)

func TestWorkerSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	assert.True(t, app.InTestMode())
	assert.NotPanics(t, main)
}
