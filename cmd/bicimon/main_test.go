package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bicimon/internal/config"
	"bicimon/internal/report"
)

func TestExitCode(t *testing.T) {
	log, hook := test.NewNullLogger()

	fault := &report.Fault{File: "monitor.go", Line: 42, Message: "boom"}
	assert.Equal(t, 1, exitCode(fmt.Errorf("monitor: %w", fault), log))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "bicimon stopped", hook.LastEntry().Message)

	assert.Equal(t, 0, exitCode(context.Canceled, log))
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Equal(t, 0, exitCode(nil, log))
}

func TestRun_ReturnsSetupErrors(t *testing.T) {
	log, _ := test.NewNullLogger()
	err := run(context.Background(), &config.Config{LocationSource: "carrier-pigeon"}, log)
	assert.ErrorContains(t, err, `unknown location source "carrier-pigeon"`)
}
