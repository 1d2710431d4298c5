package main

import (
	"context"
	"flag"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGlobal(t *testing.T) {
	useTempUserConfig(t)
	tests := []struct {
		name        string
		args        []string
		wantOpts    globalOptions
		wantRemain  []string
		wantErr     bool
		errContains string
	}{
		{
			name:       "default values",
			args:       []string{},
			wantOpts:   globalOptions{},
			wantRemain: []string{},
		},
		{
			name:       "with remaining args",
			args:       []string{"health"},
			wantOpts:   globalOptions{},
			wantRemain: []string{"health"},
		},
		{
			name:       "custom config path",
			args:       []string{"--config", "/tmp/verbactl.yaml"},
			wantOpts:   globalOptions{configPath: "/tmp/verbactl.yaml"},
			wantRemain: []string{},
		},
		{
			name:       "local and origin",
			args:       []string{"--local", "http://localhost:9000", "--origin", "https://verba.example.com"},
			wantOpts:   globalOptions{localURL: "http://localhost:9000", origin: "https://verba.example.com"},
			wantRemain: []string{},
		},
		{
			name:       "json output flag",
			args:       []string{"--json"},
			wantOpts:   globalOptions{jsonOutput: true},
			wantRemain: []string{},
		},
		{
			name:       "custom timeouts",
			args:       []string{"--timeout", "2m", "--probe-timeout", "5s"},
			wantOpts:   globalOptions{timeout: 2 * time.Minute, probeTimeout: 5 * time.Second},
			wantRemain: []string{},
		},
		{
			name:       "verbosity flags",
			args:       []string{"--verbose", "--quiet"},
			wantOpts:   globalOptions{verbose: true, quiet: true},
			wantRemain: []string{},
		},
		{
			name:       "version flag",
			args:       []string{"--version"},
			wantOpts:   globalOptions{showVersion: true},
			wantRemain: []string{},
		},
		{
			name:       "all flags with args",
			args:       []string{"--local", "http://localhost:9000", "--json", "--timeout", "30s", "import", "./docs"},
			wantOpts:   globalOptions{localURL: "http://localhost:9000", jsonOutput: true, timeout: 30 * time.Second},
			wantRemain: []string{"import", "./docs"},
		},
		{
			name:       "single dash flags work",
			args:       []string{"-local", "http://localhost:9000"},
			wantOpts:   globalOptions{localURL: "http://localhost:9000"},
			wantRemain: []string{},
		},
		{
			name:       "flags after the command are not parsed",
			args:       []string{"health", "--json"},
			wantOpts:   globalOptions{},
			wantRemain: []string{"health", "--json"},
		},
		{
			name:        "invalid timeout",
			args:        []string{"--timeout", "invalid"},
			wantErr:     true,
			errContains: "parse error",
		},
		{
			name:        "unknown flag",
			args:        []string{"--unknown", "value"},
			wantErr:     true,
			errContains: "flag provided but not defined",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotOpts, gotRemain, err := parseGlobal(tt.args)
			if tt.wantErr {
				require.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOpts, gotOpts)
			assert.Equal(t, tt.wantRemain, gotRemain)
		})
	}
}

func TestParseGlobalHelp(t *testing.T) {
	useTempUserConfig(t)
	t.Run("long help flag", func(t *testing.T) {
		_, _, err := parseGlobal([]string{"--help"})
		assert.ErrorIs(t, err, flag.ErrHelp)
	})

	t.Run("short help flag", func(t *testing.T) {
		_, _, err := parseGlobal([]string{"-h"})
		assert.ErrorIs(t, err, flag.ErrHelp)
	})
}

func TestIsHelpToken(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"help", true},
		{"-h", true},
		{"--help", true},
		{" help ", true},
		{"detect", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isHelpToken(tt.value), "isHelpToken(%q)", tt.value)
	}
}

func TestDispatchHelp(t *testing.T) {
	useTempUserConfig(t)
	ctx := context.Background()
	for _, command := range commandNames {
		t.Run(command, func(t *testing.T) {
			out := captureStdout(t, func() {
				err := dispatch(ctx, []string{command, "--help"}, quietFlags())
				assert.ErrorIs(t, err, errHelp)
			})
			assert.Contains(t, out, "Usage: verbactl "+command)
		})
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	useTempUserConfig(t)
	var err error
	out := captureStdout(t, func() {
		err = dispatch(context.Background(), []string{"helth"}, quietFlags())
	})
	require.Error(t, err)
	assert.Contains(t, out, "verbactl is the CLI for a Verba backend.")

	msg, next, hints := describeError(err)
	assert.Equal(t, `unknown command "helth"`, msg)
	assert.Equal(t, "verbactl --help", next)
	assert.Contains(t, hints, `did you mean "health"?`)
}

func TestNewLogger(t *testing.T) {
	assert.Equal(t, logrus.InfoLevel, newLogger(false, false).GetLevel())
	assert.Equal(t, logrus.DebugLevel, newLogger(true, false).GetLevel())
	assert.Equal(t, logrus.ErrorLevel, newLogger(false, true).GetLevel())
	// Quiet wins when both are set.
	assert.Equal(t, logrus.ErrorLevel, newLogger(true, true).GetLevel())
}
