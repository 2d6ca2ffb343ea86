package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/routes/match"
)

func testConfig() config.Config {
	return config.Config{
		AppName:                       "fern-api",
		CodeVersion:                   "test",
		Port:                          3004,
		LogLevel:                      "info",
		HttpServerReadTimeoutSeconds:  10,
		HttpServerWriteTimeoutSeconds: 30,
		AllowOrigins:                  []string{"*"},
		AutomaticThreshold:            0.8,
		GazetteerThreshold:            0.5,
		RecallWeight:                  1,
		TrainingMaxPairs:              15000,
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := rootCommand()

	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "train", "threshold", "migrate"}, names)
}

func TestNewZapLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		pretty  bool
		wantErr bool
	}{
		{name: "production", level: "info"},
		{name: "development", level: "debug", pretty: true},
		{name: "invalid level", level: "chatty", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.LogLevel = tt.level
			cfg.PrettyLogs = tt.pretty

			zl, err := newZapLogger(cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, zl)
		})
	}
}

func TestMatchDefaultsFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCandidates = 5

	defaults := matchDefaults(cfg)
	assert.Equal(t, 0.8, defaults.AutomaticThreshold)
	assert.Equal(t, 0.5, defaults.GazetteerThreshold)
	assert.Equal(t, 1.0, defaults.RecallWeight)
	assert.Equal(t, 5, defaults.MaxCandidates)
	assert.Equal(t, 15000, trainOptions(cfg).MaxPairs)
}

func TestNewServer_Routes(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
	checker := health.NewChecker("test", nil, nil)
	e := newServer(testConfig(), logger, checker, match.NewHandler(nil, nil, nil, logger))

	tests := []struct {
		path string
		want int
	}{
		{path: "/api/v1/health/live", want: http.StatusOK},
		{path: "/api/v1/health/ready", want: http.StatusOK},
		{path: "/metrics", want: http.StatusOK},
		{path: "/api/v1/unknown", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
