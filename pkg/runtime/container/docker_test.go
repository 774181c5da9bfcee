package container

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fleetkeeper/pkg/runtime"
)

func TestClassifyDockerStatus(t *testing.T) {
	tests := []struct {
		status string
		want   runtime.Phase
	}{
		{"created", runtime.PhaseStarting},
		{"restarting", runtime.PhaseStarting},
		{"running", runtime.PhaseRunning},
		{"paused", runtime.PhaseRunning},
		{"exited", runtime.PhaseExited},
		{"dead", runtime.PhaseExited},
		{"removing", runtime.PhaseExited},
		{"something-unknown", runtime.PhaseNotFound},
		{"", runtime.PhaseNotFound},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, classifyDockerStatus(tc.status), "status %q", tc.status)
	}
}

func TestParseContainerNames(t *testing.T) {
	out := []byte("fleetkeeper-worker-5001\nfleetkeeper-worker-5002\n\n")
	names := parseContainerNames(out)
	assert.Equal(t, []string{"fleetkeeper-worker-5001", "fleetkeeper-worker-5002"}, names)
}

func TestParseContainerNamesEmptyOutput(t *testing.T) {
	assert.Nil(t, parseContainerNames([]byte("\n")))
	assert.Nil(t, parseContainerNames([]byte("")))
}
