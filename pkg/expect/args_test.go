package expect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSSHArgs(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		want   []string
	}{
		{
			name:   "username",
			target: Target{Host: "10.0.0.1", Username: "admin"},
			want:   []string{"-q", "-o", "UserKnownHostsFile=/dev/null", "-o", "StrictHostKeyChecking=no", "-l", "admin", "10.0.0.1"},
		},
		{
			name:   "terminal server port with x11",
			target: Target{Host: "ts1", Username: "admin", TSPort: 2003, X11: true},
			want:   []string{"-q", "-o", "UserKnownHostsFile=/dev/null", "-o", "StrictHostKeyChecking=no", "-X", "-l", ":2003", "ts1"},
		},
		{
			name:   "custom port",
			target: Target{Host: "r1", Username: "root", SSHPort: 2222},
			want:   []string{"-q", "-o", "UserKnownHostsFile=/dev/null", "-o", "StrictHostKeyChecking=no", "-l", "root", "-p", "2222", "r1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SSHArgs(tt.target))
		})
	}
}

func TestTelnetArgs(t *testing.T) {
	assert.Equal(t, []string{"r1"}, TelnetArgs(Target{Host: "r1"}))
	assert.Equal(t, []string{"ts1", "2005"}, TelnetArgs(Target{Host: "ts1", TSPort: 2005}))
}

func TestTargetWinsize(t *testing.T) {
	rows, cols := Target{}.winsize()
	assert.Equal(t, uint16(24), rows)
	assert.Equal(t, uint16(200), cols)

	rows, cols = Target{Rows: 50, Cols: 132}.winsize()
	assert.Equal(t, uint16(50), rows)
	assert.Equal(t, uint16(132), cols)
}

func TestSSHClientConfigUser(t *testing.T) {
	cfg := sshClientConfig(Target{Username: "admin", Password: "secret"})
	assert.Equal(t, "admin", cfg.User)
	assert.Len(t, cfg.Auth, 2)

	cfg = sshClientConfig(Target{Username: "admin", TSPort: 2010})
	assert.Equal(t, ":2010", cfg.User)
}
