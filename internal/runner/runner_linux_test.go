package runner_test

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/yieldforecast/forecaster/internal/runner"

	"github.com/stretchr/testify/require"
)

// alive treats zombies as dead, they are only waiting to be reaped.
func alive(pid int) bool {
	b, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return false
	}
	// pid (comm) state ...
	s := string(b)
	i := strings.LastIndexByte(s, ')')
	if i < 0 || i+2 >= len(s) {
		return false
	}
	return s[i+2] != 'Z'
}

func TestRunTimeoutKillsDescendants(t *testing.T) {
	t.Parallel()
	sh := shell(t)
	pidfile := filepath.Join(t.TempDir(), "child.pid")
	body := `sleep 30 & echo $! > ` + pidfile + `; wait`

	o := runner.New().Run(t.Context(), script(sh, body, 300*time.Millisecond))
	require.Equal(t, runner.Timeout, o.Kind)

	b, err := os.ReadFile(pidfile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !alive(pid) }, 5*time.Second, 20*time.Millisecond)
}
