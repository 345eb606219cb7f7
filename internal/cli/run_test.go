package cli

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAppliesSpooledFrames(t *testing.T) {
	spool := t.TempDir()
	alpha := newDomainCLI(t, "alpha", spool)
	beta := newDomainCLI(t, "beta", spool)

	beta.ok(1000, "deposit", "--account", "printer", "--amount", "1000")
	beta.ok(1000, "register", "--as", "printer", "--penalty", "200", "--work-duration", "100", "--on")
	alpha.ok(1000, "deposit", "--account", "cli", "--amount", "500")
	alpha.ok(1000, "register-remote", "--device", "printer", "--home", "beta", "--penalty", "200", "--work-duration", "100")
	alpha.ok(1000, "submit", "--as", "cli", "--device", "printer", "--fee", "50", "--deadline", "5000")

	cfgPath := filepath.Join(t.TempDir(), "beta.toml")
	cfg := fmt.Sprintf(`domain = "beta"
db = %q
spool = %q
poll_interval = "10ms"

[[remote_devices]]
device = "plotter"
home = "alpha"
penalty = 400
work_duration = 60000
`, beta.db, spool)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--config", cfgPath, "--now", "1000", "run"})
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)

	done := make(chan error, 1)
	go func() {
		done <- cmd.ExecuteContext(ctx)
	}()

	inbox := filepath.Join(spool, hex.EncodeToString([]byte("beta")))
	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(inbox)
		return err == nil && len(entries) == 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	assert.Contains(t, out.String(), "Node beta started.")

	assert.Equal(t, "printer: Busy home=beta penalty=200 work_duration=100\n", beta.ok(1000, "show", "device", "printer"))
	assert.Equal(t, "printer: client=cli@alpha fee=50 deadline=5000 payload=\n", beta.ok(1000, "show", "order", "printer"))
	assert.Equal(t, "plotter: Ready home=alpha penalty=400 work_duration=60000\n", beta.ok(1000, "show", "device", "plotter"))
}
