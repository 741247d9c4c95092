package viewer

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWatch_ReloadsOnWrite(t *testing.T) {
	clearEnv(t)
	old := reloadDebounce
	reloadDebounce = 20 * time.Millisecond
	t.Cleanup(func() { reloadDebounce = old })

	path := writeConfig(t, "[fetch]\nattempts = 3\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan Config, 4)
	if err := Watch(ctx, path, zerolog.Nop(), func(c Config) { reloaded <- c }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(path, []byte("[fetch]\nattempts = 7\n[poll]\ninterval = 0.1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-reloaded:
		s := c.Settings()
		if s.Attempts != 7 || s.Interval != 100*time.Millisecond {
			t.Errorf("reloaded settings = %+v", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	clearEnv(t)
	old := reloadDebounce
	reloadDebounce = 20 * time.Millisecond
	t.Cleanup(func() { reloadDebounce = old })

	path := writeConfig(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan Config, 4)
	if err := Watch(ctx, path, zerolog.Nop(), func(c Config) { reloaded <- c }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(path+".bak", []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-reloaded:
		t.Fatal("unexpected reload for an unrelated file")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatch_NoFile(t *testing.T) {
	if err := Watch(context.Background(), "", zerolog.Nop(), func(Config) {}); err == nil {
		t.Fatal("expected error without a config file")
	}
}
