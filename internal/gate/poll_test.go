package gate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lomi/client/internal/config"
)

func TestPollCredentialImmediate(t *testing.T) {
	result, err := PollCredential(context.Background(), StaticSource("blob"), 3, time.Hour)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if !result.Found || result.Credential != "blob" || result.Attempts != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestPollCredentialCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &delayedSource{}
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result, err := PollCredential(ctx, src, 10, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled got %v", err)
	}
	if result.Found || result.Attempts != 1 {
		t.Fatalf("expected one unsuccessful attempt got %+v", result)
	}
}

func TestPollCredentialKeepsLastError(t *testing.T) {
	boom := errors.New("permission denied")
	clock := &fakeClock{}
	p := Poller{Attempts: 2, Interval: time.Second, After: clock.after}

	result, err := p.Poll(context.Background(), &delayedSource{failWith: boom})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if result.Found || !errors.Is(result.LastErr, boom) || result.Attempts != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestFileSourceWaitsForFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "init_data")
	src := FileSource{Path: path}

	if _, err := src.Credential(context.Background()); !errors.Is(err, ErrCredentialUnavailable) {
		t.Fatalf("expected unavailable for missing file got %v", err)
	}
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := src.Credential(context.Background()); !errors.Is(err, ErrCredentialUnavailable) {
		t.Fatalf("expected unavailable for empty file got %v", err)
	}
	if err := os.WriteFile(path, []byte("query_id=1&hash=ab\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	blob, err := src.Credential(context.Background())
	if err != nil || blob != "query_id=1&hash=ab" {
		t.Fatalf("expected trimmed blob got %q %v", blob, err)
	}
}

func TestEnvSource(t *testing.T) {
	t.Setenv("LOMI_TEST_INIT_DATA", "")
	src := EnvSource{Key: "LOMI_TEST_INIT_DATA"}
	if _, err := src.Credential(context.Background()); !errors.Is(err, ErrCredentialUnavailable) {
		t.Fatalf("expected unavailable got %v", err)
	}
	t.Setenv("LOMI_TEST_INIT_DATA", "user=1&hash=cd")
	if blob, err := src.Credential(context.Background()); err != nil || blob != "user=1&hash=cd" {
		t.Fatalf("unexpected %q %v", blob, err)
	}
}

func TestPlatformDetector(t *testing.T) {
	cases := []struct {
		cfg  config.GateConfig
		want bool
	}{
		{cfg: config.GateConfig{}, want: false},
		{cfg: config.GateConfig{HostPlatform: "Telegram"}, want: true},
		{cfg: config.GateConfig{HostPlatform: "browser"}, want: false},
		{cfg: config.GateConfig{InitDataFile: "/run/lomi/init"}, want: true},
		{cfg: config.GateConfig{InitData: "blob"}, want: true},
	}
	for _, tc := range cases {
		if got := NewPlatformDetector(tc.cfg).InHostEnvironment(context.Background()); got != tc.want {
			t.Fatalf("%+v: expected %v got %v", tc.cfg, tc.want, got)
		}
	}
}

func TestNewCredentialSource(t *testing.T) {
	if _, ok := NewCredentialSource(config.GateConfig{InitDataFile: "/tmp/x"}).(FileSource); !ok {
		t.Fatal("expected FileSource when a file is configured")
	}
	if _, ok := NewCredentialSource(config.GateConfig{}).(EnvSource); !ok {
		t.Fatal("expected EnvSource by default")
	}
}
