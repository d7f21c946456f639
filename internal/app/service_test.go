package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stockpilot/internal/config"
)

type recordingService struct {
	name     string
	startErr error
	mu       *sync.Mutex
	stopped  *[]string
}

func (s *recordingService) Name() string { return s.name }

func (s *recordingService) Start(ctx context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	<-ctx.Done()
	return nil
}

func (s *recordingService) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.stopped = append(*s.stopped, s.name)
	return nil
}

func TestRunnerStopsServicesInReverseOrder(t *testing.T) {
	var mu sync.Mutex
	var stopped []string
	notifier := &recordingService{name: "notifier", mu: &mu, stopped: &stopped}
	http := &recordingService{name: "http", mu: &mu, stopped: &stopped}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if err := NewRunner(notifier, http).Run(ctx, time.Second, nil); err != nil {
		t.Fatalf("run want nil got %v", err)
	}
	if len(stopped) != 2 || stopped[0] != "http" || stopped[1] != "notifier" {
		t.Fatalf("stop order want [http notifier] got %v", stopped)
	}
}

func TestRunnerReturnsStartError(t *testing.T) {
	var mu sync.Mutex
	var stopped []string
	boom := errors.New("listen failed")
	failing := &recordingService{name: "http", startErr: boom, mu: &mu, stopped: &stopped}
	idle := &recordingService{name: "reconciler", mu: &mu, stopped: &stopped}

	err := NewRunner(idle, failing).Run(context.Background(), time.Second, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("run want start error got %v", err)
	}
	if len(stopped) != 2 {
		t.Fatalf("all services should be stopped, got %v", stopped)
	}
}

func TestBuildRunnerRejectsBadInput(t *testing.T) {
	if _, err := BuildRunner(nil, ModeAll); err == nil {
		t.Fatalf("nil config should be rejected")
	}
	if _, err := BuildRunner(&config.Config{}, "bogus"); err == nil {
		t.Fatalf("unknown mode should be rejected")
	}
}

func TestRunnerWithoutServices(t *testing.T) {
	if err := NewRunner().Run(context.Background(), time.Second, nil); err == nil {
		t.Fatalf("empty runner should fail")
	}
}
