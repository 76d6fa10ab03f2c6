package db

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// fakePurger counts purge calls and returns a preconfigured error.
type fakePurger struct {
	mu         sync.Mutex
	deleted    int
	unverified int
	lastCutoff time.Time
	err        error
}

func (f *fakePurger) PurgeDeleted(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted++
	f.lastCutoff = cutoff
	return 1, f.err
}

func (f *fakePurger) PurgeUnverified(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unverified++
	return 1, f.err
}

func (f *fakePurger) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleted, f.unverified
}

func TestStartRetentionCleaner_Success(t *testing.T) {
	fake := &fakePurger{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartRetentionCleaner(ctx, fake, 10*time.Millisecond, time.Hour, zap.NewNop())

	time.Sleep(200 * time.Millisecond)
	cancel()

	deleted, unverified := fake.counts()
	if deleted == 0 {
		t.Error("expected PurgeDeleted to run at least once")
	}
	if unverified == 0 {
		t.Error("expected PurgeUnverified to run at least once")
	}

	fake.mu.Lock()
	cutoff := fake.lastCutoff
	fake.mu.Unlock()
	if until := time.Until(cutoff); until > -30*time.Minute {
		t.Errorf("cutoff %v does not honor the retention window", cutoff)
	}
}

func TestStartRetentionCleaner_ErrorLogged(t *testing.T) {
	fake := &fakePurger{err: errors.New("db fail")}

	var buf bytes.Buffer
	encCfg := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(&buf),
		zapcore.ErrorLevel,
	)
	logger := zap.New(core)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartRetentionCleaner(ctx, fake, 10*time.Millisecond, time.Hour, logger)

	time.Sleep(200 * time.Millisecond)
	cancel()

	out := buf.String()
	if !strings.Contains(out, "failed to purge removed keys") {
		t.Errorf("expected error log, got:\n%s", out)
	}
	if !strings.Contains(out, "failed to purge stale submissions") {
		t.Errorf("expected error log for submissions, got:\n%s", out)
	}
}

func TestStartRetentionCleaner_CancelBeforeTicker(t *testing.T) {
	fake := &fakePurger{}
	ctx, cancel := context.WithCancel(context.Background())

	StartRetentionCleaner(ctx, fake, 100*time.Millisecond, time.Hour, zap.NewNop())
	cancel()

	time.Sleep(50 * time.Millisecond)

	if deleted, unverified := fake.counts(); deleted != 0 || unverified != 0 {
		t.Errorf("unexpected purge calls after cancel: %d/%d", deleted, unverified)
	}
}
