package store

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

var fastRetry = retryConfig{maxRetries: 2, baseDelay: time.Millisecond, maxDelay: 4 * time.Millisecond}

func TestIsTransientSQLiteErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"syntax", errors.New("near \"SELEC\": syntax error"), false},
		{"not found", ErrNotFound, false},
		{"busy text", errors.New("SQLITE_BUSY"), true},
		{"locked text", errors.New("database is locked"), true},
		{"table locked text", errors.New("database table is locked"), true},
		{"short read text", errors.New("disk I/O error (IOERR_SHORT_READ)"), true},
		{"wrapped busy", fmt.Errorf("insert spikes: %w", errors.New("SQLITE_BUSY")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransientSQLiteErr(tt.err); got != tt.want {
				t.Errorf("isTransientSQLiteErr(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryOp(t *testing.T) {
	busy := errors.New("SQLITE_BUSY")
	permanent := errors.New("constraint failed")
	tests := []struct {
		name      string
		failures  int
		err       error
		wantCalls int
		wantErr   error
	}{
		{"immediate success", 0, nil, 1, nil},
		{"permanent error is not retried", 5, permanent, 1, permanent},
		{"recovers after two busy", 2, busy, 3, nil},
		{"gives up after max retries", 10, busy, 3, busy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retryOp(fastRetry, func() error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err: got %v, want %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Fatalf("calls: got %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryOp_ZeroRetries(t *testing.T) {
	calls := 0
	cfg := retryConfig{baseDelay: time.Millisecond, maxDelay: time.Millisecond}
	err := retryOp(cfg, func() error {
		calls++
		return errors.New("database is locked")
	})
	if err == nil || calls != 1 {
		t.Fatalf("got %v after %d calls, want an error after 1", err, calls)
	}
}

func TestBackoffDelay(t *testing.T) {
	cfg := retryConfig{baseDelay: 50 * time.Millisecond, maxDelay: 500 * time.Millisecond}
	for attempt, lo := range []time.Duration{50, 100, 200, 400, 500, 500} {
		lo *= time.Millisecond
		d := backoffDelay(cfg, attempt)
		if d < lo || d >= lo+cfg.baseDelay {
			t.Errorf("attempt %d: got %v, want [%v, %v)", attempt, d, lo, lo+cfg.baseDelay)
		}
	}
}

func TestBackoffDelay_LargeAttemptStaysCapped(t *testing.T) {
	cfg := retryConfig{baseDelay: 100 * time.Millisecond, maxDelay: 200 * time.Millisecond}
	if d := backoffDelay(cfg, 70); d < 200*time.Millisecond || d >= 300*time.Millisecond {
		t.Fatalf("got %v, want [200ms, 300ms)", d)
	}
}
