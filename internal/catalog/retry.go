package catalog

import (
	"context"
	"errors"
	"strings"
	"time"
)

// isBusy reports whether err is a transient SQLite lock error.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}

// retryOnBusy retries fn with exponential backoff when SQLite reports a busy
// or locked database.
func (s *Store) retryOnBusy(ctx context.Context, fn func() error) error {
	attempts := s.retries
	if attempts <= 0 {
		attempts = 1
	}
	backoff := 10 * time.Millisecond
	const maxBackoff = 200 * time.Millisecond

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return err
}
