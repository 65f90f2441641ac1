package reportdb

import (
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/banshee-data/cloudscan/internal/pointcloud"
)

const (
	busyMaxAttempts     = 5
	busyInitialInterval = 10 * time.Millisecond
	busyMaxInterval     = 200 * time.Millisecond
)

// isSQLiteBusy reports whether err is a transient lock error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy runs fn, retrying with exponential backoff while it fails
// with SQLITE_BUSY. Other errors are returned unchanged on first sight.
func retryOnBusy(logs *pointcloud.Logger, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = busyInitialInterval
	policy.MaxInterval = busyMaxInterval
	policy.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		err := fn()
		if err != nil && !isSQLiteBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(policy, busyMaxAttempts-1), func(err error, d time.Duration) {
		logs.Diagf("reportdb: database busy, retrying in %s: %v", d, err)
	})
}
