// Package license validates access keys and activates them against the
// licensing service. The engine validates a key once at construction and
// renews the resulting lease when it expires.
package license

import (
	"context"
	"strings"
	"time"

	"github.com/xaionaro-go/enhancer/pkg/status"
)

const accessKeyMinLength = 8

const accessKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/="

// ValidateAccessKeyFormat performs the syntactic (offline) part of access-key
// validation.
func ValidateAccessKeyFormat(accessKey string) error {
	if accessKey == "" {
		return status.Errorf(status.KindInvalidArgument, "the access key is empty")
	}
	if len(accessKey) < accessKeyMinLength {
		return status.Errorf(status.KindInvalidArgument, "the access key is too short: %d < %d", len(accessKey), accessKeyMinLength)
	}
	for idx := 0; idx < len(accessKey); idx++ {
		if !strings.ContainsRune(accessKeyAlphabet, rune(accessKey[idx])) {
			return status.Errorf(status.KindInvalidArgument, "the access key contains a character outside of the base64 alphabet at position %d", idx)
		}
	}
	return nil
}

// Lease is a granted right to run the engine. The zero ExpiresAt means the
// lease never expires.
type Lease struct {
	ExpiresAt time.Time
}

func (l Lease) Valid(now time.Time) bool {
	if l.ExpiresAt.IsZero() {
		return true
	}
	return now.Before(l.ExpiresAt)
}

// Validator activates an access key and grants a lease. Implementations:
// Client (the licensing service) and Offline (syntactic checks only).
type Validator interface {
	Activate(ctx context.Context, accessKey string) (Lease, error)
}

// Offline is a Validator for air-gapped deployments: it checks the key format
// only and grants a non-expiring lease.
type Offline struct{}

var _ Validator = Offline{}

func (Offline) Activate(_ context.Context, accessKey string) (Lease, error) {
	if err := ValidateAccessKeyFormat(accessKey); err != nil {
		return Lease{}, status.Wrap(err, "unable to validate the access key")
	}
	return Lease{}, nil
}
