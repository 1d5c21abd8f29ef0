// Package system manages the lifecycle of background components such as the
// scheduled stale pending report.
package system

import "context"

// Service is a lifecycle-managed component. The manager starts and stops
// services deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
