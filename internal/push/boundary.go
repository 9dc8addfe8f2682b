package push

import (
	"context"

	"github.com/SherClockHolmes/webpush-go"
)

// Permission is the browser's push permission state for a page.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionPrompt  Permission = "prompt"
)

// SubscribeOptions parameterize the push manager's permission query and
// subscribe call.
type SubscribeOptions struct {
	UserVisibleOnly      bool
	ApplicationServerKey string
}

// WorkerResolver looks up the active service worker registration for a scope
// URL. A (nil, nil) return means no registration exists for the scope.
type WorkerResolver interface {
	GetRegistration(ctx context.Context, scope string) (Registration, error)
}

// Registration is the push-capable part of a service worker registration.
type Registration interface {
	// PermissionState queries the current push permission for the options.
	PermissionState(ctx context.Context, opts SubscribeOptions) (Permission, error)

	// Subscribe requests a (re)subscription from the push manager. It may
	// fail when the user rejects the permission prompt.
	Subscribe(ctx context.Context, opts SubscribeOptions) (*webpush.Subscription, error)
}
