// Package push implements the client side of the push subscription lifecycle:
// a coordinator state machine that reconciles the browser's push permission
// and subscription state with the server-side device registry, a keyed
// registry handing out one coordinator per (client URL, storage key) pair,
// the locally persisted subscription record, and the HTTP client for the
// device registry endpoints.
//
// The browser boundary (service worker lookup, push manager) is abstracted
// behind interfaces; hosts embedding this package supply an implementation
// bridging to their actual runtime.
package push
