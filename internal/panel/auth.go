package panel

import (
	"context"
	"errors"

	"resellbot/internal/credcache"
)

// withAuthRetry runs call with the cached credential for serverID. When stale
// reports the failure as a rejected credential the entry is invalidated and one
// fresh login is tried before the error is surfaced. One re-login per logical
// operation is the ceiling.
func withAuthRetry(ctx context.Context, loader *credcache.Loader, serverID uint, login credcache.LoginFunc, stale func(error) bool, call func(credcache.Artifact) error) error {
	cred, err := loader.Obtain(ctx, serverID, login)
	if err != nil {
		return err
	}
	err = call(cred)
	if err == nil || !stale(err) {
		return err
	}

	loader.Invalidate(ctx, serverID)
	cred, err = loader.Obtain(ctx, serverID, login)
	if err != nil {
		return err
	}
	return call(cred)
}

func authRejected(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

// loginError re-tags a failed login as ErrAuthentication. Transport failures keep ErrNetwork.
func loginError(op string, err error) error {
	if errors.Is(err, ErrNetwork) {
		return err
	}
	var pe *Error
	if errors.As(err, &pe) {
		return &Error{Kind: ErrAuthentication, Op: op, Status: pe.Status, Detail: pe.Detail}
	}
	return &Error{Kind: ErrAuthentication, Op: op, Err: err}
}
