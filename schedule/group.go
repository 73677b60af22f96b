// Package schedule bounds concurrent fetch work and collapses duplicate
// in-flight requests.
//
// A Group is long-lived and shared by every caller that should coalesce
// identical requests; a Pool lives for one batch and bounds how many
// workers run at once.
package schedule

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// Group collapses concurrent calls with the same key into one call.
// The zero value is ready to use.
type Group struct {
	flight singleflight.Group
}

// Do runs fn for key unless a call for key is already in flight, in which
// case it waits for that call's result. shared reports whether the result
// was delivered to more than one caller.
//
// fn runs with a context that is not canceled when the first caller's ctx
// is, so one caller giving up does not fail the others; fn must bound its
// own runtime. A caller whose ctx ends while waiting returns ctx.Err().
func Do[T any](ctx context.Context, g *Group, key string, fn func(ctx context.Context) (T, error)) (v T, shared bool, err error) {
	detached := context.WithoutCancel(ctx)
	ch := g.flight.DoChan(key, func() (any, error) {
		return fn(detached)
	})

	select {
	case <-ctx.Done():
		return v, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return v, res.Shared, res.Err
		}
		out, ok := res.Val.(T)
		if !ok && res.Val != nil {
			return v, res.Shared, fmt.Errorf("single-flight %s: unexpected result type %T", key, res.Val)
		}
		return out, res.Shared, nil
	}
}

// Forget drops key so the next Do starts a new call even if one is in
// flight.
func (g *Group) Forget(key string) {
	g.flight.Forget(key)
}
