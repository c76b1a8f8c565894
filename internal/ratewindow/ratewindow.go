// Package ratewindow adapts a sliding-window rate limiter to the
// daemon's "have we done this too often in the last N seconds" questions.
// The TCP transport's reconnect backoff is its user.
package ratewindow

import (
	"time"

	"github.com/joeycumines/go-catrate"
)

// Window is a single named sliding-window budget (e.g. "reconnect" or
// "divergence"), backed by a catrate.Limiter configured with one rate.
type Window struct {
	limiter *catrate.Limiter
}

// New returns a Window permitting at most max events per period, across a
// sliding window of that duration.
func New(period time.Duration, max int) *Window {
	return &Window{
		limiter: catrate.NewLimiter(map[time.Duration]int{period: max}),
	}
}

// Allow reports whether another event may be admitted right now for the
// given category (e.g. a channel name or peer address), and, if not, the
// time at which the next one will be.
func (w *Window) Allow(category any) (time.Time, bool) {
	return w.limiter.Allow(category)
}

// Backoff is a convenience wrapper for the single-category case (one
// channel retrying its own connection), returning just the boolean.
type Backoff struct {
	w        *Window
	category any
}

// NewBackoff returns a Backoff that permits at most max reconnect attempts
// per period for a single channel.
func NewBackoff(period time.Duration, max int) *Backoff {
	return &Backoff{w: New(period, max), category: struct{}{}}
}

// Allow reports whether a reconnect attempt may proceed now.
func (b *Backoff) Allow() (time.Time, bool) {
	return b.w.Allow(b.category)
}
