package driver

import (
	"context"
	"errors"
	"time"
)

// PollInterval is how often Locate retries a selector list while waiting.
var PollInterval = 250 * time.Millisecond

// Locate tries sels in order and returns the first match along with the
// selector that produced it. When nothing matches it polls until wait has
// elapsed. Unsupported strategies are skipped.
func Locate(ctx context.Context, s Session, sels []Selector, wait time.Duration) (Element, Selector, bool, error) {
	deadline := time.Now().Add(wait)
	for {
		for _, sel := range sels {
			el, ok, err := s.Find(ctx, sel)
			if errors.Is(err, ErrUnsupportedSelector) {
				continue
			}
			if err != nil {
				return nil, Selector{}, false, err
			}
			if ok {
				return el, sel, true, nil
			}
		}

		if !time.Now().Before(deadline) {
			return nil, Selector{}, false, nil
		}
		select {
		case <-ctx.Done():
			return nil, Selector{}, false, ctx.Err()
		case <-time.After(PollInterval):
		}
	}
}

// LocateAll returns every element of the first selector in sels that yields
// any match, polling until wait has elapsed.
func LocateAll(ctx context.Context, s Session, sels []Selector, wait time.Duration) ([]Element, Selector, error) {
	deadline := time.Now().Add(wait)
	for {
		for _, sel := range sels {
			els, err := s.FindAll(ctx, sel)
			if errors.Is(err, ErrUnsupportedSelector) {
				continue
			}
			if err != nil {
				return nil, Selector{}, err
			}
			if len(els) > 0 {
				return els, sel, nil
			}
		}

		if !time.Now().Before(deadline) {
			return nil, Selector{}, nil
		}
		select {
		case <-ctx.Done():
			return nil, Selector{}, ctx.Err()
		case <-time.After(PollInterval):
		}
	}
}
