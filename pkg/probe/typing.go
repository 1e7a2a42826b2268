package probe

import (
	"context"
	"fmt"
	"time"
)

// Default typing cadence.
const (
	DefaultCharDelay   = 60 * time.Millisecond
	DefaultSettleDelay = 200 * time.Millisecond
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil || d <= 0 {
		return err
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TypingOptions controls TypeText's cadence.
type TypingOptions struct {
	CharDelay   time.Duration
	SettleDelay time.Duration
	Sleep       SleepFunc
}

func (o TypingOptions) withDefaults() TypingOptions {
	if o.CharDelay == 0 {
		o.CharDelay = DefaultCharDelay
	}
	if o.SettleDelay == 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.Sleep == nil {
		o.Sleep = Sleep
	}
	return o
}

// TypeText clears el and enters text one character at a time, firing an
// input event after every character and a blur event at the end. Pages
// that validate on incremental input events see the same sequence a person
// would produce.
func TypeText(ctx context.Context, el Element, text string, opts TypingOptions) error {
	opts = opts.withDefaults()

	if err := el.SetValue(""); err != nil {
		return fmt.Errorf("clear field: %w", err)
	}

	for _, r := range text {
		if err := el.AppendValue(string(r)); err != nil {
			return fmt.Errorf("type %q: %w", r, err)
		}
		if err := el.DispatchEvent("input"); err != nil {
			return fmt.Errorf("input event: %w", err)
		}
		if err := opts.Sleep(ctx, opts.CharDelay); err != nil {
			return err
		}
	}

	if err := el.DispatchEvent("blur"); err != nil {
		return fmt.Errorf("blur event: %w", err)
	}
	return opts.Sleep(ctx, opts.SettleDelay)
}
