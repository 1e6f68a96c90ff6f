package recording

import "context"

type captureKey struct{}

func withCapture(ctx context.Context, c *Capture) context.Context {
	return context.WithValue(ctx, captureKey{}, c)
}

func captureFrom(ctx context.Context) (*Capture, bool) {
	c, ok := ctx.Value(captureKey{}).(*Capture)
	return c, ok
}
