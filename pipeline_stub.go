//go:build !linux

package movecam

import "context"

// Video4Linux is Linux-specific; everywhere else the pipeline refuses to
// start.

type Pipeline struct{}

func NewPipeline(cfg Config) (*Pipeline, error) {
	return nil, errNotSupported
}

func (p *Pipeline) Run(ctx context.Context) error { return errNotSupported }
func (p *Pipeline) Close() error                  { return nil }
