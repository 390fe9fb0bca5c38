package subscriber

import (
	"context"
)

// Poster queues work on the loop goroutine. scheduler.Loop implements it.
type Poster interface {
	Post(fn func())
}

// Target is what a feed drives. slicewindow.Cache implements it.
type Target interface {
	SetPosition(position int)
}

// Subscriber delivers scrub positions from outside the loop goroutine.
type Subscriber interface {
	Subscribe(ctx context.Context, loop Poster, target Target) error
}
