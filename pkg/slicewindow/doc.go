// Package slicewindow implements a sliding-window cache of rendered 2D slices
// for a 3D volume. As the user scrubs through the stack the cache keeps the
// slices around the current position rendered, so stepping to a neighbour is
// usually a hit, and renders missing ones on a background scheduler.
//
// Terminology
//   - Slot: one position of the circular window. It holds a slice position, at
//     most one in-flight task, at most one finished drawable and the source
//     version the drawable was rendered from (its freshness stamp).
//   - Radius: number of slots on each side of the current one; the ring always
//     holds exactly 2*radius+1 slots.
//   - Symbolic drawable: a cheap outline shown whenever the current slot has no
//     drawable yet, so the surface is never blank.
//
// Main components
//   - Cache: owns the ring and the surface state. All of its methods, and the
//     task completion callbacks it registers, run on a single goroutine (the
//     UI loop, see scheduler.Loop).
//   - SlotTask: a cancellable unit of work that renders one slice through a
//     worker.Worker. It only writes its own result fields; the cache moves the
//     result into the slot when the completion callback runs.
//   - Surface and Submitter: the two collaborators the cache drives. Surface
//     shows drawables, Submitter runs tasks and posts completions to the loop.
//
// Repositioning strategy
//   - Full jump: when the new position is further than radius away (or the
//     cache was cleared), every slot is cleared and the window is refilled
//     around the new position. The current slot gets a high priority task,
//     the rest normal priority.
//   - Incremental shift: otherwise the cache walks one slot at a time. Each
//     step retires the slot that falls off the trailing side, re-targets it at
//     the position entering on the leading side and gives it a new task.
//   - After a shift, a cached current drawable is shown immediately (hit).
//     On a miss the symbolic drawable is shown at the new depth, the current
//     slot's task is (re)submitted or raised to high priority and the window
//     grows by the miss increment, up to the maximum radius.
//
// Usage
//  1. Construct a scheduler.Loop and a scheduler.Scheduler and start Run.
//  2. Construct a Cache with New(logger, source, worker, surface, scheduler, cfg, metrics).
//  3. From the loop goroutine call SetPosition as the user scrubs and drain the
//     loop so completions get installed.
//  4. Call Close(ctx) on the loop goroutine to abort and wait for all tasks.
package slicewindow
