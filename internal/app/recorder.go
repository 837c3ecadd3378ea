package app

import (
	"context"
	"time"

	"threader/internal/eventbus"
	"threader/internal/storage"
	"threader/internal/threader"
	logx "threader/pkg/logx"
)

const appendTimeout = 2 * time.Second

// recordRuns appends a RunRecord for every completed task until ctx is
// done. Events still buffered at shutdown are flushed.
func (a *App) recordRuns(ctx context.Context) error {
	events, unsub := a.bus.Subscribe(256, threader.EventTaskCompleted)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-events:
					if !ok {
						return nil
					}
					a.record(context.Background(), e)
				default:
					return nil
				}
			}
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.record(ctx, e)
		}
	}
}

func (a *App) record(ctx context.Context, e eventbus.Event) {
	ev, ok := e.Data.(threader.TaskEvent)
	if !ok {
		return
	}
	rec := runRecord(ev, a.tasks.kindOf(ev.Name))

	actx, cancel := context.WithTimeout(ctx, appendTimeout)
	defer cancel()
	if err := a.store.AppendRun(actx, rec); err != nil {
		a.log.Warn("run history append failed", logx.String("task", ev.Name), logx.Err(err))
	}
}

func runRecord(ev threader.TaskEvent, kind string) storage.RunRecord {
	return storage.RunRecord{
		Task:       ev.Name,
		TaskID:     ev.ID,
		Kind:       kind,
		Started:    ev.Started,
		Finished:   ev.At,
		Slices:     ev.Slices,
		Iterations: ev.Iterations,
		Elapsed:    ev.Elapsed,
	}
}
