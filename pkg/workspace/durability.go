package workspace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pocketdb/internal/metrics"
	"pocketdb/internal/snapshot"
)

// CommitChanges persists the whole store. In synchronous mode it returns
// once the sink holds the snapshot. In asynchronous mode it exports the
// store on the calling goroutine, dispatches the write and returns; a
// dispatched write that is no longer the latest when it runs is skipped.
// Background failures surface from Flush and Close.
func (w *Workspace) CommitChanges(ctx context.Context) error {
	if !w.async {
		if w.closed.Load() {
			return ErrClosed
		}
		return w.commit(ctx)
	}

	w.dispatchMu.Lock()
	defer w.dispatchMu.Unlock()
	if w.closed.Load() {
		return ErrClosed
	}
	// the token is drawn under the same read lock as the export so a reload
	// or reset either precedes both or supersedes both
	w.mu.RLock()
	snap, err := w.store.Export()
	token := w.token.Add(1)
	w.mu.RUnlock()
	if err != nil {
		w.metrics.Commit(metrics.CommitFailed, 0, 0)
		return fmt.Errorf("workspace: export: %w", err)
	}

	w.pending.Add(1)
	bg := context.WithoutCancel(ctx)
	go func() {
		defer w.pending.Done()
		w.commitMu.Lock()
		defer w.commitMu.Unlock()
		if err := w.writeLocked(bg, token, snap); err != nil {
			w.errMu.Lock()
			w.asyncErr = err
			w.errMu.Unlock()
		}
	}()
	return nil
}

// Flush waits for dispatched commits and returns the most recent background
// failure, clearing it.
func (w *Workspace) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	w.errMu.Lock()
	defer w.errMu.Unlock()
	err := w.asyncErr
	w.asyncErr = nil
	return err
}

// commit exports and writes the store synchronously.
func (w *Workspace) commit(ctx context.Context) error {
	w.commitMu.Lock()
	defer w.commitMu.Unlock()
	w.mu.RLock()
	snap, err := w.store.Export()
	w.mu.RUnlock()
	if err != nil {
		w.metrics.Commit(metrics.CommitFailed, 0, 0)
		return fmt.Errorf("workspace: export: %w", err)
	}
	return w.writeLocked(ctx, 0, snap)
}

// writeLocked encodes and saves snap. token 0 marks a synchronous commit,
// which is never skipped. commitMu must be held.
func (w *Workspace) writeLocked(ctx context.Context, token uint64, snap snapshot.Snapshot) error {
	if token != 0 && token != w.token.Load() {
		w.log.Debug("skipping superseded commit", zap.Uint64("token", token), zap.Uint64("latest", w.token.Load()))
		w.metrics.Commit(metrics.CommitSkipped, 0, 0)
		return nil
	}
	start := time.Now()
	blob, err := snapshot.Encode(snap)
	if err != nil {
		w.metrics.Commit(metrics.CommitFailed, 0, 0)
		return fmt.Errorf("workspace: encode: %w", err)
	}
	if err := w.sink.Save(ctx, blob); err != nil {
		w.metrics.Commit(metrics.CommitFailed, 0, 0)
		w.log.Error("commit failed", zap.String("driver", string(w.sink.Driver())), zap.Error(err))
		return fmt.Errorf("workspace: save: %w", err)
	}
	took := time.Since(start)
	w.metrics.Commit(metrics.CommitWritten, took, len(blob))
	w.log.Debug("committed",
		zap.Int("rows", snap.Rows()), zap.Int("bytes", len(blob)), zap.Duration("took", took))
	return nil
}

// ReloadAll replaces the in-memory store with the sink's snapshot. A missing
// snapshot yields an empty store. An unreadable or corrupt one also yields
// an empty store unless the workspace was opened WithStrictReload, in which
// case the error is returned and the store is left empty. Pending background
// commits are invalidated.
func (w *Workspace) ReloadAll(ctx context.Context) error {
	blob, loadErr := w.sink.Load(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.token.Add(1)

	if errors.Is(loadErr, snapshot.ErrNotFound) {
		w.store.Reset()
		w.metrics.Reload(metrics.ReloadMissing, 0)
		w.log.Info("no snapshot found, starting empty", zap.String("driver", string(w.sink.Driver())))
		return nil
	}
	if loadErr != nil {
		return w.failReloadLocked(metrics.ReloadFailed, fmt.Errorf("workspace: load snapshot: %w", loadErr))
	}
	snap, err := snapshot.Decode(blob)
	if err != nil {
		return w.failReloadLocked(metrics.ReloadCorrupt, fmt.Errorf("workspace: decode snapshot: %w", err))
	}
	if err := w.store.Import(snap); err != nil {
		return w.failReloadLocked(metrics.ReloadCorrupt, fmt.Errorf("workspace: import snapshot: %w", errors.Join(snapshot.ErrCorrupt, err)))
	}
	w.metrics.Reload(metrics.ReloadLoaded, len(blob))
	w.log.Debug("snapshot loaded", zap.Int("rows", snap.Rows()), zap.Int("bytes", len(blob)))
	return nil
}

func (w *Workspace) failReloadLocked(outcome string, err error) error {
	w.store.Reset()
	w.metrics.Reload(outcome, 0)
	if w.strict {
		return err
	}
	w.log.Warn("snapshot unreadable, starting empty", zap.String("outcome", outcome), zap.Error(err))
	return nil
}

// ResetDatabase clears the store, invalidates pending background commits and
// removes the persisted snapshot.
func (w *Workspace) ResetDatabase(ctx context.Context) error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.mu.Lock()
	w.store.Reset()
	w.token.Add(1)
	w.mu.Unlock()

	w.commitMu.Lock()
	defer w.commitMu.Unlock()
	if err := w.sink.Remove(ctx); err != nil {
		return fmt.Errorf("workspace: remove snapshot: %w", err)
	}
	w.log.Info("database reset", zap.String("driver", string(w.sink.Driver())))
	return nil
}
