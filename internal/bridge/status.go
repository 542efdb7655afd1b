package bridge

import (
	"context"
	"time"

	"github.com/telepair/telebridge/pkg/version"
)

const reportTimeout = 10 * time.Second

// Info returns the current node info.
func (b *Bridge) Info(ctx context.Context) *NodeInfo {
	info := NodeInfo{
		NodeID:     b.identity.NodeID(),
		LocationID: b.identity.LocationID(),
		Version:    version.Get(),
		StartedAt:  b.startedAt,
		UpdatedAt:  time.Now(),
	}
	hostInfo, err := b.hostInfo(ctx)
	if err != nil {
		b.logger.Error("failed to collect host info", "error", err)
	} else {
		info.Host = hostInfo
	}
	return &info
}

// Status returns the current node status.
func (b *Bridge) Status(ctx context.Context) *NodeStatus {
	status := NodeStatus{
		NodeID:       b.identity.NodeID(),
		LocationID:   b.identity.LocationID(),
		Running:      b.running.Load(),
		Identity:     b.transport.Identity(),
		ConfigSynced: b.watcher != nil && b.watcher.Synced(),
		Collectors:   b.registry.Status(),
		StartedAt:    b.startedAt,
		UpdatedAt:    time.Now(),
	}
	if l, err := b.hostLoad(ctx); err == nil {
		status.Load = l
	} else {
		b.logger.Debug("failed to sample host load", "error", err)
	}
	return &status
}

// updateInfo publishes node info to the device bucket.
func (b *Bridge) updateInfo(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()
	key := InfoKeyPrefix + b.identity.NodeID()
	if err := b.devices.PutJSON(ctx, key, b.Info(ctx)); err != nil {
		b.logger.Error("failed to put node info", "key", key, "error", err)
		return
	}
	b.logger.Debug("node info reported")
}

// updateStatus publishes node status to the device bucket.
func (b *Bridge) updateStatus(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()
	key := StatusKeyPrefix + b.identity.NodeID()
	if err := b.devices.PutJSON(ctx, key, b.Status(ctx)); err != nil {
		b.logger.Error("failed to put node status", "key", key, "error", err)
		return
	}
	b.logger.Debug("node status reported")
}

// runReport calls fn now, every interval, and once more on shutdown so
// the bucket reflects the stopped state.
func (b *Bridge) runReport(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fn(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// startReport starts the periodic node reports.
func (b *Bridge) startReport(ctx context.Context) {
	infoEvery := time.Duration(b.config.InfoInterval) * time.Second
	statusEvery := time.Duration(b.config.StatusInterval) * time.Second

	b.wg.Go(func() { b.runReport(ctx, infoEvery, b.updateInfo) })
	b.wg.Go(func() { b.runReport(ctx, statusEvery, b.updateStatus) })

	b.logger.Debug("started periodic node reports",
		"info_interval", infoEvery, "status_interval", statusEvery)
}
