package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// maintenanceCronParser accepts the same field set as the rest of the
// codebase's cron-driven schedulers: optional seconds, standard five
// fields, and named descriptors like "@hourly".
var maintenanceCronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// StartMaintenance runs a background loop that re-reads the MCP registry
// file on the given cron schedule, additive to the explicit reload a
// caller can always trigger by constructing a new Manager from a fresh
// LoadRegistry call. Discovered additions/removals are logged; existing
// connections are left untouched; StartServer/StopServer remain the
// caller's tool for acting on what maintenance discovers.
//
// The returned stop function cancels the loop; it does not call Stop().
func (m *Manager) StartMaintenance(ctx context.Context, registryPath, schedule string) (stop func(), err error) {
	sched, err := maintenanceCronParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("parse maintenance schedule %q: %w", schedule, err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	go m.runMaintenanceLoop(loopCtx, registryPath, sched)
	return cancel, nil
}

func (m *Manager) runMaintenanceLoop(ctx context.Context, registryPath string, sched cron.Schedule) {
	for {
		next := sched.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			m.reloadRegistry(registryPath)
		}
	}
}

func (m *Manager) reloadRegistry(registryPath string) {
	registry, skipped, err := LoadRegistry(registryPath)
	if err != nil {
		m.logger.Warn("maintenance registry reload failed", "path", registryPath, "error", err)
		return
	}
	for _, name := range skipped {
		m.logger.Warn("maintenance reload skipped malformed server entry", "name", name)
	}

	servers := registry.Servers()
	m.mu.Lock()
	existing := make(map[string]bool, len(m.config.Servers))
	for _, cfg := range m.config.Servers {
		existing[cfg.ID] = true
	}
	seen := make(map[string]bool, len(servers))
	var added []string
	for i := range servers {
		seen[servers[i].ID] = true
		if !existing[servers[i].ID] {
			added = append(added, servers[i].ID)
		}
	}
	var removed []string
	for id := range existing {
		if !seen[id] {
			removed = append(removed, id)
		}
	}
	newServers := make([]*ServerConfig, len(servers))
	for i := range servers {
		newServers[i] = &servers[i]
	}
	m.config.Servers = newServers
	m.mu.Unlock()

	if len(added) > 0 || len(removed) > 0 {
		m.logger.Info("mcp registry maintenance reload", "added", added, "removed", removed)
	}
}
