package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fairyhunter13/taskhub/internal/adapter/observability"
	"github.com/fairyhunter13/taskhub/internal/domain"
)

// CheckComponents runs one component-health tick: probe every subsystem
// concurrently, compose the overall status, persist it to the singleton
// status row, and raise alarms for critical components.
func (e *Evaluator) CheckComponents(ctx domain.Context) (domain.SystemHealthReport, error) {
	host := e.snapshot(ctx)

	type probe struct {
		name string
		fn   func(ctx domain.Context) domain.ComponentHealth
	}
	probes := []probe{
		{"database", e.probeDatabase},
		{"broker", e.probeBroker},
		{"system_resources", func(ctx domain.Context) domain.ComponentHealth {
			return e.probeResources(host)
		}},
	}
	if e.ExternalURL != "" {
		probes = append(probes, probe{"external_service", e.probeExternal})
	}

	results := make([]domain.ComponentHealth, len(probes))
	var wg sync.WaitGroup
	for i, p := range probes {
		wg.Add(1)
		go func(i int, p probe) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, probeDeadline)
			defer cancel()
			start := time.Now()
			c := p.fn(pctx)
			c.Name = p.name
			c.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000
			c.LastCheck = e.now()
			results[i] = c
		}(i, p)
	}
	wg.Wait()

	report := composeReport(results, host, e.now(), e.uptimeStart)
	e.mu.Lock()
	e.totalChecks++
	report.TotalChecks = e.totalChecks
	queueHealthy := true
	for _, ok := range e.lastQueueTick {
		if !ok {
			queueHealthy = false
			break
		}
	}
	e.mu.Unlock()

	for _, c := range report.Components {
		observability.ObserveComponentHealth(c.Name, string(c.Status))
		if c.Status != domain.HealthCritical || e.Alarms == nil {
			continue
		}
		alarmType := domain.AlarmSystemError
		if c.Name == "system_resources" {
			alarmType = domain.AlarmResourceExhaustion
		}
		e.Alarms.Raise(ctx, domain.AlarmEvent{
			Type:        alarmType,
			Severity:    domain.SeverityCritical,
			Title:       fmt.Sprintf("Component %s critical", c.Name),
			Description: c.ErrorMessage,
			Component:   c.Name,
			ContextData: c.Details,
		})
	}

	if err := e.persistStatus(ctx, report, queueHealthy); err != nil {
		return report, fmt.Errorf("op=health.CheckComponents: %w", err)
	}
	return report, nil
}

// composeReport folds component verdicts into the overall status: critical
// beats degraded beats healthy; anything unknown without worse findings
// leaves the overall unknown.
func composeReport(components []domain.ComponentHealth, host domain.HostSnapshot, now time.Time, uptimeStart time.Time) domain.SystemHealthReport {
	report := domain.SystemHealthReport{
		Components:    components,
		Timestamp:     now,
		UptimeSeconds: now.Sub(uptimeStart).Seconds(),
		Host:          host,
	}
	allHealthy := len(components) > 0
	for _, c := range components {
		switch c.Status {
		case domain.HealthHealthy:
			report.HealthyCount++
		case domain.HealthDegraded:
			report.DegradedCount++
			allHealthy = false
		case domain.HealthCritical:
			report.CriticalCount++
			allHealthy = false
		default:
			allHealthy = false
		}
	}
	switch {
	case report.CriticalCount > 0:
		report.Overall = domain.HealthCritical
	case report.DegradedCount > 0:
		report.Overall = domain.HealthDegraded
	case allHealthy:
		report.Overall = domain.HealthHealthy
	default:
		report.Overall = domain.HealthUnknown
	}
	return report
}

func (e *Evaluator) persistStatus(ctx domain.Context, report domain.SystemHealthReport, queueHealthy bool) error {
	counts, err := e.Tasks.CountsByStatus(ctx)
	if err != nil {
		return err
	}
	active, err := e.Queues.ActiveAll(ctx)
	if err != nil {
		return err
	}
	update := domain.StatusHealthUpdate{
		Overall:         report.Overall,
		Database:        componentStatus(report.Components, "database"),
		Broker:          componentStatus(report.Components, "broker"),
		Queue:           domain.HealthHealthy,
		IsOperational:   report.Overall != domain.HealthCritical,
		ActiveQueues:    int64(len(active)),
		PendingTasks:    counts[domain.TaskPending],
		ProcessingTasks: counts[domain.TaskProcessing],
		FailedTasks:     counts[domain.TaskFailed],
		CheckedAt:       report.Timestamp,
	}
	if !queueHealthy {
		update.Queue = domain.HealthDegraded
	}
	return e.Status.UpdateHealth(ctx, update)
}

func componentStatus(components []domain.ComponentHealth, name string) domain.HealthStatus {
	for _, c := range components {
		if c.Name == name {
			return c.Status
		}
	}
	return domain.HealthUnknown
}

func (e *Evaluator) probeDatabase(ctx domain.Context) domain.ComponentHealth {
	if e.DBProbe == nil {
		return domain.ComponentHealth{Status: domain.HealthUnknown, ErrorMessage: "no database probe configured"}
	}
	details, err := e.DBProbe(ctx)
	if err != nil {
		return domain.ComponentHealth{
			Status:       domain.HealthCritical,
			ErrorMessage: fmt.Sprintf("database probe failed: %v", err),
			Details:      details,
		}
	}
	return domain.ComponentHealth{Status: domain.HealthHealthy, Details: details}
}

func (e *Evaluator) probeBroker(ctx domain.Context) domain.ComponentHealth {
	if e.BackendPing != nil {
		if err := e.BackendPing(ctx); err != nil {
			return domain.ComponentHealth{
				Status:       domain.HealthCritical,
				ErrorMessage: fmt.Sprintf("result backend unreachable: %v", err),
			}
		}
	}
	workers, err := e.Broker.ActiveWorkers(ctx)
	if err != nil {
		return domain.ComponentHealth{
			Status:       domain.HealthCritical,
			ErrorMessage: fmt.Sprintf("worker inspection failed: %v", err),
		}
	}
	if len(workers) == 0 {
		return domain.ComponentHealth{
			Status:       domain.HealthCritical,
			ErrorMessage: "no active workers",
			Details:      map[string]any{"active_workers": 0},
		}
	}
	types := make(map[string]bool)
	for _, w := range workers {
		for _, t := range w.TaskTypes {
			types[t] = true
		}
	}
	return domain.ComponentHealth{
		Status: domain.HealthHealthy,
		Details: map[string]any{
			"active_workers":   len(workers),
			"registered_types": len(types),
		},
	}
}

func (e *Evaluator) probeResources(host domain.HostSnapshot) domain.ComponentHealth {
	details := map[string]any{
		"cpu_percent":    host.CPUPercent,
		"memory_percent": host.MemoryPercent,
		"disk_percent":   host.DiskPercent,
		"load_1":         host.Load1,
		"cpu_count":      host.CPUCount,
	}
	var issues []string
	status := domain.HealthHealthy
	check := func(value, threshold, bound float64, label string) {
		switch {
		case value >= bound:
			status = domain.HealthCritical
			issues = append(issues, fmt.Sprintf("%s at %.1f%%", label, value))
		case value > threshold:
			if status != domain.HealthCritical {
				status = domain.HealthDegraded
			}
			issues = append(issues, fmt.Sprintf("%s above threshold: %.1f%%", label, value))
		}
	}
	check(host.CPUPercent, e.Thresholds.CPU, cpuCriticalBound, "cpu")
	check(host.MemoryPercent, e.Thresholds.Memory, memCriticalBound, "memory")
	check(host.DiskPercent, e.Thresholds.Disk, diskCriticalBound, "disk")

	c := domain.ComponentHealth{Status: status, Details: details}
	if len(issues) > 0 {
		c.ErrorMessage = joinIssues(issues)
	}
	return c
}

func (e *Evaluator) probeExternal(ctx domain.Context) domain.ComponentHealth {
	req, err := newGetRequest(ctx, e.ExternalURL)
	if err != nil {
		return domain.ComponentHealth{Status: domain.HealthCritical, ErrorMessage: err.Error()}
	}
	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return domain.ComponentHealth{
			Status:       domain.HealthCritical,
			ErrorMessage: fmt.Sprintf("external service unreachable: %v", err),
		}
	}
	defer func() { _ = resp.Body.Close() }()
	details := map[string]any{"status_code": resp.StatusCode, "url": e.ExternalURL}
	switch {
	case resp.StatusCode < 400:
		return domain.ComponentHealth{Status: domain.HealthHealthy, Details: details}
	case resp.StatusCode < 500:
		return domain.ComponentHealth{
			Status:       domain.HealthDegraded,
			ErrorMessage: fmt.Sprintf("external service returned %d", resp.StatusCode),
			Details:      details,
		}
	default:
		return domain.ComponentHealth{
			Status:       domain.HealthCritical,
			ErrorMessage: fmt.Sprintf("external service returned %d", resp.StatusCode),
			Details:      details,
		}
	}
}
