package taskrunner

import (
	"fmt"
	"strings"
	"time"

	"github.com/tyemirov/monorun/internal/scheduler"
)

const (
	summaryTasksTemplate     = " Tasks:    %d successful, %d total\n"
	summaryCachedTemplate    = "Cached:    %d cached, %d total\n"
	summaryTimeTemplate      = "  Time:    %s"
	summaryAllCachedMarker   = " >>> all tasks cached"
	summarySavedTemplate     = " (%s saved)"
	summaryFailedTemplate    = "Failed:    %s\n"
	summarySkippedTemplate   = "Skipped:   %d\n"
	summaryInterruptedLine   = "Interrupted\n"
	planHeaderLine           = "Tasks to run:\n"
	planTaskTemplate         = "  %s\n"
	planFieldTemplate        = "    %-12s = %s\n"
	planHashField            = "Hash"
	planCachedField          = "Cached"
	planCommandField         = "Command"
	planDirectoryField       = "Directory"
	planDependenciesField    = "Dependencies"
	planInputsField          = "Inputs"
	planCacheHitValue        = "HIT"
	planCacheMissValue       = "MISS"
	planCacheDisabledValue   = "DISABLED"
	planNoCommandValue       = "<NONEXISTENT>"
	durationRoundingInterval = time.Millisecond
)

// RenderSummary returns the block printed after a run: success and cache counts, the elapsed
// time, and the failed task names.
func RenderSummary(summary scheduler.Summary) string {
	total := len(summary.Results)
	if total == 0 {
		return ""
	}
	cached := summary.Count(scheduler.StatusCached)
	successful := cached + summary.Count(scheduler.StatusSuccess)

	var builder strings.Builder
	builder.WriteString("\n")
	fmt.Fprintf(&builder, summaryTasksTemplate, successful, total)
	fmt.Fprintf(&builder, summaryCachedTemplate, cached, total)
	fmt.Fprintf(&builder, summaryTimeTemplate, summary.Duration.Round(durationRoundingInterval))
	if saved := summary.SavedDuration(); saved > 0 {
		fmt.Fprintf(&builder, summarySavedTemplate, saved.Round(durationRoundingInterval))
	}
	if summary.AllCached() {
		builder.WriteString(summaryAllCachedMarker)
	}
	builder.WriteString("\n")

	if failures := summary.Failures(); len(failures) > 0 {
		names := make([]string, 0, len(failures))
		for _, failure := range failures {
			names = append(names, failure.ID.String())
		}
		fmt.Fprintf(&builder, summaryFailedTemplate, strings.Join(names, ", "))
	}
	if skipped := summary.Count(scheduler.StatusSkipped); skipped > 0 {
		fmt.Fprintf(&builder, summarySkippedTemplate, skipped)
	}
	if summary.Interrupted {
		builder.WriteString(summaryInterruptedLine)
	}
	return builder.String()
}

// RenderPlan returns the dry-run report listing every planned task with its hash and cache status.
func RenderPlan(plan []scheduler.PlannedTask) string {
	if len(plan) == 0 {
		return ""
	}
	var builder strings.Builder
	builder.WriteString(planHeaderLine)
	for _, task := range plan {
		fmt.Fprintf(&builder, planTaskTemplate, task.ID.String())
		fmt.Fprintf(&builder, planFieldTemplate, planHashField, task.Hash)
		fmt.Fprintf(&builder, planFieldTemplate, planCachedField, planCacheStatus(task))
		command := task.Command
		if len(strings.TrimSpace(command)) == 0 {
			command = planNoCommandValue
		}
		fmt.Fprintf(&builder, planFieldTemplate, planCommandField, command)
		fmt.Fprintf(&builder, planFieldTemplate, planDirectoryField, task.Directory)
		fmt.Fprintf(&builder, planFieldTemplate, planInputsField, fmt.Sprint(task.InputFiles))
		dependencies := make([]string, 0, len(task.Dependencies))
		for _, dependency := range task.Dependencies {
			dependencies = append(dependencies, dependency.String())
		}
		fmt.Fprintf(&builder, planFieldTemplate, planDependenciesField, strings.Join(dependencies, ", "))
	}
	return builder.String()
}

func planCacheStatus(task scheduler.PlannedTask) string {
	switch {
	case !task.Cacheable:
		return planCacheDisabledValue
	case task.CacheHit:
		return planCacheHitValue
	default:
		return planCacheMissValue
	}
}
