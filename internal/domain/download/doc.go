// Package download selects courses and runs bulk download jobs.
//
// Selection helpers (Filter, Toggle, SelectAllFiltered, ClearSelection,
// SelectedCourses, ArchiveName) are pure functions over course lists.
//
// The Orchestrator owns the single download job:
//
//	Idle -> Enumerating -> Downloading -> Packaging -> Succeeded
//	                 \____________\____________\_____> Failed
//
// Enumeration asks the backend client for every file of the chosen courses
// in one call; packaging streams them into a ZIP while the client reports
// progress. Progress is relayed to the caller as reported, and every job
// ends by resetting progress to 0 so displays never show a stale bar.
//
// Example Usage:
//
//	orch := download.NewOrchestrator(kv, logger)
//	courses, _ := orch.LoadCourses(ctx, handle)
//	sel := download.SelectAllFiltered(orch.LoadSelection(), download.Filter(courses, "cs"))
//	archive, err := orch.Submit(ctx, handle, courses, sel, func(p float64) {
//	    fmt.Printf("\r%3.0f%%", p)
//	})
package download
