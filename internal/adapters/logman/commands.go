package logman

import "fmt"

// Pure argument builders for the logman verbs, kept separate from the exec
// boundary so they can be tested without a Windows host.

// queryArgs lists all data collector sets.
func queryArgs() []string {
	return []string{"query"}
}

// queryDetailArgs shows one data collector set, including its counter list.
func queryDetailArgs(name string) []string {
	return []string{"query", name}
}

// createArgs builds a counter data collector set recording the given
// counters at the given sample interval in seconds.
func createArgs(name string, counters []string, intervalSeconds int) []string {
	args := []string{"create", "counter", name}
	for _, c := range counters {
		args = append(args, "-c", c)
	}
	if intervalSeconds > 0 {
		args = append(args, "-si", formatInterval(intervalSeconds))
	}
	return args
}

func startArgs(name string) []string {
	return []string{"start", name}
}

func stopArgs(name string) []string {
	return []string{"stop", name}
}

func deleteArgs(name string) []string {
	return []string{"delete", name}
}

// formatInterval renders seconds as logman's hh:mm:ss interval form.
func formatInterval(seconds int) string {
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}
