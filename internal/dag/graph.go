package dag

import (
	"fmt"
	"strings"
)

// Task returns the task with the given ID, or nil.
func (d *DAG) Task(id string) *Task {
	for _, t := range d.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Validate checks that task IDs are unique and non-empty, every upstream
// reference exists, every task has a body, and the graph has no cycle.
func (d *DAG) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("dag: ID is required")
	}
	seen := make(map[string]bool, len(d.Tasks))
	for _, t := range d.Tasks {
		if t.ID == "" {
			return fmt.Errorf("dag %s: task with empty ID", d.ID)
		}
		if seen[t.ID] {
			return fmt.Errorf("dag %s: duplicate task %q", d.ID, t.ID)
		}
		if t.Run == nil {
			return fmt.Errorf("dag %s: task %q has no body", d.ID, t.ID)
		}
		seen[t.ID] = true
	}
	for _, t := range d.Tasks {
		for _, up := range t.Upstream {
			if !seen[up] {
				return fmt.Errorf("dag %s: task %q depends on unknown task %q", d.ID, t.ID, up)
			}
		}
	}
	if _, err := d.Order(); err != nil {
		return err
	}
	return nil
}

// Order returns task IDs in a topological order. Among tasks that become ready
// together, declaration order is kept.
func (d *DAG) Order() ([]string, error) {
	indegree := make(map[string]int, len(d.Tasks))
	downstream := make(map[string][]string)
	for _, t := range d.Tasks {
		indegree[t.ID] += 0
		for _, up := range t.Upstream {
			indegree[t.ID]++
			downstream[up] = append(downstream[up], t.ID)
		}
	}

	var order []string
	done := make(map[string]bool, len(d.Tasks))
	for len(order) < len(d.Tasks) {
		progressed := false
		for _, t := range d.Tasks {
			if done[t.ID] || indegree[t.ID] > 0 {
				continue
			}
			done[t.ID] = true
			order = append(order, t.ID)
			for _, down := range downstream[t.ID] {
				indegree[down]--
			}
			progressed = true
		}
		if !progressed {
			var stuck []string
			for _, t := range d.Tasks {
				if !done[t.ID] {
					stuck = append(stuck, t.ID)
				}
			}
			return nil, fmt.Errorf("dag %s: cycle among tasks %s", d.ID, strings.Join(stuck, ", "))
		}
	}
	return order, nil
}

// Describe renders the graph as one "upstream >> task" line per edge,
// with root tasks listed on their own.
func (d *DAG) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (schedule=%s tags=%s)\n", d.ID, d.Schedule, strings.Join(d.Tags, ","))
	order, err := d.Order()
	if err != nil {
		fmt.Fprintf(&b, "  invalid: %v\n", err)
		return b.String()
	}
	for _, id := range order {
		t := d.Task(id)
		if len(t.Upstream) == 0 {
			fmt.Fprintf(&b, "  %s\n", id)
			continue
		}
		fmt.Fprintf(&b, "  [%s] >> %s\n", strings.Join(t.Upstream, ", "), id)
	}
	return b.String()
}
