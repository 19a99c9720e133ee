package agent

// findCycle returns the wait-for path that closes a cycle through start, or
// nil. edges maps pending agents to their wait-for sets; start's own edges
// are deps. The existing graph is acyclic, so only cycles through start can
// appear.
func findCycle(start string, deps []string, edges map[string][]string) []string {
	next := func(id string) []string {
		if id == start {
			return deps
		}
		return edges[id]
	}

	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int)
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		colors[id] = 1
		path = append(path, id)

		for _, dep := range next(id) {
			if dep == start {
				return append(append([]string(nil), path...), start)
			}
			if colors[dep] == 0 {
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		path = path[:len(path)-1]
		colors[id] = 2
		return nil
	}

	return visit(start)
}
