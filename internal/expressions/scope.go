package expressions

// RunScope holds all data available for expression evaluation and
// interpolation during a run.
type RunScope struct {
	Variables map[string]any // run variable bindings
	Nodes     map[string]any // node ID -> completed output (as plain data)
	Run       map[string]any // run metadata (run_id, constellation_id, loop_count)
	Query     string         // the original user query
}

// Data flattens the scope into the map shape shared by all engines.
func (s *RunScope) Data() map[string]any {
	if s == nil {
		return map[string]any{}
	}
	vars := s.Variables
	if vars == nil {
		vars = map[string]any{}
	}
	nodes := s.Nodes
	if nodes == nil {
		nodes = map[string]any{}
	}
	run := s.Run
	if run == nil {
		run = map[string]any{}
	}
	return map[string]any{
		"variables": vars,
		"nodes":     nodes,
		"run":       run,
		"query":     s.Query,
	}
}
