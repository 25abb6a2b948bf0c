package schema

// Reserved node IDs for the structural endpoints of every constellation.
const (
	NodeStart = "start"
	NodeEnd   = "end"
)

// Execution-constraint bounds and defaults.
const (
	MinLoopIterations     = 1
	MaxLoopIterations     = 10
	DefaultLoopIterations = 3

	MinRetryAttempts     = 0
	MaxRetryAttempts     = 5
	DefaultRetryAttempts = 3

	MinRetryDelayBase     = 0.5
	MaxRetryDelayBase     = 10.0
	DefaultRetryDelayBase = 2.0
)

// Constellation is the immutable description of a workflow graph:
// a single Start node, a single End node, Star nodes, Edges, and
// execution-constraint parameters.
type Constellation struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Stars []Star `json:"stars"`
	Edges []Edge `json:"edges"`

	MaxLoopIterations int `json:"max_loop_iterations,omitempty"` // 1-10, default 3

	// MaxRetryAttempts is a pointer because zero is a legal value: nil means
	// unset and takes the default, an explicit 0 disables retries.
	MaxRetryAttempts *int `json:"max_retry_attempts,omitempty"` // 0-5, default 3

	RetryDelayBase float64 `json:"retry_delay_base,omitempty"` // seconds, 0.5-10.0, default 2.0

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Normalize clamps the execution-constraint parameters into their valid
// ranges, applying defaults where unset.
func (c *Constellation) Normalize() {
	if c.MaxLoopIterations == 0 {
		c.MaxLoopIterations = DefaultLoopIterations
	}
	if c.MaxLoopIterations < MinLoopIterations {
		c.MaxLoopIterations = MinLoopIterations
	}
	if c.MaxLoopIterations > MaxLoopIterations {
		c.MaxLoopIterations = MaxLoopIterations
	}
	if c.MaxRetryAttempts == nil {
		attempts := DefaultRetryAttempts
		c.MaxRetryAttempts = &attempts
	}
	if *c.MaxRetryAttempts < MinRetryAttempts {
		*c.MaxRetryAttempts = MinRetryAttempts
	}
	if *c.MaxRetryAttempts > MaxRetryAttempts {
		*c.MaxRetryAttempts = MaxRetryAttempts
	}
	if c.RetryDelayBase == 0 {
		c.RetryDelayBase = DefaultRetryDelayBase
	}
	if c.RetryDelayBase < MinRetryDelayBase {
		c.RetryDelayBase = MinRetryDelayBase
	}
	if c.RetryDelayBase > MaxRetryDelayBase {
		c.RetryDelayBase = MaxRetryDelayBase
	}
}

// RetryAttempts returns the effective retry budget, falling back to the
// default when the field was never set.
func (c *Constellation) RetryAttempts() int {
	if c.MaxRetryAttempts == nil {
		return DefaultRetryAttempts
	}
	return *c.MaxRetryAttempts
}

// StarByID returns the star with the given node ID, or nil.
func (c *Constellation) StarByID(id string) *Star {
	for i := range c.Stars {
		if c.Stars[i].ID == id {
			return &c.Stars[i]
		}
	}
	return nil
}

// EdgeCondition is the optional condition carried by an edge leaving an
// Eval star. Empty means unconditional.
type EdgeCondition string

const (
	ConditionNone     EdgeCondition = ""
	ConditionContinue EdgeCondition = "continue"
	ConditionLoop     EdgeCondition = "loop"
)

// Edge connects two nodes in a constellation. Loop edges are a runtime
// rewind instruction, not a dependency: they are excluded from acyclicity
// checks and topological ordering.
type Edge struct {
	Source    string        `json:"source"`
	Target    string        `json:"target"`
	Condition EdgeCondition `json:"condition,omitempty"`
}

// IsLoop reports whether this edge carries the loop condition.
func (e Edge) IsLoop() bool { return e.Condition == ConditionLoop }

// StarKind enumerates the star variants. Each kind has a distinct
// execution algorithm behind the same execute contract.
type StarKind string

const (
	StarWorker             StarKind = "worker"
	StarPlanning           StarKind = "planning"
	StarExecution          StarKind = "execution"
	StarEval               StarKind = "eval"
	StarSynthesis          StarKind = "synthesis"
	StarDocumentExtraction StarKind = "document_extraction"
)

// ValidStarKinds is the closed set of recognized star kinds.
var ValidStarKinds = map[StarKind]bool{
	StarWorker:             true,
	StarPlanning:           true,
	StarExecution:          true,
	StarEval:               true,
	StarSynthesis:          true,
	StarDocumentExtraction: true,
}

// Star is a typed node performing one unit of work under a directive.
type Star struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Kind        StarKind `json:"kind"`
	DirectiveID string   `json:"directive_id"`
	ProbeIDs    []string `json:"probe_ids,omitempty"`

	// RequiresConfirmation pauses the run before this node executes until
	// an external resume arrives.
	RequiresConfirmation bool   `json:"requires_confirmation,omitempty"`
	ConfirmationPrompt   string `json:"confirmation_prompt,omitempty"`

	// Guard is an optional CEL expression evaluated against the run scope
	// before execution; a false guard skips the node.
	Guard string `json:"guard,omitempty"`

	// MaxIterations bounds the worker tool loop. Zero means the default.
	MaxIterations int `json:"max_iterations,omitempty"`

	Config      map[string]any `json:"config,omitempty"`
	AIGenerated bool           `json:"ai_generated,omitempty"`
	Hidden      bool           `json:"hidden,omitempty"`
}

// Directive is the instruction/prompt template a star executes under.
// Content may contain ${{ ... }} references resolved at execution time.
type Directive struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Content     string   `json:"content"`
	ProbeIDs    []string `json:"probe_ids,omitempty"`
	AIGenerated bool     `json:"ai_generated,omitempty"`
}
