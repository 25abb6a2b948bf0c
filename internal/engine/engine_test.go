package engine

// Shared in-memory fixtures for engine tests: a mock store, probe fakes,
// and constellation builders.

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/constellate-io/constellate/internal/graph"
	"github.com/constellate-io/constellate/internal/llm"
	"github.com/constellate-io/constellate/internal/probes"
	"github.com/constellate-io/constellate/internal/store"
	"github.com/constellate-io/constellate/pkg/schema"
)

// mockStore is a thread-safe in-memory store.Store.
type mockStore struct {
	mu             sync.Mutex
	constellations map[string]*store.ConstellationRecord
	directives     map[string]*store.DirectiveRecord
	runs           map[string]*store.RunRecord
	nodeOutputs    map[string]map[string]*store.NodeOutputRecord
	events         []*store.RunEvent
	jobs           map[string]*store.ScheduledJob
	seq            map[string]int64
	nextEventID    int64
}

func newMockStore() *mockStore {
	return &mockStore{
		constellations: make(map[string]*store.ConstellationRecord),
		directives:     make(map[string]*store.DirectiveRecord),
		runs:           make(map[string]*store.RunRecord),
		nodeOutputs:    make(map[string]map[string]*store.NodeOutputRecord),
		jobs:           make(map[string]*store.ScheduledJob),
		seq:            make(map[string]int64),
	}
}

func (m *mockStore) SaveConstellation(_ context.Context, rec *store.ConstellationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.constellations[rec.ID] = &cp
	return nil
}

func (m *mockStore) GetConstellation(_ context.Context, id string) (*store.ConstellationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.constellations[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "constellation %q not found", id)
	}
	cp := *rec
	return &cp, nil
}

func (m *mockStore) ListConstellations(_ context.Context, _ store.ConstellationFilter) ([]*store.ConstellationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.ConstellationRecord
	for _, rec := range m.constellations {
		out = append(out, rec)
	}
	return out, nil
}

func (m *mockStore) DeleteConstellation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.constellations, id)
	return nil
}

func (m *mockStore) SaveDirective(_ context.Context, rec *store.DirectiveRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.directives[rec.ID] = &cp
	return nil
}

func (m *mockStore) GetDirective(_ context.Context, id string) (*store.DirectiveRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.directives[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "directive %q not found", id)
	}
	cp := *rec
	return &cp, nil
}

func (m *mockStore) ListDirectives(_ context.Context) ([]*store.DirectiveRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.DirectiveRecord
	for _, rec := range m.directives {
		out = append(out, rec)
	}
	return out, nil
}

func (m *mockStore) DeleteDirective(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.directives, id)
	return nil
}

func (m *mockStore) CreateRun(_ context.Context, run *store.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[run.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "run %q already exists", run.ID)
	}
	cp := *run
	cp.CreatedAt = time.Now().UTC()
	m.runs[run.ID] = &cp
	return nil
}

func (m *mockStore) GetRun(_ context.Context, id string) (*store.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.runs[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", id)
	}
	cp := *rec
	return &cp, nil
}

func (m *mockStore) UpdateRun(_ context.Context, id string, update store.RunUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.runs[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", id)
	}
	if update.Status != nil {
		rec.Status = *update.Status
	}
	if update.Variables != nil {
		rec.Variables = update.Variables
	}
	if update.FinalOutput != nil {
		rec.FinalOutput = *update.FinalOutput
	}
	if update.Error != nil {
		rec.Error = *update.Error
	}
	if update.LoopCount != nil {
		rec.LoopCount = *update.LoopCount
	}
	if update.AwaitingNodeID != nil {
		rec.AwaitingNodeID = *update.AwaitingNodeID
	}
	if update.AwaitingPrompt != nil {
		rec.AwaitingPrompt = *update.AwaitingPrompt
	}
	if update.StartedAt != nil {
		rec.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		rec.CompletedAt = update.CompletedAt
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *mockStore) ListRuns(_ context.Context, _ store.RunFilter) ([]*store.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.RunRecord
	for _, rec := range m.runs {
		out = append(out, rec)
	}
	return out, nil
}

func (m *mockStore) DeleteRun(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, id)
	delete(m.nodeOutputs, id)
	return nil
}

func (m *mockStore) UpsertNodeOutput(_ context.Context, runID string, output *store.NodeOutputRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nodeOutputs[runID] == nil {
		m.nodeOutputs[runID] = make(map[string]*store.NodeOutputRecord)
	}
	cp := *output
	cp.RunID = runID
	m.nodeOutputs[runID][output.NodeID] = &cp
	return nil
}

func (m *mockStore) ListNodeOutputs(_ context.Context, runID string) ([]*store.NodeOutputRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.NodeOutputRecord
	for _, rec := range m.nodeOutputs[runID] {
		out = append(out, rec)
	}
	return out, nil
}

func (m *mockStore) AppendEvent(_ context.Context, event *store.RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[event.RunID]++
	m.nextEventID++
	cp := *event
	cp.ID = m.nextEventID
	cp.Sequence = m.seq[event.RunID]
	cp.Timestamp = time.Now().UTC()
	m.events = append(m.events, &cp)
	return nil
}

func (m *mockStore) GetEvents(_ context.Context, runID string, since int64) ([]*store.RunEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.RunEvent
	for _, ev := range m.events {
		if ev.RunID == runID && ev.Sequence > since {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *mockStore) GetEventsByType(_ context.Context, eventType string, filter store.EventFilter) ([]*store.RunEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.RunEvent
	for _, ev := range m.events {
		if ev.Type != eventType {
			continue
		}
		if filter.RunID != "" && ev.RunID != filter.RunID {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (m *mockStore) CreateScheduledJob(_ context.Context, job *store.ScheduledJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *mockStore) GetScheduledJob(_ context.Context, id string) (*store.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "scheduled job %q not found", id)
	}
	cp := *job
	return &cp, nil
}

func (m *mockStore) UpdateScheduledJob(_ context.Context, id string, update store.ScheduledJobUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "scheduled job %q not found", id)
	}
	if update.Enabled != nil {
		job.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		job.LastRunAt = update.LastRunAt
	}
	if update.NextRunAt != nil {
		job.NextRunAt = update.NextRunAt
	}
	if update.LastRunStatus != "" {
		job.LastRunStatus = update.LastRunStatus
	}
	return nil
}

func (m *mockStore) ListScheduledJobs(_ context.Context, filter store.ScheduledJobFilter) ([]*store.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.ScheduledJob
	for _, job := range m.jobs {
		if filter.Enabled != nil && job.Enabled != *filter.Enabled {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

func (m *mockStore) DeleteScheduledJob(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	return nil
}

func (m *mockStore) Migrate(_ context.Context) error { return nil }
func (m *mockStore) Vacuum(_ context.Context) error  { return nil }
func (m *mockStore) Close() error                    { return nil }

// eventTypes returns the ordered event types recorded for a run.
func (m *mockStore) eventTypes(runID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, ev := range m.events {
		if ev.RunID == runID {
			out = append(out, ev.Type)
		}
	}
	return out
}

// countEvents returns how many events of the given type a run recorded.
func (m *mockStore) countEvents(runID, eventType string) int {
	n := 0
	for _, t := range m.eventTypes(runID) {
		if t == eventType {
			n++
		}
	}
	return n
}

// nodeStatus returns the persisted status of a node, or "" when absent.
func (m *mockStore) nodeStatus(runID, nodeID string) schema.NodeStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.nodeOutputs[runID][nodeID]; ok {
		return rec.Status
	}
	return ""
}

// --- Probe fakes ---

type fakeProbe struct {
	name  string
	fn    func(ctx context.Context, args map[string]any) (any, error)
	mu    sync.Mutex
	calls int
}

func (p *fakeProbe) Name() string        { return p.name }
func (p *fakeProbe) Description() string { return "test probe " + p.name }
func (p *fakeProbe) Parameters() map[string]any {
	return map[string]any{"type": "object"}
}

func (p *fakeProbe) Invoke(ctx context.Context, args map[string]any) (any, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.fn != nil {
		return p.fn(ctx, args)
	}
	return "ok", nil
}

func (p *fakeProbe) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// --- LLM fakes ---

// verdictClient wraps the mock client, answering eval prompts from a
// scripted verdict queue and synthesis prompts with a fixed text. The
// prefix dispatch keeps full-pipeline tests deterministic where substring
// matching would be ambiguous. All other prompts pass through.
type verdictClient struct {
	*llm.MockClient
	mu        sync.Mutex
	verdicts  []string
	synthesis string
}

func newVerdictClient(verdicts ...string) *verdictClient {
	return &verdictClient{MockClient: llm.NewMockClient(), verdicts: verdicts}
}

func (c *verdictClient) Invoke(ctx context.Context, req llm.Request) (*llm.Response, error) {
	var prompt string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			prompt = req.Messages[i].Content
			break
		}
	}
	if strings.HasPrefix(prompt, "Success criteria:") {
		c.mu.Lock()
		if len(c.verdicts) > 0 {
			v := c.verdicts[0]
			c.verdicts = c.verdicts[1:]
			c.mu.Unlock()
			return &llm.Response{Text: v, StopReason: llm.StopReasonStop}, nil
		}
		c.mu.Unlock()
	}
	if c.synthesis != "" && strings.HasPrefix(prompt, "Combine the following results") {
		return &llm.Response{Text: c.synthesis, StopReason: llm.StopReasonStop}, nil
	}
	return c.MockClient.Invoke(ctx, req)
}

// --- Constellation fixtures ---

// pipelineConstellation is the canonical plan -> execute -> check -> report
// shape, with a loop edge from check back to execute.
func pipelineConstellation() *schema.Constellation {
	return &schema.Constellation{
		ID:   "c-research",
		Name: "research pipeline",
		Stars: []schema.Star{
			{ID: "plan", Name: "Plan research", Kind: schema.StarPlanning, DirectiveID: "d-plan"},
			{ID: "exec", Name: "Execute tasks", Kind: schema.StarExecution, DirectiveID: "d-exec"},
			{ID: "check", Name: "Check results", Kind: schema.StarEval, DirectiveID: "d-eval"},
			{ID: "report", Name: "Write report", Kind: schema.StarSynthesis, DirectiveID: "d-synth"},
		},
		Edges: []schema.Edge{
			{Source: schema.NodeStart, Target: "plan"},
			{Source: "plan", Target: "exec"},
			{Source: "exec", Target: "check"},
			{Source: "check", Target: "report", Condition: schema.ConditionContinue},
			{Source: "check", Target: "exec", Condition: schema.ConditionLoop},
			{Source: "report", Target: schema.NodeEnd},
		},
	}
}

// workerConstellation is a single worker star between Start and End.
func workerConstellation(star schema.Star) *schema.Constellation {
	return &schema.Constellation{
		ID:    "c-single",
		Name:  "single worker",
		Stars: []schema.Star{star},
		Edges: []schema.Edge{
			{Source: schema.NodeStart, Target: star.ID},
			{Source: star.ID, Target: schema.NodeEnd},
		},
	}
}

// seedConstellation persists a constellation and a stock directive for every
// directive id its stars reference.
func seedConstellation(ms *mockStore, c *schema.Constellation) {
	ctx := context.Background()
	_ = ms.SaveConstellation(ctx, &store.ConstellationRecord{ID: c.ID, Name: c.Name, Definition: *c})
	seen := map[string]bool{}
	for _, star := range c.Stars {
		if star.DirectiveID == "" || seen[star.DirectiveID] {
			continue
		}
		seen[star.DirectiveID] = true
		_ = ms.SaveDirective(ctx, &store.DirectiveRecord{
			ID: star.DirectiveID,
			Directive: schema.Directive{
				ID:      star.DirectiveID,
				Name:    star.DirectiveID,
				Content: "You are the " + star.Name + " star.",
			},
		})
	}
}

// newTestContext builds an ExecContext over a seeded constellation.
func newTestContext(c *schema.Constellation, ms *mockStore, probeReg *probes.Registry) *ExecContext {
	if probeReg == nil {
		probeReg = probes.NewRegistry()
	}
	return NewExecContext("run-1", c, graph.New(c), NewStoreRegistry(ms), probeReg, nil)
}
