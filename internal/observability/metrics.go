package observability

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// Metrics is the in-process registry for the intake funnel. The classifier
// counters exist to catch upstream phrasing drift: the generation override
// is a fuzzy patch, and a falling fired/not-fired ratio is the only early
// warning that new phrasings are slipping past it.
type Metrics struct {
	chatTurns           *CounterVec
	classifierDecisions *CounterVec
	reconcileFixes      *CounterVec
	sessionsCreated     *Counter
	sessionsResumed     *Counter
	sessionsAbandoned   *Counter
	ideaRuns            *CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		chatTurns:           NewCounterVec("tn_chat_turns_total", "Chat turns by outcome.", []string{"outcome"}),
		classifierDecisions: NewCounterVec("tn_generation_classifier_total", "Generation-announcement classifier decisions per turn.", []string{"fired"}),
		reconcileFixes:      NewCounterVec("tn_reconcile_corrections_total", "Stale-metadata corrections applied on session load.", []string{"rule"}),
		sessionsCreated:     NewCounter("tn_sessions_created_total", "Sessions created."),
		sessionsResumed:     NewCounter("tn_sessions_resumed_total", "Sessions resumed."),
		sessionsAbandoned:   NewCounter("tn_sessions_abandoned_total", "Stale intake sessions flagged by the sweeper."),
		ideaRuns:            NewCounterVec("tn_idea_runs_total", "Idea generation runs by outcome.", []string{"outcome"}),
	}
}

func (m *Metrics) ChatTurn(outcome string) {
	if m == nil {
		return
	}
	m.chatTurns.Inc(outcome)
}

func (m *Metrics) ClassifierDecision(fired bool) {
	if m == nil {
		return
	}
	if fired {
		m.classifierDecisions.Inc("true")
		return
	}
	m.classifierDecisions.Inc("false")
}

func (m *Metrics) ReconcileFix(rule string) {
	if m == nil {
		return
	}
	m.reconcileFixes.Inc(rule)
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

func (m *Metrics) SessionResumed() {
	if m == nil {
		return
	}
	m.sessionsResumed.Inc()
}

func (m *Metrics) SessionsAbandoned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsAbandoned.Add(float64(n))
}

func (m *Metrics) IdeaRun(outcome string) {
	if m == nil {
		return
	}
	m.ideaRuns.Inc(outcome)
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.Status(http.StatusOK)
		w := c.Writer
		_ = m.chatTurns.WritePrometheus(w)
		_ = m.classifierDecisions.WritePrometheus(w)
		_ = m.reconcileFixes.WritePrometheus(w)
		_ = m.sessionsCreated.WritePrometheus(w)
		_ = m.sessionsResumed.WritePrometheus(w)
		_ = m.sessionsAbandoned.WritePrometheus(w)
		_ = m.ideaRuns.WritePrometheus(w)
	}
}

type CounterVec struct {
	name       string
	help       string
	labelNames []string
	mu         sync.RWMutex
	values     map[string]float64
}

func NewCounterVec(name, help string, labels []string) *CounterVec {
	return &CounterVec{name: name, help: help, labelNames: labels, values: map[string]float64{}}
}

func (c *CounterVec) Inc(values ...string) {
	if c == nil {
		return
	}
	lbl := labelString(c.labelNames, values)
	c.mu.Lock()
	c.values[lbl]++
	c.mu.Unlock()
}

func (c *CounterVec) Value(values ...string) float64 {
	if c == nil {
		return 0
	}
	lbl := labelString(c.labelNames, values)
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[lbl]
}

func (c *CounterVec) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s counter\n", c.name); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, v := range c.values {
		if _, err := fmt.Fprintf(w, "%s%s %f\n", c.name, k, v); err != nil {
			return err
		}
	}
	return nil
}

type Counter struct {
	name string
	help string
	mu   sync.RWMutex
	val  float64
}

func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help}
}

func (c *Counter) Inc() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.val++
	c.mu.Unlock()
}

func (c *Counter) Add(v float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.val += v
	c.mu.Unlock()
}

func (c *Counter) Value() float64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.val
}

func (c *Counter) WritePrometheus(w io.Writer) error {
	if c == nil {
		return nil
	}
	if _, err := fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s counter\n", c.name); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, err := fmt.Fprintf(w, "%s %f\n", c.name, c.val)
	return err
}

func labelString(names []string, values []string) string {
	if len(names) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("{")
	for i, name := range names {
		if i > 0 {
			b.WriteString(",")
		}
		val := "unknown"
		if i < len(values) {
			val = values[i]
		}
		b.WriteString(name)
		b.WriteString("=\"")
		b.WriteString(escapeLabel(val))
		b.WriteString("\"")
	}
	b.WriteString("}")
	return b.String()
}

func escapeLabel(v string) string {
	if v == "" {
		return ""
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	v = strings.ReplaceAll(v, "\n", `\n`)
	return v
}
