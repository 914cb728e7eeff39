// Package script is a deterministic controller that replays a YAML
// playbook of operation steps. It stands in for the model-backed
// controller in scheduled runs and tests.
package script

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/logging"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/protocol"
)

// Step is one requested operation. String arguments are text/templates
// evaluated against the instruction and the payloads of earlier steps,
// keyed by operation name.
type Step struct {
	Operation string         `yaml:"operation"`
	Arguments map[string]any `yaml:"arguments"`
	// SameBatch groups the step with the previous one in a single
	// requires_action batch.
	SameBatch bool `yaml:"same_batch"`
}

// Playbook is an ordered list of steps.
type Playbook struct {
	Name        string `yaml:"name"`
	StopOnError bool   `yaml:"stop_on_error"`
	Steps       []Step `yaml:"steps"`
}

// ErrEmptyPlaybook is returned for a playbook without steps.
var ErrEmptyPlaybook = errors.New("playbook has no steps")

// LoadPlaybook reads a playbook from a YAML file.
func LoadPlaybook(path string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read playbook: %w", err)
	}
	return ParsePlaybook(data)
}

// ParsePlaybook decodes a playbook document.
func ParsePlaybook(data []byte) (*Playbook, error) {
	var pb Playbook
	if err := yaml.Unmarshal(data, &pb); err != nil {
		return nil, fmt.Errorf("parse playbook: %w", err)
	}
	return &pb, nil
}

// Validate checks the playbook against the known operation names.
// A nil known list skips the name check.
func (pb *Playbook) Validate(known []string) error {
	if len(pb.Steps) == 0 {
		return ErrEmptyPlaybook
	}
	names := make(map[string]bool, len(known))
	for _, n := range known {
		names[n] = true
	}
	for i, s := range pb.Steps {
		if s.Operation == "" {
			return fmt.Errorf("step %d: operation is required", i+1)
		}
		if known != nil && !names[s.Operation] {
			return fmt.Errorf("step %d: unknown operation %q", i+1, s.Operation)
		}
		if i == 0 && s.SameBatch {
			return fmt.Errorf("step 1: same_batch needs a previous step")
		}
	}
	return nil
}

// batches splits the steps into requires_action rounds, keeping the global
// step index for correlation ids.
func (pb *Playbook) batches() [][]int {
	var out [][]int
	for i, s := range pb.Steps {
		if s.SameBatch && len(out) > 0 {
			out[len(out)-1] = append(out[len(out)-1], i)
			continue
		}
		out = append(out, []int{i})
	}
	return out
}

// Controller replays a playbook.
type Controller struct {
	playbook *Playbook
	rounds   [][]int

	next    int
	status  protocol.Status
	pending []protocol.Request
	data    map[string]any
	final   string

	succeeded int
	failed    []string
}

// New validates pb and returns a controller for it.
func New(pb *Playbook, known []string) (*Controller, error) {
	if err := pb.Validate(known); err != nil {
		return nil, err
	}
	return &Controller{playbook: pb, rounds: pb.batches()}, nil
}

// Start implements protocol.Controller.
func (c *Controller) Start(ctx context.Context, instruction string) (string, error) {
	c.next = 0
	c.pending = nil
	c.final = ""
	c.succeeded = 0
	c.failed = nil
	c.data = map[string]any{"instruction": instruction}
	c.status = protocol.StatusRunning

	runID := "script_" + uuid.NewString()
	logging.Component("script").Info("playbook started",
		"run_id", runID,
		"playbook", c.playbook.Name,
		"steps", len(c.playbook.Steps),
		"batches", len(c.rounds),
	)
	return runID, nil
}

// Poll implements protocol.Controller. Each poll after a submission
// renders the next batch.
func (c *Controller) Poll(ctx context.Context) (protocol.Snapshot, error) {
	if c.status == protocol.StatusRunning {
		c.advance()
	}
	return protocol.Snapshot{Status: c.status, Pending: c.pending}, nil
}

func (c *Controller) advance() {
	if c.next >= len(c.rounds) {
		c.status = protocol.StatusCompleted
		c.final = c.summary()
		return
	}

	round := c.rounds[c.next]
	reqs := make([]protocol.Request, 0, len(round))
	for _, idx := range round {
		step := c.playbook.Steps[idx]
		args, err := renderArgs(step.Arguments, c.data)
		if err != nil {
			c.status = protocol.StatusFailed
			c.final = fmt.Sprintf("step %d (%s): %v", idx+1, step.Operation, err)
			return
		}
		reqs = append(reqs, protocol.Request{
			CorrelationID: "script_" + strconv.Itoa(idx+1),
			Operation:     step.Operation,
			Arguments:     args,
		})
	}

	c.next++
	c.pending = reqs
	c.status = protocol.StatusRequiresAction
}

// Submit implements protocol.Controller.
func (c *Controller) Submit(ctx context.Context, results []protocol.Result) error {
	if c.status != protocol.StatusRequiresAction {
		return fmt.Errorf("submit: run is %s, not requires_action", c.status)
	}
	if len(results) != len(c.pending) {
		return fmt.Errorf("submit: got %d results for %d requests", len(results), len(c.pending))
	}

	var errs []string
	for _, r := range results {
		if !r.OK() {
			msg := r.Operation
			if r.Error != nil {
				msg += ": " + r.Error.Message
			}
			errs = append(errs, msg)
			continue
		}
		c.succeeded++
		payload, err := plain(r.Payload)
		if err != nil {
			return fmt.Errorf("submit %s: %w", r.Operation, err)
		}
		c.data[r.Operation] = payload
	}
	c.failed = append(c.failed, errs...)
	c.pending = nil

	if len(errs) > 0 && c.playbook.StopOnError {
		c.status = protocol.StatusFailed
		c.final = "stopped on error: " + strings.Join(errs, "; ")
		return nil
	}
	c.status = protocol.StatusRunning
	return nil
}

// FinalMessage implements protocol.Controller.
func (c *Controller) FinalMessage(ctx context.Context) (string, error) {
	return c.final, nil
}

func (c *Controller) summary() string {
	name := c.playbook.Name
	if name == "" {
		name = "playbook"
	}
	if len(c.failed) == 0 {
		return fmt.Sprintf("%s finished: %d operations succeeded", name, c.succeeded)
	}
	return fmt.Sprintf("%s finished: %d operations succeeded, %d failed (%s)",
		name, c.succeeded, len(c.failed), strings.Join(c.failed, "; "))
}

// renderArgs evaluates string templates in args, recursing into lists.
func renderArgs(args map[string]any, data map[string]any) (map[string]any, error) {
	if args == nil {
		return nil, nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		rv, err := renderValue(k, v, data)
		if err != nil {
			return nil, err
		}
		out[k] = rv
	}
	return out, nil
}

func renderValue(name string, v any, data map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		if !strings.Contains(val, "{{") {
			return val, nil
		}
		tmpl, err := template.New(name).Option("missingkey=error").Parse(val)
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", name, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("argument %s: %w", name, err)
		}
		return buf.String(), nil
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			rv, err := renderValue(name, item, data)
			if err != nil {
				return nil, err
			}
			items[i] = rv
		}
		return items, nil
	default:
		return v, nil
	}
}

// plain converts a typed payload into maps and slices so templates can
// address fields by their JSON names.
func plain(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
