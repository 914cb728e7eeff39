// Package gemini adapts Gemini function calling to the controller protocol.
// Each stage operation is declared as a function; the model's function
// calls become requires_action batches and the results are returned as
// function responses.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/logging"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/protocol"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/stages"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gemini-2.5-flash"

// DefaultSystemInstruction frames the model as the pipeline sequencer.
const DefaultSystemInstruction = `You operate a statute of limitations processing pipeline for collection accounts.
Call the provided functions in pipeline order: determine the processing scope, clean the workspace,
retrieve the new input files, consolidate them, calculate statute of limitations dates, generate the
downstream input files, run the external processor, copy the results to the shared data store and
finally update the processing history. Stop and explain if a function returns an error.`

// Config configures the controller.
type Config struct {
	APIKey            string `yaml:"-"`
	Model             string `yaml:"model"`
	SystemInstruction string `yaml:"system_instruction"`
	MaxTurns          int    `yaml:"max_turns"`
}

// Controller holds one conversation with the model.
type Controller struct {
	client   *genai.Client
	model    string
	config   *genai.GenerateContentConfig
	maxTurns int

	history []*genai.Content
	turns   int
	status  protocol.Status
	pending []protocol.Request
	final   string
}

// New creates a controller declaring ops as callable functions. Parameters
// present in hidden (pipeline-owned static configuration) are not offered
// to the model.
func New(ctx context.Context, cfg Config, ops []stages.Operation, hidden map[string]map[string]any) (*Controller, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SystemInstruction == "" {
		cfg.SystemInstruction = DefaultSystemInstruction
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 50
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Controller{
		client: client,
		model:  cfg.Model,
		config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(cfg.SystemInstruction, genai.RoleUser),
			Tools:             []*genai.Tool{{FunctionDeclarations: Declarations(ops, hidden)}},
		},
		maxTurns: cfg.MaxTurns,
	}, nil
}

// Start implements protocol.Controller.
func (c *Controller) Start(ctx context.Context, instruction string) (string, error) {
	c.history = []*genai.Content{genai.NewContentFromText(instruction, genai.RoleUser)}
	c.turns = 0
	c.final = ""
	c.status = protocol.StatusQueued

	if err := c.generate(ctx); err != nil {
		return "", err
	}
	return "gemini_" + uuid.NewString(), nil
}

// Poll implements protocol.Controller. Model calls are synchronous, so the
// status is already settled by Start or Submit.
func (c *Controller) Poll(ctx context.Context) (protocol.Snapshot, error) {
	return protocol.Snapshot{Status: c.status, Pending: c.pending}, nil
}

// Submit implements protocol.Controller.
func (c *Controller) Submit(ctx context.Context, results []protocol.Result) error {
	if c.status != protocol.StatusRequiresAction {
		return fmt.Errorf("submit: run is %s, not requires_action", c.status)
	}

	c.history = append(c.history, genai.NewContentFromParts(ResponseParts(results), genai.RoleUser))
	c.pending = nil
	return c.generate(ctx)
}

// FinalMessage implements protocol.Controller.
func (c *Controller) FinalMessage(ctx context.Context) (string, error) {
	return c.final, nil
}

func (c *Controller) generate(ctx context.Context) error {
	log := logging.Component("gemini")

	if c.turns >= c.maxTurns {
		c.status = protocol.StatusExpired
		c.final = fmt.Sprintf("stopped after %d model turns", c.turns)
		return nil
	}
	c.turns++

	resp, err := c.client.Models.GenerateContent(ctx, c.model, c.history, c.config)
	if err != nil {
		c.status = protocol.StatusFailed
		c.final = "model request failed: " + err.Error()
		return fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		c.status = protocol.StatusFailed
		c.final = "model returned no candidates"
		return nil
	}
	c.history = append(c.history, resp.Candidates[0].Content)

	calls := resp.FunctionCalls()
	if len(calls) == 0 {
		c.status = protocol.StatusCompleted
		c.final = strings.TrimSpace(resp.Text())
		log.Info("model finished", "turns", c.turns)
		return nil
	}

	c.pending = RequestsFromCalls(calls)
	c.status = protocol.StatusRequiresAction
	log.Info("model requested operations", "turn", c.turns, "count", len(c.pending))
	return nil
}

// Declarations renders stage schemas as Gemini function declarations.
func Declarations(ops []stages.Operation, hidden map[string]map[string]any) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(ops))
	for _, op := range ops {
		schema := op.Describe()
		owned := hidden[op.Name()]

		params := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: map[string]*genai.Schema{},
		}
		for _, p := range schema.Params {
			if _, ok := owned[p.Name]; ok {
				continue
			}
			params.Properties[p.Name] = paramSchema(p)
			if p.Required {
				params.Required = append(params.Required, p.Name)
			}
		}

		decls = append(decls, &genai.FunctionDeclaration{
			Name:        op.Name(),
			Description: schema.Description,
			Parameters:  params,
		})
	}
	return decls
}

func paramSchema(p stages.Param) *genai.Schema {
	switch p.Type {
	case stages.TypeInteger:
		return &genai.Schema{Type: genai.TypeInteger, Description: p.Description}
	case stages.TypeBoolean:
		return &genai.Schema{Type: genai.TypeBoolean, Description: p.Description}
	case stages.TypeStringList:
		return &genai.Schema{
			Type:        genai.TypeArray,
			Description: p.Description,
			Items:       &genai.Schema{Type: genai.TypeString},
		}
	default:
		return &genai.Schema{Type: genai.TypeString, Description: p.Description}
	}
}

// RequestsFromCalls converts model function calls into requests. Calls
// without an id get a generated correlation id.
func RequestsFromCalls(calls []*genai.FunctionCall) []protocol.Request {
	reqs := make([]protocol.Request, 0, len(calls))
	for _, call := range calls {
		id := call.ID
		if id == "" {
			id = logging.GenerateCorrelationID()
		}
		reqs = append(reqs, protocol.Request{
			CorrelationID: id,
			Operation:     call.Name,
			Arguments:     call.Args,
		})
	}
	return reqs
}

// ResponseParts converts results into function response parts, in order.
func ResponseParts(results []protocol.Result) []*genai.Part {
	parts := make([]*genai.Part, 0, len(results))
	for _, r := range results {
		response := map[string]any{"status": string(r.Status)}
		if r.OK() {
			response["output"] = toJSONValue(r.Payload)
		} else if r.Error != nil {
			response["error"] = map[string]any{"kind": string(r.Error.Kind), "message": r.Error.Message}
		}

		parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
			ID:       r.CorrelationID,
			Name:     r.Operation,
			Response: response,
		}})
	}
	return parts
}

// toJSONValue flattens typed payloads into plain JSON values.
func toJSONValue(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return string(b)
	}
	return out
}

// functionNames lists the declared names, sorted; used in logs and tests.
func functionNames(decls []*genai.FunctionDeclaration) []string {
	names := make([]string, len(decls))
	for i, d := range decls {
		names[i] = d.Name
	}
	sort.Strings(names)
	return names
}
