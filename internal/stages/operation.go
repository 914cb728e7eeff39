// Package stages implements the catalog of pipeline operations the
// controller can request: scope determination, workspace archival, input
// retrieval and consolidation, SoL application, downstream file
// generation, the external processor, distribution and history recording.
package stages

import (
	"context"
	"time"

	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/audit"
	"github.com/withObsrvr/obsrvr-sol-pipeline/internal/watermark"
)

// Operation names as exposed to the controller.
const (
	OpDetermineScope  = "determine_processing_scope"
	OpCleanWorkspace  = "clean_workspace"
	OpRetrieveInputs  = "retrieve_new_input_files"
	OpConsolidate     = "consolidate_input_files"
	OpApplySoL        = "calculate_statute_of_limitations"
	OpGenerateOutputs = "generate_input_files"
	OpProcessInputs   = "process_input_files"
	OpDistribute      = "copy_to_lcs_data"
	OpUpdateHistory   = "update_processing_history"
)

// Operation is one named, independently invocable unit of pipeline work.
type Operation interface {
	Name() string
	Describe() Schema
	// Run executes the stage with the merged argument bundle. The returned
	// payload must be JSON-encodable.
	Run(ctx context.Context, args Args) (any, error)
}

// ParamType is the wire type of a parameter.
type ParamType string

const (
	TypeString     ParamType = "string"
	TypeDate       ParamType = "date" // YYYY-MM-DD string
	TypeInteger    ParamType = "integer"
	TypeBoolean    ParamType = "boolean"
	TypeStringList ParamType = "string_list"
)

// Param declares one argument.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
}

// Schema is the declared argument contract of an operation.
type Schema struct {
	Description string
	Params      []Param
}

// Param looks up a declared parameter.
func (s Schema) Param(name string) (Param, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Required lists the required parameter names in declaration order.
func (s Schema) Required() []string {
	var names []string
	for _, p := range s.Params {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// Prompter asks an operator for a value. Used by scope determination when
// neither a watermark nor explicit dates are available.
type Prompter interface {
	Prompt(ctx context.Context, question string) (string, error)
}

// Deps are the collaborators shared by the catalog.
type Deps struct {
	Store    watermark.Store
	Prompter Prompter         // optional
	Audit    audit.Emitter    // optional; records distributed batches
	Now      func() time.Time // defaults to time.Now
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Catalog returns every pipeline operation in their intended sequence.
func Catalog(deps Deps) []Operation {
	return []Operation{
		&DetermineScope{deps: deps},
		&CleanWorkspace{deps: deps},
		&RetrieveInputs{},
		&Consolidate{},
		&ApplySoL{deps: deps},
		&GenerateOutputs{},
		&ProcessInputs{},
		&Distribute{deps: deps},
		&UpdateHistory{deps: deps},
	}
}
