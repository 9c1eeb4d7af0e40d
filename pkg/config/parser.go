package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
)

// starlarkKey is the definition key holding an optional pre-processing
// script.
const starlarkKey = "starlark"

// entitySchema constrains the shape of declared entities. Definitions stay
// open: integrations own their field vocabulary.
const entitySchema = `
#Entity: {
	kind: string & =~"^[a-z][a-z0-9]*$"
	// name defaults to the entity's map key when omitted.
	name?: string & =~"^[a-zA-Z0-9_.-]+$"
	definition: {...}
	depends_on?: [...string & =~"^[a-z][a-z0-9]*/.+$"]
	labels?: {[string]: string}
	annotations?: {[string]: string}
}

entities?: {[string]: #Entity}
`

// Parser loads entity declarations from CUE sources.
type Parser struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
	starlark  *StarlarkEvaluator
}

// NewParser creates a parser with the embedded entity schema and a bounded
// Starlark evaluator.
func NewParser() *Parser {
	ctx := cuecontext.New()
	return &Parser{
		ctx:       ctx,
		schema:    ctx.CompileString(entitySchema),
		validator: validator.New(),
		starlark:  NewStarlarkEvaluator(10 * time.Second),
	}
}

// Parse loads the given CUE files or directories, unifies them, and extracts
// the declared entities. Diagnostics accumulate in the result; the returned
// error covers only unreadable sources.
func (p *Parser) Parse(ctx context.Context, sources []string) (*ParseResult, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	result := &ParseResult{ParsedAt: time.Now()}
	var unified cue.Value

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		var val cue.Value
		var files []string
		var errs []ValidationError
		if info.IsDir() {
			val, files, errs = p.loadDirectory(source)
		} else {
			val, errs = p.loadFile(source)
			files = []string{source}
		}
		result.Errors = append(result.Errors, errs...)
		result.SourceFiles = append(result.SourceFiles, files...)

		if val.Exists() {
			if unified.Exists() {
				unified = unified.Unify(val)
			} else {
				unified = val
			}
		}
	}

	if len(result.Errors) > 0 {
		return result, nil
	}

	unified = unified.Unify(p.schema)
	if err := unified.Validate(); err != nil {
		result.Errors = append(result.Errors, convertCUEErrors(err)...)
		return result, nil
	}

	p.extractEntities(ctx, unified, result)
	return result, nil
}

// ParseInline parses CUE content directly, for tests and the validate
// command's stdin mode.
func (p *Parser) ParseInline(ctx context.Context, content string) (*ParseResult, error) {
	result := &ParseResult{SourceFiles: []string{"inline"}, ParsedAt: time.Now()}

	val := p.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		result.Errors = append(result.Errors, convertCUEErrors(err)...)
		return result, nil
	}

	val = val.Unify(p.schema)
	if err := val.Validate(); err != nil {
		result.Errors = append(result.Errors, convertCUEErrors(err)...)
		return result, nil
	}

	p.extractEntities(ctx, val, result)
	return result, nil
}

func (p *Parser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	instances := load.Instances([]string{dir}, nil)
	if len(instances) == 0 {
		return cue.Value{}, nil, []ValidationError{{File: dir, Message: "no CUE files found"}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, convertCUEErrors(inst.Err)
	}

	val := p.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, convertCUEErrors(err)
	}

	var files []string
	for _, f := range inst.Files {
		if f.Filename != "" {
			files = append(files, f.Filename)
		}
	}
	return val, files, nil
}

func (p *Parser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:    path,
			Message: fmt.Sprintf("failed to read file: %v", err),
		}}
	}

	val := p.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	return val, nil
}

// extractEntities decodes the entities struct, applying the Starlark hook
// and struct-tag validation per entity. Entities come back sorted by name so
// apply order is stable across runs.
func (p *Parser) extractEntities(ctx context.Context, val cue.Value, result *ParseResult) {
	entitiesVal := val.LookupPath(cue.ParsePath("entities"))
	if !entitiesVal.Exists() {
		return
	}

	iter, err := entitiesVal.Fields(cue.All())
	if err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "entities",
			Message: fmt.Sprintf("failed to iterate entities: %v", err),
		})
		return
	}

	for iter.Next() {
		key := iter.Selector().String()
		entity, err := p.extractEntity(ctx, key, iter.Value())
		if err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Path:    "entities." + key,
				Message: err.Error(),
			})
			continue
		}
		result.Entities = append(result.Entities, entity)
	}

	sort.Slice(result.Entities, func(i, j int) bool {
		a, b := result.Entities[i], result.Entities[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Name < b.Name
	})
}

func (p *Parser) extractEntity(ctx context.Context, key string, val cue.Value) (Entity, error) {
	var entity Entity
	if err := val.Decode(&entity); err != nil {
		return entity, fmt.Errorf("failed to decode entity: %w", err)
	}

	// An absent definition decodes to an empty non-nil map, which the
	// required tag below cannot distinguish from a present one.
	if len(entity.Definition) == 0 {
		return entity, fmt.Errorf("definition is required")
	}

	// The map key doubles as the name when the body omits it.
	if entity.Name == "" {
		entity.Name = key
	}

	if err := p.applyStarlark(ctx, &entity); err != nil {
		return entity, err
	}

	if err := p.validator.Struct(entity); err != nil {
		return entity, fmt.Errorf("validation failed: %w", err)
	}
	return entity, nil
}

// applyStarlark runs an embedded pre-processing script, if any. The script
// sees the remaining definition as `definition`; its globals are merged back
// in, with literal definition values taking precedence.
func (p *Parser) applyStarlark(ctx context.Context, entity *Entity) error {
	raw, ok := entity.Definition[starlarkKey]
	if !ok {
		return nil
	}
	script, ok := raw.(string)
	if !ok {
		return fmt.Errorf("%s key must be a string script", starlarkKey)
	}

	input := make(map[string]any, len(entity.Definition)-1)
	for k, v := range entity.Definition {
		if k != starlarkKey {
			input[k] = v
		}
	}

	output, err := p.starlark.Evaluate(ctx, script, map[string]any{"definition": input})
	if err != nil {
		return fmt.Errorf("%s hook: %w", starlarkKey, err)
	}

	merged := make(map[string]any, len(input)+len(output))
	for k, v := range output {
		merged[k] = v
	}
	for k, v := range input {
		merged[k] = v
	}
	entity.Definition = merged
	return nil
}

// convertCUEErrors flattens a CUE error into located diagnostics.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		var file string
		var line, column int
		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}
		out = append(out, ValidationError{
			File:    file,
			Line:    line,
			Column:  column,
			Message: errors.Details(e, nil),
		})
	}
	return out
}
