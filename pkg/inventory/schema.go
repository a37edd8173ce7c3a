package inventory

import (
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Metadata is the subset of a module's metadata.json used for resolution.
type Metadata struct {
	Name         string               `json:"name"`
	Version      string               `json:"version"`
	Author       string               `json:"author,omitempty"`
	Summary      string               `json:"summary,omitempty"`
	Dependencies []MetadataDependency `json:"dependencies,omitempty"`
	Requirements []MetadataDependency `json:"requirements,omitempty"`
}

// MetadataDependency is one entry of the dependencies or requirements list.
type MetadataDependency struct {
	Name               string `json:"name"`
	VersionRequirement string `json:"version_requirement,omitempty"`
}

const metadataSchema = `
#Name: string & =~"^([A-Za-z0-9]+[-/])?[a-z][a-z0-9_]*$"

#Dependency: {
	name:                 #Name
	version_requirement?: string
	...
}

#Requirement: {
	name:                 string
	version_requirement?: string
	...
}

#Metadata: {
	name:     #Name
	version:  string & !=""
	author?:  string
	summary?: string
	license?: string
	source?:  string

	dependencies?: [...#Dependency]
	requirements?: [...#Requirement]
	...
}
`

// Schema validates metadata.json documents. A Schema is not safe for
// concurrent use.
type Schema struct {
	ctx      *cue.Context
	metadata cue.Value
}

// NewSchema compiles the embedded metadata schema.
func NewSchema() (*Schema, error) {
	ctx := cuecontext.New()

	val := ctx.CompileString(metadataSchema, cue.Filename("metadata.cue"))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile metadata schema: %w", err)
	}

	def := val.LookupPath(cue.ParsePath("#Metadata"))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("failed to load metadata definition: %w", err)
	}

	return &Schema{ctx: ctx, metadata: def}, nil
}

// Decode parses and validates a metadata.json document.
func (s *Schema) Decode(data []byte) (*Metadata, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	dataVal := s.ctx.Encode(doc)
	if err := dataVal.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	unified := s.metadata.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	var meta Metadata
	if err := unified.Decode(&meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &meta, nil
}

// salvageVersion extracts the version from a document that failed
// validation, so a degraded module still reports what is installed.
func salvageVersion(data []byte) string {
	var partial struct {
		Version interface{} `json:"version"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return ""
	}
	v, _ := partial.Version.(string)
	return v
}
