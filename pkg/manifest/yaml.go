package manifest

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type yamlManifest struct {
	Forge     string      `yaml:"forge"`
	ModuleDir string      `yaml:"moduledir"`
	Modules   []yaml.Node `yaml:"modules"`
}

type yamlModule struct {
	Name    string `yaml:"name"`
	Owner   string `yaml:"owner"`
	Version string `yaml:"version"`
	Source  string `yaml:"source"`
	Git     string `yaml:"git"`
	Ref     string `yaml:"ref"`
}

// ParseYAML reads the YAML form of a manifest:
//
//	forge: https://forgeapi.puppet.com
//	moduledir: /etc/puppetlabs/code/modules
//	modules:
//	  - name: puppetlabs/apache
//	    version: 5.6.0
//	  - name: site_profile
//	    source: local
//	  - name: nginx
//	    git: https://example.com/nginx.git
//	    ref: v2.0.0
//
// Unknown keys are rejected.
func ParseYAML(r io.Reader, opts ...Option) (*Manifest, error) {
	o := buildOptions(opts)
	m := newManifest(o.logger)

	fail := func(line int, format string, args ...interface{}) error {
		return &ParseError{File: o.file, Line: line, Msg: fmt.Sprintf(format, args...)}
	}

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc yamlManifest
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return m, nil
		}
		return nil, fail(0, "%v", err)
	}

	m.Forge = doc.Forge
	m.ModuleDir = doc.ModuleDir

	for i := range doc.Modules {
		node := &doc.Modules[i]

		var mod yamlModule
		if err := decodeStrict(node, &mod); err != nil {
			return nil, fail(node.Line, "module %d: %v", i+1, err)
		}
		if mod.Name == "" {
			return nil, fail(node.Line, "module %d: missing name", i+1)
		}

		rec, err := moduleSpec{
			name:    mod.Name,
			owner:   mod.Owner,
			version: mod.Version,
			source:  mod.Source,
			git:     mod.Git,
			ref:     mod.Ref,
		}.record()
		if err != nil {
			return nil, fail(node.Line, "%v", err)
		}
		m.add(rec, node.Line)
	}

	return m, nil
}

// decodeStrict decodes a mapping node, rejecting keys yamlModule does not
// declare. yaml.Node.Decode does not honour the decoder's KnownFields.
func decodeStrict(node *yaml.Node, mod *yamlModule) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("expected a mapping")
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		switch key := node.Content[i].Value; key {
		case "name", "owner", "version", "source", "git", "ref":
		default:
			return fmt.Errorf("unknown field %q", key)
		}
	}
	return node.Decode(mod)
}
