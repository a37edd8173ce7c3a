package manifest

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// Parse reads a Puppetfile. Supported statements are forge, moduledir and
// mod. A mod statement takes the module name, an optional version (a string,
// :latest or :present) and options:
//
//	mod 'puppetlabs/apache', '5.6.0'
//	mod 'puppetlabs/stdlib', '>= 4.13.1 < 7.0.0'
//	mod 'site_profile', :local => true
//	mod 'nginx', git: 'https://example.com/nginx.git', tag: 'v2.0.0'
//
// A statement ending in a comma continues on the next line.
func Parse(r io.Reader, opts ...Option) (*Manifest, error) {
	o := buildOptions(opts)
	m := newManifest(o.logger)

	fail := func(line int, format string, args ...interface{}) error {
		return &ParseError{File: o.file, Line: line, Msg: fmt.Sprintf(format, args...)}
	}

	stmts, err := statements(r)
	if err != nil {
		return nil, fail(0, "%v", err)
	}

	for _, st := range stmts {
		toks, err := lex(st.text)
		if err != nil {
			return nil, fail(st.line, "%v", err)
		}
		if len(toks) == 0 {
			continue
		}
		if toks[0].kind != tokIdent {
			return nil, fail(st.line, "expected statement, got %s", toks[0])
		}

		args, err := parseArgs(toks[1:])
		if err != nil {
			return nil, fail(st.line, "%v", err)
		}

		switch keyword := toks[0].val; keyword {
		case "forge":
			v, err := singleString(keyword, args)
			if err != nil {
				return nil, fail(st.line, "%v", err)
			}
			m.Forge = v
		case "moduledir":
			v, err := singleString(keyword, args)
			if err != nil {
				return nil, fail(st.line, "%v", err)
			}
			m.ModuleDir = v
		case "mod":
			spec, err := modSpec(args)
			if err != nil {
				return nil, fail(st.line, "%v", err)
			}
			rec, err := spec.record()
			if err != nil {
				return nil, fail(st.line, "%v", err)
			}
			m.add(rec, st.line)
		default:
			return nil, fail(st.line, "unknown statement %q", keyword)
		}
	}

	return m, nil
}

type statement struct {
	line int
	text string
}

// statements joins continuation lines and drops comments.
func statements(r io.Reader) ([]statement, error) {
	var (
		out     []statement
		current strings.Builder
		start   int
		lineNo  int
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(stripComment(scanner.Text()))
		if line == "" {
			continue
		}
		if current.Len() == 0 {
			start = lineNo
		} else {
			current.WriteByte(' ')
		}

		cont := strings.HasSuffix(line, ",") || strings.HasSuffix(line, "\\")
		current.WriteString(strings.TrimSuffix(line, "\\"))
		if cont {
			continue
		}

		out = append(out, statement{line: start, text: current.String()})
		current.Reset()
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if current.Len() > 0 {
		return nil, fmt.Errorf("line %d: unterminated statement", start)
	}
	return out, nil
}

// stripComment removes a trailing # comment outside of quotes.
func stripComment(line string) string {
	var quote rune
	for i, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '#':
			return line[:i]
		}
	}
	return line
}

type tokenKind int

const (
	tokIdent  tokenKind = iota // bare word: mod, true, nil
	tokString                  // 'quoted' or "quoted"
	tokSymbol                  // :symbol
	tokKey                     // key: (hash shorthand)
	tokArrow                   // =>
	tokComma
)

type token struct {
	kind tokenKind
	val  string
}

func (t token) String() string {
	switch t.kind {
	case tokString:
		return fmt.Sprintf("%q", t.val)
	case tokSymbol:
		return ":" + t.val
	case tokKey:
		return t.val + ":"
	case tokArrow:
		return "=>"
	case tokComma:
		return ","
	default:
		return t.val
	}
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func lex(s string) ([]token, error) {
	var toks []token
	rs := []rune(s)

	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == ',':
			toks = append(toks, token{kind: tokComma})
			i++
		case r == '=' && i+1 < len(rs) && rs[i+1] == '>':
			toks = append(toks, token{kind: tokArrow})
			i += 2
		case r == '\'' || r == '"':
			end := i + 1
			for end < len(rs) && rs[end] != r {
				end++
			}
			if end == len(rs) {
				return nil, fmt.Errorf("unterminated string")
			}
			toks = append(toks, token{kind: tokString, val: string(rs[i+1 : end])})
			i = end + 1
		case r == ':':
			end := i + 1
			for end < len(rs) && isWordRune(rs[end]) {
				end++
			}
			if end == i+1 {
				return nil, fmt.Errorf("invalid symbol at column %d", i+1)
			}
			toks = append(toks, token{kind: tokSymbol, val: string(rs[i+1 : end])})
			i = end
		case isWordRune(r):
			end := i
			for end < len(rs) && isWordRune(rs[end]) {
				end++
			}
			word := string(rs[i:end])
			if end < len(rs) && rs[end] == ':' && (end+1 == len(rs) || rs[end+1] != ':') {
				toks = append(toks, token{kind: tokKey, val: word})
				i = end + 1
				continue
			}
			toks = append(toks, token{kind: tokIdent, val: word})
			i = end
		default:
			return nil, fmt.Errorf("unexpected character %q", r)
		}
	}
	return toks, nil
}

// arg is one positional value or one key/value option.
type arg struct {
	key   string
	value token
}

func parseArgs(toks []token) ([]arg, error) {
	var args []arg
	for i := 0; i < len(toks); {
		var a arg
		switch {
		case toks[i].kind == tokKey:
			a.key = toks[i].val
			i++
		case i+1 < len(toks) && toks[i+1].kind == tokArrow:
			if toks[i].kind != tokSymbol && toks[i].kind != tokString {
				return nil, fmt.Errorf("invalid option key %s", toks[i])
			}
			a.key = toks[i].val
			i += 2
		}

		if i >= len(toks) {
			return nil, fmt.Errorf("missing value for %s", a.key)
		}
		switch toks[i].kind {
		case tokString, tokSymbol, tokIdent:
			a.value = toks[i]
		default:
			return nil, fmt.Errorf("unexpected %s", toks[i])
		}
		args = append(args, a)
		i++

		if i < len(toks) {
			if toks[i].kind != tokComma {
				return nil, fmt.Errorf("expected ',' before %s", toks[i])
			}
			i++
			if i == len(toks) {
				return nil, fmt.Errorf("trailing ','")
			}
		}
	}
	return args, nil
}

func singleString(keyword string, args []arg) (string, error) {
	if len(args) != 1 || args[0].key != "" || args[0].value.kind != tokString {
		return "", fmt.Errorf("%s expects a single string argument", keyword)
	}
	return args[0].value.val, nil
}

// ignoredOptions are accepted for compatibility but have no effect here.
var ignoredOptions = map[string]bool{
	"install_path":   true,
	"default_branch": true,
	"exclude_spec":   true,
}

func modSpec(args []arg) (moduleSpec, error) {
	var spec moduleSpec
	if len(args) == 0 || args[0].key != "" || args[0].value.kind != tokString {
		return spec, fmt.Errorf("mod expects a module name")
	}
	spec.name = args[0].value.val

	rest := args[1:]
	if len(rest) > 0 && rest[0].key == "" {
		switch v := rest[0].value; v.kind {
		case tokString:
			spec.version = v.val
		case tokSymbol:
			if v.val != "latest" && v.val != "present" {
				return spec, fmt.Errorf("unsupported version %s for %s", v, spec.name)
			}
		default:
			return spec, fmt.Errorf("unexpected %s for %s", v, spec.name)
		}
		rest = rest[1:]
	}

	for _, a := range rest {
		if a.key == "" {
			return spec, fmt.Errorf("unexpected positional argument %s for %s", a.value, spec.name)
		}
		switch a.key {
		case "local":
			if a.value.kind != tokIdent || (a.value.val != "true" && a.value.val != "false") {
				return spec, fmt.Errorf("local expects true or false")
			}
			if a.value.val == "true" {
				spec.source = "local"
			}
		case "git":
			if a.value.kind != tokString {
				return spec, fmt.Errorf("git expects a URL string")
			}
			spec.git = a.value.val
		case "ref", "tag", "branch", "commit":
			if a.value.kind != tokString {
				return spec, fmt.Errorf("%s expects a string", a.key)
			}
			if spec.ref != "" {
				return spec, fmt.Errorf("more than one git reference for %s", spec.name)
			}
			spec.ref = a.value.val
		default:
			if !ignoredOptions[a.key] {
				return spec, fmt.Errorf("unknown option %q for %s", a.key, spec.name)
			}
		}
	}

	if spec.git != "" && spec.source == "local" {
		return spec, fmt.Errorf("%s cannot be both local and git", spec.name)
	}
	return spec, nil
}
