// Package codegen turns a domain.Model into Go snapshot types registered with
// a slate.Registry: one immutable struct per entity, a factory reading the
// managed object, name constants, and typed relationship resolvers.
package codegen

import (
	"errors"
	"fmt"
	"go/token"
	"strings"
	"unicode"

	"golang.org/x/tools/imports"

	"slate/pkg/domain"
)

// Options controls the generated file.
type Options struct {
	// Package is the package clause of the generated file. Required.
	Package string
	// Source is mentioned in the header comment, usually the schema path.
	Source string
}

var goTypes = map[domain.AttributeType]struct{ typ, getter string }{
	domain.TypeString: {"string", "String"},
	domain.TypeInt:    {"int64", "Int"},
	domain.TypeFloat:  {"float64", "Float"},
	domain.TypeBool:   {"bool", "Bool"},
	domain.TypeTime:   {"time.Time", "Time"},
	domain.TypeBytes:  {"[]byte", "Bytes"},
}

// Generate renders the snapshot source for model.
func Generate(model *domain.Model, opts Options) ([]byte, error) {
	if model == nil || len(model.Entities) == 0 {
		return nil, errors.New("codegen: model has no entities")
	}
	if !token.IsIdentifier(opts.Package) {
		return nil, fmt.Errorf("codegen: invalid package name %q", opts.Package)
	}
	seen := make(map[string]string)
	for _, e := range model.Entities {
		name := exportName(e.Name)
		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("codegen: entities %q and %q both map to %s", prev, e.Name, name)
		}
		seen[name] = e.Name
	}
	if err := checkNames(model); err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("// Code generated by slategen. DO NOT EDIT.\n")
	if opts.Source != "" {
		fmt.Fprintf(&b, "// Source: %s\n", opts.Source)
	}
	fmt.Fprintf(&b, "\npackage %s\n\n", opts.Package)
	b.WriteString("import (\n")
	if usesContext(model) {
		b.WriteString("\t\"context\"\n")
	}
	if usesTime(model) {
		b.WriteString("\t\"time\"\n")
	}
	b.WriteString("\n\t\"slate/pkg/domain\"\n\t\"slate/pkg/slate\"\n)\n\n")

	for _, e := range model.Entities {
		if err := writeEntity(&b, &e); err != nil {
			return nil, err
		}
	}
	writeRegistry(&b, model)
	for _, e := range model.Entities {
		writeResolvers(&b, &e)
	}

	out, err := imports.Process("models_gen.go", []byte(b.String()), &imports.Options{Comments: true, TabIndent: true, TabWidth: 8, FormatOnly: true})
	if err != nil {
		return nil, fmt.Errorf("codegen: format: %w\n%s", err, b.String())
	}
	return out, nil
}

func writeEntity(b *strings.Builder, e *domain.EntityModel) error {
	typ := exportName(e.Name)
	if len(e.Attributes)+len(e.Relationships) > 0 {
		fmt.Fprintf(b, "// %s attribute and relationship names.\nconst (\n", typ)
		for _, a := range e.Attributes {
			fmt.Fprintf(b, "\tAttr%s%s = %q\n", typ, exportName(a.Name), a.Name)
		}
		for _, r := range e.Relationships {
			fmt.Fprintf(b, "\tRel%s%s = %q\n", typ, exportName(r.Name), r.Name)
		}
		b.WriteString(")\n\n")
	}

	fmt.Fprintf(b, "// %s is an immutable snapshot of one %s object.\ntype %s struct {\n\tid domain.ID\n", typ, e.Name, typ)
	for _, a := range e.Attributes {
		gt, ok := goTypes[a.Type]
		if !ok {
			return fmt.Errorf("codegen: %s.%s: unsupported type %q", e.Name, a.Name, a.Type)
		}
		ptr := ""
		if pointerField(a) {
			ptr = "*"
		}
		fmt.Fprintf(b, "\t%s %s%s\n", exportName(a.Name), ptr, gt.typ)
	}
	b.WriteString("}\n\n")

	fmt.Fprintf(b, "// SlateID implements slate.Snapshot.\nfunc (s *%s) SlateID() domain.ID { return s.id }\n\n", typ)

	fmt.Fprintf(b, "// New%s builds a snapshot from a managed %s object.\nfunc New%s(o *domain.Object) *%s {\n\ts := &%s{\n\t\tid: o.ID(),\n", typ, e.Name, typ, typ, typ)
	for _, a := range e.Attributes {
		if !pointerField(a) {
			fmt.Fprintf(b, "\t\t%s: o.%s(Attr%s%s),\n", exportName(a.Name), goTypes[a.Type].getter, typ, exportName(a.Name))
		}
	}
	b.WriteString("\t}\n")
	for _, a := range e.Attributes {
		if !pointerField(a) {
			continue
		}
		field, key := exportName(a.Name), "Attr"+typ+exportName(a.Name)
		fmt.Fprintf(b, "\tif o.Value(%s) != nil {\n\t\tv := o.%s(%s)\n\t\ts.%s = &v\n\t}\n", key, goTypes[a.Type].getter, key, field)
	}
	b.WriteString("\treturn s\n}\n\n")
	return nil
}

// pointerField reports whether an attribute is generated as a pointer so an
// unset value stays distinguishable from the zero value. Optional bytes are
// already nil when unset.
func pointerField(a domain.Attribute) bool {
	return a.Optional && a.Type != domain.TypeBytes
}

// checkNames rejects models whose generated identifiers would collide within
// a snapshot struct or on Entities.
func checkNames(model *domain.Model) error {
	methods := make(map[string]string)
	for _, e := range model.Entities {
		typ := exportName(e.Name)
		fields := map[string]string{"SlateID": "(SlateID method)"}
		for _, a := range e.Attributes {
			name := exportName(a.Name)
			if prev, ok := fields[name]; ok {
				return fmt.Errorf("codegen: %s: attributes %q and %q both map to field %s", e.Name, prev, a.Name, name)
			}
			fields[name] = a.Name
		}
		rels := make(map[string]string)
		for _, r := range e.Relationships {
			name := exportName(r.Name)
			if prev, ok := rels[name]; ok {
				return fmt.Errorf("codegen: %s: relationships %q and %q both map to %s", e.Name, prev, r.Name, name)
			}
			rels[name] = r.Name
			method := "Resolve" + typ + name
			owner := e.Name + "." + r.Name
			if prev, ok := methods[method]; ok {
				return fmt.Errorf("codegen: %s and %s both generate method %s", prev, owner, method)
			}
			methods[method] = owner
		}
	}
	for _, e := range model.Entities {
		if owner, ok := methods[exportName(e.Name)]; ok {
			return fmt.Errorf("codegen: method of %s collides with entity %s", owner, e.Name)
		}
	}
	return nil
}

func writeRegistry(b *strings.Builder, model *domain.Model) {
	b.WriteString("// Entities holds the descriptor of every generated snapshot type.\ntype Entities struct {\n")
	for _, e := range model.Entities {
		typ := exportName(e.Name)
		fmt.Fprintf(b, "\t%s *slate.Entity[*%s]\n", typ, typ)
	}
	b.WriteString("}\n\n")
	b.WriteString("// Register adds every generated snapshot type to r.\nfunc Register(r *slate.Registry) Entities {\n\treturn Entities{\n")
	for _, e := range model.Entities {
		typ := exportName(e.Name)
		fmt.Fprintf(b, "\t\t%s: slate.Register(r, %q, New%s),\n", typ, e.Name, typ)
	}
	b.WriteString("\t}\n}\n\n")
}

func writeResolvers(b *strings.Builder, e *domain.EntityModel) {
	typ := exportName(e.Name)
	for _, r := range e.Relationships {
		dst := exportName(r.Destination)
		method := "Resolve" + typ + exportName(r.Name)
		if r.ToMany {
			fmt.Fprintf(b, "// %s resolves %s.%s.\nfunc (e Entities) %s(ctx context.Context, qc *slate.QueryContext, s *%s) ([]*%s, error) {\n\treturn e.%s.ResolveMany(ctx, qc, s, Rel%s%s)\n}\n\n",
				method, e.Name, r.Name, method, typ, dst, dst, typ, exportName(r.Name))
			continue
		}
		fmt.Fprintf(b, "// %s resolves %s.%s; ok is false when it is empty.\nfunc (e Entities) %s(ctx context.Context, qc *slate.QueryContext, s *%s) (*%s, bool, error) {\n\treturn e.%s.ResolveOne(ctx, qc, s, Rel%s%s)\n}\n\n",
			method, e.Name, r.Name, method, typ, dst, dst, typ, exportName(r.Name))
	}
}

func usesContext(model *domain.Model) bool {
	for _, e := range model.Entities {
		if len(e.Relationships) > 0 {
			return true
		}
	}
	return false
}

func usesTime(model *domain.Model) bool {
	for _, e := range model.Entities {
		for _, a := range e.Attributes {
			if a.Type == domain.TypeTime {
				return true
			}
		}
	}
	return false
}

var initialisms = map[string]string{"id": "ID", "url": "URL", "uri": "URI", "http": "HTTP", "json": "JSON", "sku": "SKU"}

// exportName converts snake, kebab or camel case into an exported identifier.
func exportName(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '-' || r == ' ' || r == '.' })
	var b strings.Builder
	for _, w := range words {
		if up, ok := initialisms[strings.ToLower(w)]; ok {
			b.WriteString(up)
			continue
		}
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	out := b.String()
	if out == "" || !unicode.IsLetter([]rune(out)[0]) {
		out = "X" + out
	}
	return out
}
