package metadata

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// DebugView renders the model as indented text. The output is stable:
// entity types are sorted by name, everything else is in declaration order.
func (m *Model) DebugView() string {
	var b strings.Builder
	b.WriteString("Model:\n")
	for _, et := range m.EntityTypes() {
		et.debugView(&b)
	}
	writeAnnotations(&b, "  ", &m.annotatable)
	return b.String()
}

func (et *EntityType) debugView(b *strings.Builder) {
	fmt.Fprintf(b, "  EntityType: %s", et.name)
	if !et.shape.HasStruct() {
		b.WriteString(" Declared")
	}
	b.WriteByte('\n')
	if props := et.Properties(); len(props) > 0 {
		b.WriteString("    Properties:\n")
		for _, p := range props {
			fmt.Fprintf(b, "      %s (%s)%s\n", p.name, p.clrType, p.flags())
		}
	}
	if navs := et.Navigations(); len(navs) > 0 {
		b.WriteString("    Navigations:\n")
		for _, n := range navs {
			kind, dir := "Reference", "ToDependent"
			if n.IsCollection() {
				kind = "Collection"
			}
			if n.toPrincipal {
				dir = "ToPrincipal"
			}
			fmt.Fprintf(b, "      %s (%s) %s %s", n.name, kind, dir, n.TargetEntityType().name)
			if inv := n.Inverse(); inv != nil {
				fmt.Fprintf(b, " Inverse: %s", inv.name)
			}
			b.WriteByte('\n')
		}
	}
	if keys := et.Keys(); len(keys) > 0 {
		b.WriteString("    Keys:\n")
		for _, k := range keys {
			fmt.Fprintf(b, "      %s", strings.Join(Names(k.Properties()), ", "))
			if k.IsPrimaryKey() {
				b.WriteString(" PK")
			}
			b.WriteByte('\n')
		}
	}
	if fks := et.ForeignKeys(); len(fks) > 0 {
		b.WriteString("    Foreign keys:\n")
		for _, fk := range fks {
			fmt.Fprintf(b, "      %s {%s} -> %s {%s}", et.name,
				strings.Join(Names(fk.Properties()), ", "),
				fk.PrincipalEntityType().name,
				strings.Join(Names(fk.PrincipalKey().Properties()), ", "))
			if fk.unique {
				b.WriteString(" Unique")
			}
			if fk.required {
				b.WriteString(" Required")
			}
			if n := fk.PrincipalToDependent(); n != nil {
				fmt.Fprintf(b, " ToDependent: %s", n.name)
			}
			if n := fk.DependentToPrincipal(); n != nil {
				fmt.Fprintf(b, " ToPrincipal: %s", n.name)
			}
			b.WriteByte('\n')
		}
	}
	if ixs := et.Indexes(); len(ixs) > 0 {
		b.WriteString("    Indexes:\n")
		for _, ix := range ixs {
			fmt.Fprintf(b, "      %s", strings.Join(Names(ix.Properties()), ", "))
			if ix.unique {
				b.WriteString(" Unique")
			}
			b.WriteByte('\n')
		}
	}
	writeAnnotations(b, "    ", &et.annotatable)
}

func (p *Property) flags() string {
	var fs []string
	if p.shadow {
		fs = append(fs, "Shadow")
	}
	if p.nullable {
		fs = append(fs, "Nullable")
	} else {
		fs = append(fs, "Required")
	}
	if p.IsPrimaryKey() {
		fs = append(fs, "PK")
	} else if p.IsKey() {
		fs = append(fs, "AlternateKey")
	}
	if p.IsForeignKey() {
		fs = append(fs, "FK")
	}
	if p.IsIndexed() {
		fs = append(fs, "Index")
	}
	if p.concurrencyToken {
		fs = append(fs, "Concurrency")
	}
	if p.valueGenerated != Never {
		fs = append(fs, "ValueGenerated."+p.valueGenerated.String())
	}
	return " " + strings.Join(fs, " ")
}

func writeAnnotations(b *strings.Builder, indent string, a *annotatable) {
	keys := a.annotationKeys()
	if len(keys) == 0 {
		return
	}
	b.WriteString(indent + "Annotations:\n")
	for _, k := range keys {
		fmt.Fprintf(b, "%s  %s: %v\n", indent, k, a.annotations[k])
	}
}

// =============================================================================
// Snapshot
// =============================================================================

type (
	// Snapshot is a serializable description of a model.
	Snapshot struct {
		EntityTypes []EntityTypeSnapshot `yaml:"entity_types"`
		Annotations map[string]any       `yaml:"annotations,omitempty"`
	}

	// EntityTypeSnapshot describes one entity type.
	EntityTypeSnapshot struct {
		Name        string               `yaml:"name"`
		Declared    bool                 `yaml:"declared,omitempty"`
		Properties  []PropertySnapshot   `yaml:"properties"`
		PrimaryKey  []string             `yaml:"primary_key,omitempty"`
		Keys        [][]string           `yaml:"alternate_keys,omitempty"`
		ForeignKeys []ForeignKeySnapshot `yaml:"foreign_keys,omitempty"`
		Navigations []NavigationSnapshot `yaml:"navigations,omitempty"`
		Indexes     [][]string           `yaml:"indexes,omitempty"`
		Annotations map[string]any       `yaml:"annotations,omitempty"`
	}

	// PropertySnapshot describes one property.
	PropertySnapshot struct {
		Name           string `yaml:"name"`
		Type           string `yaml:"type"`
		Nullable       bool   `yaml:"nullable,omitempty"`
		Shadow         bool   `yaml:"shadow,omitempty"`
		ValueGenerated string `yaml:"value_generated,omitempty"`
	}

	// ForeignKeySnapshot describes one foreign key.
	ForeignKeySnapshot struct {
		Properties   []string `yaml:"properties"`
		Principal    string   `yaml:"principal"`
		PrincipalKey []string `yaml:"principal_key"`
		Unique       bool     `yaml:"unique,omitempty"`
		Required     bool     `yaml:"required,omitempty"`
	}

	// NavigationSnapshot describes one navigation.
	NavigationSnapshot struct {
		Name       string `yaml:"name"`
		Target     string `yaml:"target"`
		Collection bool   `yaml:"collection,omitempty"`
		Inverse    string `yaml:"inverse,omitempty"`
	}
)

// Snapshot returns a serializable description of the model.
func (m *Model) Snapshot() *Snapshot {
	s := &Snapshot{Annotations: m.Annotations()}
	for _, et := range m.EntityTypes() {
		es := EntityTypeSnapshot{
			Name:        et.name,
			Declared:    !et.shape.HasStruct(),
			Annotations: et.Annotations(),
		}
		for _, p := range et.Properties() {
			ps := PropertySnapshot{Name: p.name, Type: p.clrType.String(), Nullable: p.nullable, Shadow: p.shadow}
			if p.valueGenerated != Never {
				ps.ValueGenerated = p.valueGenerated.String()
			}
			es.Properties = append(es.Properties, ps)
		}
		for _, k := range et.Keys() {
			if k.IsPrimaryKey() {
				es.PrimaryKey = Names(k.Properties())
			} else {
				es.Keys = append(es.Keys, Names(k.Properties()))
			}
		}
		for _, fk := range et.ForeignKeys() {
			es.ForeignKeys = append(es.ForeignKeys, ForeignKeySnapshot{
				Properties:   Names(fk.Properties()),
				Principal:    fk.PrincipalEntityType().name,
				PrincipalKey: Names(fk.PrincipalKey().Properties()),
				Unique:       fk.unique,
				Required:     fk.required,
			})
		}
		for _, n := range et.Navigations() {
			ns := NavigationSnapshot{Name: n.name, Target: n.TargetEntityType().name, Collection: n.IsCollection()}
			if inv := n.Inverse(); inv != nil {
				ns.Inverse = inv.name
			}
			es.Navigations = append(es.Navigations, ns)
		}
		for _, ix := range et.Indexes() {
			es.Indexes = append(es.Indexes, Names(ix.Properties()))
		}
		s.EntityTypes = append(s.EntityTypes, es)
	}
	return s
}

// YAML encodes the snapshot as YAML.
func (s *Snapshot) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("orbit: encode model snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("orbit: encode model snapshot: %w", err)
	}
	return buf.Bytes(), nil
}
