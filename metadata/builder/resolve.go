package builder

import (
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/metadata"
	"github.com/syssam/orbit/metadata/convention"
	"github.com/syssam/orbit/metadata/shape"
	"golang.org/x/text/cases"
)

// tempKeyName names the shadow key added to a principal that has no
// primary key when a relationship needs one.
const tempKeyName = "TempId"

// relRequest is one relationship configuration call, with every facet the
// caller knows about. Nil props, principalKey and required mean "leave
// to convention".
type relRequest struct {
	principal, dependent     *metadata.EntityType
	toPrincipal, toDependent string
	unique                   bool
	props                    []*metadata.Property
	principalKey             []*metadata.Property
	required                 *bool

	source       metadata.ConfigurationSource
	uniqueSource metadata.ConfigurationSource
	endSource    metadata.ConfigurationSource

	// existing is the foreign key an earlier call of the same builder
	// chain resolved to.
	existing *metadata.ForeignKey
}

// flipped swaps the ends. Explicit properties belong to the old direction
// and are dropped.
func (r relRequest) flipped() relRequest {
	r.principal, r.dependent = r.dependent, r.principal
	r.toPrincipal, r.toDependent = r.toDependent, r.toPrincipal
	r.props, r.principalKey = nil, nil
	return r
}

func (r relRequest) String() string {
	return r.dependent.Name() + "." + r.toPrincipal + " -> " + r.principal.Name() + "." + r.toDependent
}

// relate resolves a relationship request to a single foreign key, reusing
// an existing one when possible:
//
//  1. a foreign key of the dependent over the explicit properties, to the
//     principal;
//  2. the foreign key behind one of the requested navigations;
//  3. a foreign key between the two types with no navigations and the
//     same multiplicity.
//
// A reused foreign key that does not fit the request is replaced, unless
// it was configured from a stronger source, in which case the request is
// dropped. Otherwise a new foreign key is created.
func (mb *ModelBuilder) relate(req relRequest) (*metadata.ForeignKey, error) {
	P, D := req.principal, req.dependent
	if P == D && req.toPrincipal != "" && req.toPrincipal == req.toDependent {
		return nil, orbit.NewConfigurationConflictError(D.Name(), req.toPrincipal,
			"a self-referencing relationship cannot use the same navigation for both ends")
	}
	if req.props != nil {
		keyProps := req.principalKey
		if keyProps == nil && P.PrimaryKey() != nil {
			keyProps = P.PrimaryKey().Properties()
		}
		if keyProps != nil {
			if err := metadata.CheckCompatible(req.props, keyProps, D, P); err != nil {
				return nil, err
			}
		}
	}

	fk := mb.match(req)
	var replaced *metadata.ForeignKey
	if fk != nil {
		switch {
		case reversed(fk, req):
			if fk.PrincipalEndSource == metadata.Explicit && req.endSource == metadata.Explicit {
				return nil, orbit.NewConfigurationConflictError(D.Name(), req.toPrincipal,
					"the direction of the relationship with "+P.Name()+" is already configured the other way")
			}
			if !req.endSource.Overrides(fk.PrincipalEndSource) || !req.source.Overrides(fk.Source) {
				return fk, nil
			}
			replaced, fk = fk, nil
		case !fits(fk, req):
			if !req.source.Overrides(fk.Source) {
				return fk, nil
			}
			replaced, fk = fk, nil
		}
	}
	if replaced != nil {
		mb.logger.Debug("replacing foreign key", "foreign_key", replaced.String(), "relationship", req.String())
		if err := mb.retire(replaced, req); err != nil {
			return nil, err
		}
	}

	created := fk == nil
	if created {
		var err error
		if fk, err = mb.createForeignKey(req); err != nil {
			return nil, err
		}
	} else if err := mb.reconcileUnique(fk, req); err != nil {
		return nil, err
	}

	if err := mb.attachNavigation(D, req.toPrincipal, fk, true, req.source); err != nil {
		return nil, err
	}
	if err := mb.attachNavigation(P, req.toDependent, fk, false, req.source); err != nil {
		return nil, err
	}
	if req.required != nil {
		if err := fk.SetRequired(*req.required); err != nil {
			return nil, err
		}
		fk.RequiredSource = req.source
	}
	fk.Source = fk.Source.Max(req.source)
	fk.PrincipalEndSource = fk.PrincipalEndSource.Max(req.endSource)
	fk.UniqueSource = fk.UniqueSource.Max(req.uniqueSource)
	if req.props != nil {
		fk.PropertiesSource = fk.PropertiesSource.Max(req.source)
	}
	if req.principalKey != nil {
		fk.PrincipalKeySource = fk.PrincipalKeySource.Max(req.source)
	}

	if e := req.existing; e != nil && e != fk && mb.alive(e) {
		if err := mb.retire(e, req); err != nil {
			return nil, err
		}
	}
	if created {
		mb.logger.Debug("foreign key added", "foreign_key", fk.String(), "source", req.source.String())
	}
	return fk, nil
}

// match finds the existing foreign key a request configures.
func (mb *ModelBuilder) match(req relRequest) *metadata.ForeignKey {
	P, D := req.principal, req.dependent
	if req.props != nil {
		for _, fk := range D.FindForeignKeys(req.props) {
			if fk.PrincipalEntityType() == P && (req.principalKey == nil || sameProps(fk.PrincipalKey().Properties(), req.principalKey)) {
				return fk
			}
		}
	}
	if e := req.existing; e != nil && mb.alive(e) {
		return e
	}
	if fk := mb.findByNavigation(req); fk != nil {
		return fk
	}
	if req.props != nil {
		return nil
	}
	for _, fk := range D.ForeignKeys() {
		if fk.PrincipalEntityType() != P || len(fk.Navigations()) > 0 || fk.IsUnique() != req.unique {
			continue
		}
		if req.principalKey != nil && !sameProps(fk.PrincipalKey().Properties(), req.principalKey) {
			continue
		}
		return fk
	}
	return nil
}

// findByNavigation returns the foreign key behind one of the requested
// navigation names, when it relates the two requested types.
func (mb *ModelBuilder) findByNavigation(req relRequest) *metadata.ForeignKey {
	if req.toPrincipal != "" {
		if n := req.dependent.FindNavigation(req.toPrincipal); n != nil && n.TargetEntityType() == req.principal {
			return n.ForeignKey()
		}
	}
	if req.toDependent != "" {
		if n := req.principal.FindNavigation(req.toDependent); n != nil && n.TargetEntityType() == req.dependent {
			return n.ForeignKey()
		}
	}
	return nil
}

func (mb *ModelBuilder) alive(fk *metadata.ForeignKey) bool {
	d := fk.DeclaringEntityType()
	if d == nil || mb.model.EntityTypeByID(d.ID()) != d {
		return false
	}
	return slices.Contains(d.ForeignKeys(), fk)
}

// reversed reports whether fk relates the requested types the other way
// round.
func reversed(fk *metadata.ForeignKey, req relRequest) bool {
	if fk.DeclaringEntityType() != req.dependent || fk.PrincipalEntityType() != req.principal {
		return true
	}
	if n := fk.PrincipalToDependent(); n != nil && req.toPrincipal != "" && n.Name() == req.toPrincipal && req.toPrincipal != req.toDependent {
		return true
	}
	if n := fk.DependentToPrincipal(); n != nil && req.toDependent != "" && n.Name() == req.toDependent && req.toPrincipal != req.toDependent {
		return true
	}
	return false
}

// fits reports whether the explicit facets of req agree with fk.
func fits(fk *metadata.ForeignKey, req relRequest) bool {
	if req.props != nil && !sameProps(fk.Properties(), req.props) {
		return false
	}
	if req.principalKey != nil && !sameProps(fk.PrincipalKey().Properties(), req.principalKey) {
		return false
	}
	return true
}

func sameProps(a, b []*metadata.Property) bool {
	return slices.Equal(a, b)
}

// retire detaches the navigations req takes over from fk and removes fk
// when nothing is left on it that a weaker source configured.
func (mb *ModelBuilder) retire(fk *metadata.ForeignKey, req relRequest) error {
	for _, n := range fk.Navigations() {
		if n.Name() != req.toPrincipal && n.Name() != req.toDependent {
			continue
		}
		if err := n.DeclaringEntityType().RemoveNavigation(n); err != nil {
			return err
		}
	}
	if len(fk.Navigations()) > 0 {
		return nil
	}
	if fk != req.existing && !req.source.Overrides(fk.Source) {
		return nil
	}
	return mb.removeForeignKey(fk)
}

// reconcileUnique changes the multiplicity of a reused foreign key in
// place. A principal navigation of the wrong kind is dropped first unless
// the request names it.
func (mb *ModelBuilder) reconcileUnique(fk *metadata.ForeignKey, req relRequest) error {
	if fk.IsUnique() == req.unique || !req.uniqueSource.Overrides(fk.UniqueSource) {
		return nil
	}
	if n := fk.PrincipalToDependent(); n != nil && n.Name() != req.toDependent {
		if err := n.DeclaringEntityType().RemoveNavigation(n); err != nil {
			return err
		}
	}
	return fk.SetUnique(req.unique)
}

// attachNavigation puts the navigation name on fk, taking it from
// another foreign key when needed.
func (mb *ModelBuilder) attachNavigation(et *metadata.EntityType, name string, fk *metadata.ForeignKey, toPrincipal bool, source metadata.ConfigurationSource) error {
	if name == "" {
		return nil
	}
	cur := fk.PrincipalToDependent()
	if toPrincipal {
		cur = fk.DependentToPrincipal()
	}
	if cur != nil && cur.Name() == name {
		return nil
	}
	if source != metadata.Explicit && mb.isIgnored(et, name) {
		return nil
	}
	if n := et.FindNavigation(name); n != nil {
		other := n.ForeignKey()
		if !source.Overrides(other.Source) {
			return nil
		}
		if err := et.RemoveNavigation(n); err != nil {
			return err
		}
		if other != fk && len(other.Navigations()) == 0 && other.Source != metadata.Explicit {
			if err := mb.removeForeignKey(other); err != nil {
				return err
			}
		}
	}
	if cur != nil {
		if !source.Overrides(fk.Source) {
			return nil
		}
		if err := et.RemoveNavigation(cur); err != nil {
			return err
		}
	}
	mb.setIgnored(et, name, false)
	nav, err := et.AddNavigation(name, fk, toPrincipal)
	if err != nil {
		return err
	}
	return mb.dispatch(convention.Mutation{Event: convention.NavigationAdded, EntityType: et, Navigation: nav})
}

// createForeignKey adds the foreign key of a request that matched nothing.
func (mb *ModelBuilder) createForeignKey(req relRequest) (*metadata.ForeignKey, error) {
	key, err := mb.principalKeyFor(req)
	if err != nil {
		return nil, err
	}
	props := req.props
	if props == nil {
		props = matchDependentProperties(req, key)
	}
	if props == nil {
		if props, err = mb.shadowProperties(req, key); err != nil {
			return nil, err
		}
	}
	fk, err := req.dependent.AddForeignKey(props, key)
	if err != nil {
		return nil, err
	}
	if err := fk.SetUnique(req.unique); err != nil {
		return nil, err
	}
	fk.Source = req.source
	fk.UniqueSource = req.uniqueSource
	fk.PrincipalEndSource = req.endSource
	return fk, mb.dispatch(convention.Mutation{Event: convention.ForeignKeyAdded, ForeignKey: fk})
}

// principalKeyFor returns the key a new foreign key references: the
// explicit principal key, the primary key, or a shadow key added for the
// purpose.
func (mb *ModelBuilder) principalKeyFor(req relRequest) (*metadata.Key, error) {
	P := req.principal
	if req.principalKey != nil {
		if k := P.FindKey(req.principalKey); k != nil {
			mb.keySources[k.ID()] = mb.keySources[k.ID()].Max(req.source)
			return k, nil
		}
		k, err := P.AddKey(req.principalKey)
		if err != nil {
			return nil, err
		}
		mb.keySources[k.ID()] = req.source
		return k, nil
	}
	if k := P.PrimaryKey(); k != nil {
		return k, nil
	}
	p := P.FindProperty(tempKeyName)
	if p == nil {
		var err error
		if p, err = P.AddProperty(freeMemberName(P, tempKeyName), reflect.TypeFor[int](), true); err != nil {
			return nil, err
		}
		mb.propSources[p.ID()] = metadata.Convention
	}
	return mb.setPrimaryKey(P, []*metadata.Property{p}, metadata.Convention)
}

// matchDependentProperties looks for dependent properties named after the
// navigation or the principal type, for every key property.
func matchDependentProperties(req relRequest, key *metadata.Key) []*metadata.Property {
	D, P := req.dependent, req.principal
	var taken []*metadata.Property
	for _, fk := range key.ReferencingForeignKeys() {
		if fk.DeclaringEntityType() == D {
			taken = append(taken, fk.Properties()...)
		}
	}
	if D == P {
		taken = append(taken, key.Properties()...)
	}
	fold := cases.Fold()
	var out []*metadata.Property
	for _, k := range key.Properties() {
		var names []string
		if req.toPrincipal != "" {
			names = append(names, req.toPrincipal+k.Name())
		}
		names = append(names, P.Name()+k.Name())
		if !key.IsPrimaryKey() || strings.HasPrefix(fold.String(k.Name()), fold.String(P.Name())) {
			names = append(names, k.Name())
		}
		want := shape.Underlying(k.ClrType())
		var found *metadata.Property
	search:
		for _, name := range names {
			for _, p := range D.Properties() {
				if !convention.NameEqual(p.Name(), name) || shape.Underlying(p.ClrType()) != want {
					continue
				}
				if slices.Contains(taken, p) || slices.Contains(out, p) {
					continue
				}
				found = p
				break search
			}
		}
		if found == nil {
			return nil
		}
		out = append(out, found)
	}
	return out
}

// shadowProperties adds one shadow property per key property, named
// <navigation or principal><key property>, suffixed with a number when the
// name is taken.
func (mb *ModelBuilder) shadowProperties(req relRequest, key *metadata.Key) ([]*metadata.Property, error) {
	base := req.toPrincipal
	if base == "" {
		base = req.principal.Name()
	}
	required := req.required != nil && *req.required
	var out []*metadata.Property
	for _, k := range key.Properties() {
		typ := shape.Underlying(k.ClrType())
		if !required {
			typ = shape.MakeNullable(typ)
		}
		p, err := req.dependent.AddProperty(freeMemberName(req.dependent, base+k.Name()), typ, true)
		if err != nil {
			return nil, err
		}
		mb.propSources[p.ID()] = metadata.Convention
		out = append(out, p)
	}
	return out, nil
}

func freeMemberName(et *metadata.EntityType, name string) string {
	taken := func(n string) bool {
		_, field := et.Shape().Member(n)
		return field || et.FindProperty(n) != nil || et.FindNavigation(n) != nil
	}
	candidate := name
	for i := 1; taken(candidate); i++ {
		candidate = name + strconv.Itoa(i)
	}
	return candidate
}

// setPrimaryKey makes props the primary key of et unless a stronger source
// already set one. Foreign keys referencing the old key follow the new one
// when they were not pointed at it explicitly, and an old key no longer
// referenced goes away unless it was configured explicitly.
func (mb *ModelBuilder) setPrimaryKey(et *metadata.EntityType, props []*metadata.Property, source metadata.ConfigurationSource) (*metadata.Key, error) {
	old := et.PrimaryKey()
	if old != nil && sameProps(old.Properties(), props) {
		mb.pkSources[et.ID()] = mb.pkSources[et.ID()].Max(source)
		mb.keySources[old.ID()] = mb.keySources[old.ID()].Max(source)
		return old, nil
	}
	if old != nil && !source.Overrides(mb.pkSources[et.ID()]) {
		return old, nil
	}
	k, err := et.SetPrimaryKey(props)
	if err != nil {
		return nil, err
	}
	mb.pkSources[et.ID()] = source
	mb.keySources[k.ID()] = mb.keySources[k.ID()].Max(source)
	if old != nil {
		if err := mb.movePrincipalKey(old, k); err != nil {
			return nil, err
		}
	}
	mb.logger.Debug("primary key set", "entity_type", et.Name(), "key", metadata.Names(props), "source", source.String())
	return k, mb.dispatch(convention.Mutation{Event: convention.KeyChanged, EntityType: et, Key: k})
}

func (mb *ModelBuilder) movePrincipalKey(old, k *metadata.Key) error {
	et := old.DeclaringEntityType()
	for _, fk := range old.ReferencingForeignKeys() {
		if fk.PrincipalKeySource == metadata.Explicit {
			continue
		}
		if metadata.CheckCompatible(fk.Properties(), k.Properties(), fk.DeclaringEntityType(), et) == nil {
			if err := fk.SetPrincipalKey(k); err != nil {
				return err
			}
			continue
		}
		if fk.PropertiesSource == metadata.Explicit {
			continue
		}
		if err := mb.rebuild(fk); err != nil {
			return err
		}
	}
	if len(old.ReferencingForeignKeys()) > 0 || mb.keySources[old.ID()] == metadata.Explicit {
		return nil
	}
	oldProps := old.Properties()
	if err := et.RemoveKey(old); err != nil {
		return err
	}
	delete(mb.keySources, old.ID())
	return mb.dropUnusedShadow(oldProps)
}

// rebuild recreates a foreign key whose convention properties cannot
// reference the new principal key.
func (mb *ModelBuilder) rebuild(fk *metadata.ForeignKey) error {
	req := relRequest{
		principal:    fk.PrincipalEntityType(),
		dependent:    fk.DeclaringEntityType(),
		unique:       fk.IsUnique(),
		source:       fk.Source,
		uniqueSource: fk.UniqueSource,
		endSource:    fk.PrincipalEndSource,
	}
	if n := fk.DependentToPrincipal(); n != nil {
		req.toPrincipal = n.Name()
	}
	if n := fk.PrincipalToDependent(); n != nil {
		req.toDependent = n.Name()
	}
	if fk.RequiredSource == metadata.Explicit {
		required := fk.IsRequired()
		req.required = &required
	}
	if err := mb.removeForeignKey(fk); err != nil {
		return err
	}
	_, err := mb.relate(req)
	return err
}

// removeForeignKey removes fk, the convention indexes over its properties
// and the convention shadow properties nothing else uses.
func (mb *ModelBuilder) removeForeignKey(fk *metadata.ForeignKey) error {
	D, props := fk.DeclaringEntityType(), fk.Properties()
	if err := D.RemoveForeignKey(fk); err != nil {
		return err
	}
	if ix := D.FindIndex(props); ix != nil && mb.indexSources[ix.ID()] != metadata.Explicit && len(D.FindForeignKeys(props)) == 0 {
		if err := D.RemoveIndex(ix); err != nil {
			return err
		}
		delete(mb.indexSources, ix.ID())
	}
	mb.logger.Debug("foreign key removed", "entity_type", D.Name(), "properties", metadata.Names(props))
	return mb.dropUnusedShadow(props)
}

func (mb *ModelBuilder) dropUnusedShadow(props []*metadata.Property) error {
	for _, p := range props {
		if !p.IsShadow() || mb.propSources[p.ID()] == metadata.Explicit {
			continue
		}
		if p.IsKey() || p.IsForeignKey() || p.IsIndexed() {
			continue
		}
		if err := p.DeclaringEntityType().RemoveProperty(p); err != nil {
			return err
		}
		delete(mb.propSources, p.ID())
	}
	return nil
}

// removeEntityType removes et and every foreign key of another type that
// references it.
func (mb *ModelBuilder) removeEntityType(et *metadata.EntityType) error {
	for _, fk := range et.ReferencingForeignKeys() {
		if fk.DeclaringEntityType() == et {
			continue
		}
		if err := mb.removeForeignKey(fk); err != nil {
			return err
		}
	}
	if err := mb.model.RemoveEntityType(et); err != nil {
		return err
	}
	delete(mb.entitySources, et.ID())
	delete(mb.pkSources, et.ID())
	mb.logger.Debug("entity type removed", "entity_type", et.Name())
	return nil
}

// removeUnreachable removes the convention entity types that can no
// longer be reached from an explicitly configured one, following
// navigations and explicit foreign keys.
func (mb *ModelBuilder) removeUnreachable() error {
	reached := make(map[metadata.EntityTypeID]bool)
	var queue []*metadata.EntityType
	visit := func(et *metadata.EntityType) {
		if !reached[et.ID()] {
			reached[et.ID()] = true
			queue = append(queue, et)
		}
	}
	for _, et := range mb.model.EntityTypes() {
		if mb.entitySources[et.ID()] == metadata.Explicit {
			visit(et)
		}
	}
	for len(queue) > 0 {
		et := queue[0]
		queue = queue[1:]
		for _, n := range et.Navigations() {
			visit(n.TargetEntityType())
		}
		for _, fk := range et.ForeignKeys() {
			if fk.Source == metadata.Explicit {
				visit(fk.PrincipalEntityType())
			}
		}
		for _, fk := range et.ReferencingForeignKeys() {
			if fk.Source == metadata.Explicit {
				visit(fk.DeclaringEntityType())
			}
		}
	}
	for _, et := range mb.model.EntityTypes() {
		if reached[et.ID()] || mb.model.EntityTypeByID(et.ID()) != et {
			continue
		}
		if err := mb.removeEntityType(et); err != nil {
			return err
		}
	}
	return nil
}
