package composition

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/couchcryptid/erp-gateway/internal/subgraph"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
	"golang.org/x/sync/errgroup"
)

// Composition is one successfully merged supergraph: the servable schema
// plus the routing table mapping each root field to its owning subgraph.
// Immutable once built.
type Composition struct {
	Schema         *ast.Schema
	SDL            string
	QueryRoutes    map[string]subgraph.Descriptor
	MutationRoutes map[string]subgraph.Descriptor
	Subgraphs      []subgraph.Descriptor
}

// Composer fetches subgraph SDLs and merges them into a Composition.
type Composer struct {
	fetcher *Fetcher
	logger  *slog.Logger
}

// NewComposer returns a composer using the given fetcher.
func NewComposer(fetcher *Fetcher, logger *slog.Logger) *Composer {
	return &Composer{fetcher: fetcher, logger: logger}
}

// Compose fetches every subgraph's SDL concurrently and merges the
// results. Any unreachable subgraph or merge conflict fails the whole
// cycle; the caller keeps serving its previous composition.
func (c *Composer) Compose(ctx context.Context, descriptors []subgraph.Descriptor) (*Composition, error) {
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("no federated subgraphs configured")
	}

	sdls := make([]string, len(descriptors))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range descriptors {
		g.Go(func() error {
			sdl, err := c.fetcher.FetchSDL(gctx, d)
			if err != nil {
				return err
			}
			c.logger.Debug("fetched subgraph sdl", "subgraph", d.Name, "bytes", len(sdl))
			sdls[i] = sdl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return merge(descriptors, sdls)
}

// federation root fields that must not leak into the supergraph.
var federationRootFields = map[string]bool{
	"_service":  true,
	"_entities": true,
}

func isFederationType(name string) bool {
	return strings.HasPrefix(name, "_") ||
		strings.HasPrefix(name, "federation__") ||
		strings.HasPrefix(name, "link__")
}

// merge combines per-subgraph schema documents into one supergraph.
// Root operation fields are collected per subgraph into the routing
// table; non-root types must either be identical across subgraphs
// (value types, deduplicated) or unique, otherwise composition fails.
func merge(descriptors []subgraph.Descriptor, sdls []string) (*Composition, error) {
	comp := &Composition{
		QueryRoutes:    make(map[string]subgraph.Descriptor),
		MutationRoutes: make(map[string]subgraph.Descriptor),
		Subgraphs:      descriptors,
	}

	queryDef := &ast.Definition{Kind: ast.Object, Name: "Query"}
	mutationDef := &ast.Definition{Kind: ast.Object, Name: "Mutation"}

	merged := &ast.SchemaDocument{}
	typeOwner := make(map[string]string)
	typeText := make(map[string]string)
	mergedDefs := make(map[string]*ast.Definition)
	extOnly := make(map[string]bool)
	fieldOwner := make(map[string]string)

	for i, d := range descriptors {
		doc, err := parser.ParseSchema(&ast.Source{Name: d.Name, Input: sdls[i]})
		if err != nil {
			return nil, fmt.Errorf("parse sdl of %s: %w", d.Name, err)
		}

		roots := rootTypeNames(doc)

		addDef := func(def *ast.Definition, isExtension bool) error {
			if isFederationType(def.Name) {
				return nil
			}
			stripDirectives(def)

			switch roots[def.Name] {
			case ast.Query:
				return collectRootFields(def, d, queryDef, comp.QueryRoutes, fieldOwner)
			case ast.Mutation:
				return collectRootFields(def, d, mutationDef, comp.MutationRoutes, fieldOwner)
			case ast.Subscription:
				// Subscriptions are not federated by this gateway.
				return nil
			}

			if base, seen := mergedDefs[def.Name]; seen {
				if isExtension {
					// Entity extension: fold new fields into the base type.
					foldFields(base, def)
					typeText[def.Name] = formatDefinition(base)
					return nil
				}
				if extOnly[def.Name] {
					// The base definition arrived after an extension;
					// adopt it and keep the extension's extra fields.
					foldFields(def, base)
					*base = *def
					extOnly[def.Name] = false
					typeOwner[def.Name] = d.Name
					typeText[def.Name] = formatDefinition(base)
					return nil
				}
				if typeText[def.Name] == formatDefinition(def) {
					return nil // identical value type shared by both
				}
				return fmt.Errorf("compose conflict: type %q defined by both %s and %s", def.Name, typeOwner[def.Name], d.Name)
			}
			typeOwner[def.Name] = d.Name
			typeText[def.Name] = formatDefinition(def)
			mergedDefs[def.Name] = def
			extOnly[def.Name] = isExtension
			merged.Definitions = append(merged.Definitions, def)
			return nil
		}

		for _, def := range doc.Definitions {
			if err := addDef(def, false); err != nil {
				return nil, err
			}
		}
		for _, ext := range doc.Extensions {
			if err := addDef(ext, true); err != nil {
				return nil, err
			}
		}
	}

	if len(queryDef.Fields) > 0 {
		merged.Definitions = append(merged.Definitions, queryDef)
	}
	if len(mutationDef.Fields) > 0 {
		merged.Definitions = append(merged.Definitions, mutationDef)
	}

	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatSchemaDocument(merged)
	comp.SDL = buf.String()

	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "supergraph", Input: comp.SDL})
	if err != nil {
		return nil, fmt.Errorf("validate composed supergraph: %w", err)
	}
	comp.Schema = schema

	return comp, nil
}

// collectRootFields moves a subgraph's root operation fields into the
// shared root definition and records their owning subgraph.
func collectRootFields(def *ast.Definition, d subgraph.Descriptor, into *ast.Definition, routes map[string]subgraph.Descriptor, fieldOwner map[string]string) error {
	for _, f := range def.Fields {
		if federationRootFields[f.Name] || isFederationType(f.Name) {
			continue
		}
		key := into.Name + "." + f.Name
		if owner, seen := fieldOwner[key]; seen {
			if owner == d.Name {
				continue
			}
			return fmt.Errorf("compose conflict: field %s defined by both %s and %s", key, owner, d.Name)
		}
		fieldOwner[key] = d.Name
		routes[f.Name] = d
		into.Fields = append(into.Fields, f)
	}
	return nil
}

// rootTypeNames maps type names to the root operation they serve,
// honouring an explicit schema { query: ... } block when present.
func rootTypeNames(doc *ast.SchemaDocument) map[string]ast.Operation {
	roots := map[string]ast.Operation{
		"Query":        ast.Query,
		"Mutation":     ast.Mutation,
		"Subscription": ast.Subscription,
	}
	for _, s := range append(doc.Schema, doc.SchemaExtension...) {
		for _, op := range s.OperationTypes {
			roots[op.Type] = op.Operation
		}
	}
	return roots
}

// stripDirectives removes all directive applications. Federation
// machinery directives (@key, @external, ...) have no definition in the
// merged document and would fail supergraph validation.
func stripDirectives(def *ast.Definition) {
	def.Directives = nil
	for _, f := range def.Fields {
		f.Directives = nil
		for _, a := range f.Arguments {
			a.Directives = nil
		}
	}
	for _, v := range def.EnumValues {
		v.Directives = nil
	}
}

// foldFields appends src's fields to dst, skipping names dst already has.
func foldFields(dst, src *ast.Definition) {
	have := make(map[string]bool, len(dst.Fields))
	for _, f := range dst.Fields {
		have[f.Name] = true
	}
	for _, f := range src.Fields {
		if !have[f.Name] {
			dst.Fields = append(dst.Fields, f)
		}
	}
}

func formatDefinition(def *ast.Definition) string {
	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatSchemaDocument(&ast.SchemaDocument{
		Definitions: ast.DefinitionList{def},
	})
	return buf.String()
}
