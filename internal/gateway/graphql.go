package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/couchcryptid/erp-gateway/internal/composition"
	"github.com/couchcryptid/erp-gateway/internal/observability"
	"github.com/couchcryptid/erp-gateway/internal/subgraph"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
)

const maxBodyBytes = 1 << 20

// GraphQL serves the composed-schema path: it inspects the operation's
// top-level fields, delegates each group to its owning subgraph with
// the caller's forwarded headers, and merges the results. It does not
// execute GraphQL itself.
type GraphQL struct {
	holder  *composition.Holder
	login   *LoginFastPath
	client  *http.Client
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewGraphQL wires the composed-schema handler. requestTimeout bounds
// each outbound subgraph call.
func NewGraphQL(holder *composition.Holder, login *LoginFastPath, requestTimeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *GraphQL {
	return &GraphQL{
		holder:  holder,
		login:   login,
		client:  &http.Client{Timeout: requestTimeout},
		logger:  logger,
		metrics: metrics,
	}
}

type graphQLRequest struct {
	Query         string                     `json:"query"`
	Variables     map[string]json.RawMessage `json:"variables,omitempty"`
	OperationName string                     `json:"operationName,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage   `json:"data,omitempty"`
	Errors []json.RawMessage `json:"errors,omitempty"`
}

func (g *GraphQL) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeGraphQLError(w, http.StatusBadRequest, "BAD_REQUEST", "unreadable request body")
		return
	}

	// The login fast-path runs before anything else, including the
	// metrics below: authentication must work while composition is
	// still warming up.
	if g.login.Match(body) {
		g.login.Forward(w, r, body)
		return
	}

	start := time.Now()

	var req graphQLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		g.record("anonymous", "error", start)
		writeGraphQLError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	opLabel := req.OperationName
	if opLabel == "" {
		opLabel = "anonymous"
	}

	comp := g.holder.Snapshot().Composition
	if comp == nil {
		g.record(opLabel, "error", start)
		writeGraphQLError(w, http.StatusServiceUnavailable, "SCHEMA_NOT_READY", "gateway schema not ready")
		return
	}

	doc, parseErr := parser.ParseQuery(&ast.Source{Name: "request", Input: req.Query})
	if parseErr != nil {
		g.record(opLabel, "error", start)
		writeGraphQLError(w, http.StatusBadRequest, "GRAPHQL_PARSE_FAILED", parseErr.Error())
		return
	}

	op, err := pickOperation(doc, req.OperationName)
	if err != nil {
		g.record(opLabel, "error", start)
		writeGraphQLError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if op.Name != "" {
		opLabel = op.Name
	}

	if depth := queryDepth(op.SelectionSet, doc); depth > maxQueryDepth {
		g.record(opLabel, "error", start)
		writeGraphQLError(w, http.StatusBadRequest, "GRAPHQL_VALIDATION_FAILED",
			fmt.Sprintf("query depth %d exceeds maximum allowed depth of %d", depth, maxQueryDepth))
		return
	}

	routes, rootType, err := routesFor(comp, op)
	if err != nil {
		g.record(opLabel, "error", start)
		writeGraphQLError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	fields, err := rootFields(op.SelectionSet, doc)
	if err != nil {
		g.record(opLabel, "error", start)
		writeGraphQLError(w, http.StatusBadRequest, "GRAPHQL_VALIDATION_FAILED", err.Error())
		return
	}

	localData := map[string]json.RawMessage{}
	groups, order, err := partitionFields(fields, routes, rootType, localData)
	if err != nil {
		g.record(opLabel, "error", start)
		writeGraphQLError(w, http.StatusBadRequest, "GRAPHQL_VALIDATION_FAILED", err.Error())
		return
	}

	caller := CallerFromRequest(r)

	results := g.delegate(r.Context(), doc, op, req, groups, order, caller)

	mergedData := localData
	var mergedErrors []json.RawMessage
	for _, name := range order {
		res := results[name]
		if res.transportErr != nil {
			g.logger.Warn("subgraph call failed on composed path",
				"subgraph", name, "operation", opLabel, "error", res.transportErr)
			mergedErrors = append(mergedErrors, subgraphUnavailableError(name))
			continue
		}
		for k, v := range res.data {
			mergedData[k] = v
		}
		mergedErrors = append(mergedErrors, res.errors...)
	}

	status := "success"
	if len(mergedErrors) > 0 {
		status = "error"
	}
	g.record(opLabel, status, start)

	data, _ := json.Marshal(mergedData)
	writeJSON(w, http.StatusOK, graphQLResponse{Data: data, Errors: mergedErrors})
}

func (g *GraphQL) record(operation, status string, start time.Time) {
	g.metrics.GraphQLRequestsTotal.WithLabelValues(operation, status).Inc()
	g.metrics.GraphQLRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

type subgraphResult struct {
	data         map[string]json.RawMessage
	errors       []json.RawMessage
	transportErr error
}

// delegate forwards each field group to its subgraph concurrently. One
// failing subgraph never cancels the others; its fields surface as
// SUBGRAPH_UNAVAILABLE errors alongside partial data.
func (g *GraphQL) delegate(ctx context.Context, doc *ast.QueryDocument, op *ast.OperationDefinition, req graphQLRequest, groups map[string]fieldGroup, order []string, caller CallerContext) map[string]*subgraphResult {
	results := make(map[string]*subgraphResult, len(order))
	for _, name := range order {
		results[name] = &subgraphResult{}
	}

	var wg sync.WaitGroup
	for _, name := range order {
		group := groups[name]
		res := results[name]
		wg.Add(1)
		go func() {
			defer wg.Done()

			var payload []byte
			if len(order) == 1 && len(doc.Operations) == 1 {
				// Single owner, single operation: forward the request
				// as-is rather than reformatting it.
				payload, _ = json.Marshal(req)
			} else {
				subReq := buildSubRequest(doc, op, req, group)
				payload, _ = json.Marshal(subReq)
			}

			data, errs, err := g.post(ctx, group.target.URL, payload, caller)
			res.data, res.errors, res.transportErr = data, errs, err
		}()
	}
	wg.Wait()
	return results
}

func (g *GraphQL) post(ctx context.Context, url string, payload []byte, caller CallerContext) (map[string]json.RawMessage, []json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	caller.Apply(httpReq.Header)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes*8))
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var parsed struct {
		Data   map[string]json.RawMessage `json:"data"`
		Errors []json.RawMessage          `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, nil, fmt.Errorf("malformed subgraph response: %w", err)
	}
	return parsed.Data, parsed.Errors, nil
}

type fieldGroup struct {
	target subgraph.Descriptor
	fields []*ast.Field
}

func pickOperation(doc *ast.QueryDocument, operationName string) (*ast.OperationDefinition, error) {
	if operationName != "" {
		op := doc.Operations.ForName(operationName)
		if op == nil {
			return nil, fmt.Errorf("unknown operation %q", operationName)
		}
		return op, nil
	}
	if len(doc.Operations) != 1 {
		return nil, fmt.Errorf("operationName is required when the document defines %d operations", len(doc.Operations))
	}
	return doc.Operations[0], nil
}

func routesFor(comp *composition.Composition, op *ast.OperationDefinition) (map[string]subgraph.Descriptor, string, error) {
	switch op.Operation {
	case ast.Query:
		return comp.QueryRoutes, "Query", nil
	case ast.Mutation:
		return comp.MutationRoutes, "Mutation", nil
	default:
		return nil, "", fmt.Errorf("unsupported operation type %q", op.Operation)
	}
}

// rootFields flattens the operation's top-level selections, resolving
// fragment spreads and inline fragments against the document.
func rootFields(sel ast.SelectionSet, doc *ast.QueryDocument) ([]*ast.Field, error) {
	var out []*ast.Field
	for _, s := range sel {
		switch s := s.(type) {
		case *ast.Field:
			out = append(out, s)
		case *ast.InlineFragment:
			nested, err := rootFields(s.SelectionSet, doc)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		case *ast.FragmentSpread:
			frag := doc.Fragments.ForName(s.Name)
			if frag == nil {
				return nil, fmt.Errorf("unknown fragment %q", s.Name)
			}
			nested, err := rootFields(frag.SelectionSet, doc)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		}
	}
	return out, nil
}

// partitionFields groups top-level fields by owning subgraph, keeping
// first-appearance order. Introspection meta fields are answered
// locally; unknown fields fail the request.
func partitionFields(fields []*ast.Field, routes map[string]subgraph.Descriptor, rootType string, localData map[string]json.RawMessage) (map[string]fieldGroup, []string, error) {
	groups := make(map[string]fieldGroup)
	var order []string
	for _, f := range fields {
		if f.Name == "__typename" {
			alias := f.Alias
			if alias == "" {
				alias = f.Name
			}
			localData[alias], _ = json.Marshal(rootType)
			continue
		}
		target, ok := routes[f.Name]
		if !ok {
			return nil, nil, fmt.Errorf("cannot query field %q on type %q", f.Name, rootType)
		}
		group, seen := groups[target.Name]
		if !seen {
			group = fieldGroup{target: target}
			order = append(order, target.Name)
		}
		group.fields = append(group.fields, f)
		groups[target.Name] = group
	}
	return groups, order, nil
}

// buildSubRequest formats a sub-operation containing only the group's
// fields, the fragments they reference, and the variables they use.
func buildSubRequest(doc *ast.QueryDocument, op *ast.OperationDefinition, req graphQLRequest, group fieldGroup) graphQLRequest {
	sel := make(ast.SelectionSet, 0, len(group.fields))
	for _, f := range group.fields {
		sel = append(sel, f)
	}

	fragments := collectFragments(sel, doc)
	used := usedVariables(sel, fragments)

	var varDefs ast.VariableDefinitionList
	for _, vd := range op.VariableDefinitions {
		if used[vd.Variable] {
			varDefs = append(varDefs, vd)
		}
	}

	subDoc := &ast.QueryDocument{
		Operations: ast.OperationList{{
			Operation:           op.Operation,
			Name:                op.Name,
			VariableDefinitions: varDefs,
			SelectionSet:        sel,
		}},
		Fragments: fragments,
	}

	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(subDoc)

	variables := make(map[string]json.RawMessage)
	for name, v := range req.Variables {
		if used[name] {
			variables[name] = v
		}
	}
	if len(variables) == 0 {
		variables = nil
	}

	return graphQLRequest{
		Query:         buf.String(),
		Variables:     variables,
		OperationName: op.Name,
	}
}

// collectFragments returns the fragment definitions transitively
// referenced by the selection set.
func collectFragments(sel ast.SelectionSet, doc *ast.QueryDocument) ast.FragmentDefinitionList {
	seen := make(map[string]bool)
	var out ast.FragmentDefinitionList

	var walk func(ast.SelectionSet)
	walk = func(sel ast.SelectionSet) {
		for _, s := range sel {
			switch s := s.(type) {
			case *ast.Field:
				walk(s.SelectionSet)
			case *ast.InlineFragment:
				walk(s.SelectionSet)
			case *ast.FragmentSpread:
				if seen[s.Name] {
					continue
				}
				seen[s.Name] = true
				if frag := doc.Fragments.ForName(s.Name); frag != nil {
					out = append(out, frag)
					walk(frag.SelectionSet)
				}
			}
		}
	}
	walk(sel)
	return out
}

// usedVariables finds every variable referenced by the selections or
// the fragments they spread.
func usedVariables(sel ast.SelectionSet, fragments ast.FragmentDefinitionList) map[string]bool {
	used := make(map[string]bool)

	var walkValue func(v *ast.Value)
	walkValue = func(v *ast.Value) {
		if v == nil {
			return
		}
		if v.Kind == ast.Variable {
			used[v.Raw] = true
		}
		for _, c := range v.Children {
			walkValue(c.Value)
		}
	}

	var walk func(ast.SelectionSet)
	walk = func(sel ast.SelectionSet) {
		for _, s := range sel {
			switch s := s.(type) {
			case *ast.Field:
				for _, a := range s.Arguments {
					walkValue(a.Value)
				}
				for _, d := range s.Directives {
					for _, a := range d.Arguments {
						walkValue(a.Value)
					}
				}
				walk(s.SelectionSet)
			case *ast.InlineFragment:
				walk(s.SelectionSet)
			case *ast.FragmentSpread:
				for _, d := range s.Directives {
					for _, a := range d.Arguments {
						walkValue(a.Value)
					}
				}
			}
		}
	}
	walk(sel)
	for _, frag := range fragments {
		walk(frag.SelectionSet)
	}
	return used
}

func subgraphUnavailableError(name string) json.RawMessage {
	e := map[string]any{
		"message": fmt.Sprintf("subgraph %s unavailable", name),
		"extensions": map[string]any{
			"code":        "SUBGRAPH_UNAVAILABLE",
			"serviceName": name,
		},
	}
	b, _ := json.Marshal(e)
	return b
}

func writeGraphQLError(w http.ResponseWriter, status int, code, message string) {
	e := map[string]any{
		"errors": []map[string]any{{
			"message":    message,
			"extensions": map[string]any{"code": code},
		}},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(e)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
