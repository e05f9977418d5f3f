// Package mapping turns a fetched AAS environment into the descriptor tree the
// local catalog is built from. Every node gets a content addressed stable id
// and a data address relative to its service.
package mapping

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/aas"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/pipeline"
)

// Tree is a service together with the mapped copy of its environment. A nil
// Environment means the service answered with nothing usable.
type Tree struct {
	Service     aas.Service
	Environment *aas.Environment
}

// Fetched pairs a service with the environment it returned.
type Fetched struct {
	Service     *aas.Service
	Environment *aas.Environment
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithOnlySubmodels makes the mapper drop shells and concept descriptions and
// skip the element trees of submodels.
func WithOnlySubmodels(only bool) Option {
	return func(m *Mapper) {
		m.onlySubmodels = func() bool { return only }
	}
}

// WithOnlySubmodelsFunc consults fn on every mapping, so the mode can be
// switched at runtime.
func WithOnlySubmodelsFunc(fn func() bool) Option {
	return func(m *Mapper) {
		if fn != nil {
			m.onlySubmodels = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mapper) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Mapper maps environments to descriptor trees. It is safe for concurrent use.
type Mapper struct {
	onlySubmodels func() bool
	logger        *slog.Logger
}

// NewMapper creates a mapper. By default full environments are mapped.
func NewMapper(opts ...Option) *Mapper {
	m := &Mapper{
		onlySubmodels: func() bool { return false },
		logger:        slog.Default().With("component", "mapper"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MapAll maps several services in one call. A fatal failure of any service
// fails the aggregate; warnings are collected alongside every best-effort tree.
func (m *Mapper) MapAll(fetched []Fetched) pipeline.Result[[]*Tree] {
	results := make([]pipeline.Result[*Tree], 0, len(fetched))
	for _, f := range fetched {
		results = append(results, m.Map(f.Service, f.Environment))
	}
	return pipeline.Collect(results)
}

// Map maps a single environment. The input environment is not modified.
func (m *Mapper) Map(svc *aas.Service, env *aas.Environment) pipeline.Result[*Tree] {
	if svc == nil || svc.AccessURL() == "" {
		return pipeline.Failed[*Tree](pipeline.Fatal, "mapping failure: access url is empty")
	}
	if env == nil {
		return pipeline.RecoverableFailure(&Tree{Service: *svc},
			fmt.Sprintf("mapping failure for access url %s: environment is null", svc.AccessURL()))
	}

	if _, err := svc.SubmodelsURL(); err != nil {
		m.logger.Debug("Submodels url unusable", "service", svc.AccessURL(), "error", err)
		return pipeline.Failed[*Tree](pipeline.Warning,
			fmt.Sprintf("could not build access url for %s", svc.AccessURL()))
	}

	base := svc.AccessURL()
	onlySubmodels := m.onlySubmodels()

	mapped := aas.NewEnvironment()
	for _, sm := range env.Submodels {
		if sm == nil {
			continue
		}
		c := sm.Clone()
		chain := []aas.Key{{Type: aas.KeySubmodel, Value: c.ID}}
		describe(&c.Node, base, chain)
		if onlySubmodels {
			c.Elements = nil
		} else {
			prefix := submodelPath(c.ID) + "/submodel-elements/"
			describeElements(c.Elements, base, chain, prefix, "", false)
		}
		mapped.Submodels = append(mapped.Submodels, c)
	}

	tree := &Tree{Service: *svc, Environment: mapped}
	if onlySubmodels {
		return pipeline.Success(tree)
	}

	_, shellsErr := svc.ShellsURL()
	_, cdErr := svc.ConceptDescriptionsURL()
	if shellsErr != nil || cdErr != nil {
		m.logger.Debug("Shells or concept descriptions url unusable", "service", base,
			"shells_error", shellsErr, "concept_descriptions_error", cdErr)
		return pipeline.RecoverableFailure(tree,
			fmt.Sprintf("could not build access url for %s", base))
	}

	for _, sh := range env.Shells {
		if sh == nil {
			continue
		}
		c := sh.Clone()
		describe(&c.Node, base, []aas.Key{{Type: aas.KeyShell, Value: c.ID}})
		mapped.Shells = append(mapped.Shells, c)
	}
	for _, cd := range env.ConceptDescriptions {
		if cd == nil {
			continue
		}
		c := cd.Clone()
		describe(&c.Node, base, []aas.Key{{Type: aas.KeyConceptDescription, Value: c.ID}})
		mapped.ConceptDescriptions = append(mapped.ConceptDescriptions, c)
	}

	return pipeline.Success(tree)
}

// describeElements walks a container's children. Children of a list are
// addressed by index, everything else by idShort.
func describeElements(elems []*aas.SubmodelElement, base string, parent []aas.Key, prefix, parentPath string, inList bool) {
	for i, e := range elems {
		if e == nil {
			continue
		}
		segment := e.IDShort
		idPath := parentPath
		switch {
		case inList:
			segment = strconv.Itoa(i)
			idPath += "[" + segment + "]"
		case idPath == "":
			idPath = e.IDShort
		default:
			idPath += "." + e.IDShort
		}

		chain := append(append(make([]aas.Key, 0, len(parent)+1), parent...),
			aas.Key{Type: aas.KeySubmodelElement, Value: segment})
		describeWithPath(&e.Node, base, chain, prefix+idPath)

		if e.Kind.IsContainer() {
			describeElements(e.Children, base, chain, prefix, idPath, e.Kind == aas.KindList)
		}
	}
}

func describe(n *aas.Node, base string, chain []aas.Key) {
	describeWithPath(n, base, chain, pathOf(chain[0]))
}

func describeWithPath(n *aas.Node, base string, chain []aas.Key, path string) {
	n.Descriptor = aas.Descriptor{
		StableID: StableID(base, path),
		DataAddress: aas.DataAddress{
			BaseURL:        base,
			ReferenceChain: chain,
			Path:           path,
			Method:         http.MethodGet,
		},
	}
}

func pathOf(k aas.Key) string {
	switch k.Type {
	case aas.KeyShell:
		return "/shells/" + EncodeID(k.Value)
	case aas.KeyConceptDescription:
		return "/concept-descriptions/" + EncodeID(k.Value)
	default:
		return submodelPath(k.Value)
	}
}

func submodelPath(id string) string {
	return "/submodels/" + EncodeID(id)
}

// EncodeID encodes an identifier the way the AAS HTTP API expects it in a path.
func EncodeID(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

// StableID derives the resource id of a node from its service and path. The
// same remote element always maps to the same id.
func StableID(accessURL, path string) string {
	sum := blake3.Sum256([]byte(strings.TrimRight(accessURL, "/") + ":" + path))
	return hex.EncodeToString(sum[:])
}
