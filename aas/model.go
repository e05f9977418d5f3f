// Package aas holds the element tree of an Asset Administration Shell
// environment as the bridge tracks it: shells, submodels, concept
// descriptions and the nested submodel elements, each carrying the identity
// it acquired in the local catalog.
package aas

import "encoding/json"

// KeyType names the kind of a reference key.
type KeyType string

// Key types used in reference chains.
const (
	KeyShell              KeyType = "AssetAdministrationShell"
	KeySubmodel           KeyType = "Submodel"
	KeyConceptDescription KeyType = "ConceptDescription"
	KeySubmodelElement    KeyType = "SubmodelElement"
)

// Key is one hop of a reference chain.
type Key struct {
	Type  KeyType `json:"type" msgpack:"type"`
	Value string  `json:"value" msgpack:"value"`
}

// Reference is an ordered key chain, used for semantic ids.
type Reference struct {
	Type string `json:"type,omitempty" msgpack:"type,omitempty"`
	Keys []Key  `json:"keys" msgpack:"keys"`
}

// LangString is a text with its language tag.
type LangString struct {
	Language string `json:"language" msgpack:"language"`
	Text     string `json:"text" msgpack:"text"`
}

// EmbeddedDataSpecification is carried through unchanged. Content is kept as
// raw JSON since the bridge never interprets it.
type EmbeddedDataSpecification struct {
	DataSpecification Reference       `json:"dataSpecification" msgpack:"dataSpecification"`
	Content           json.RawMessage `json:"dataSpecificationContent,omitempty" msgpack:"content,omitempty"`
}

// Administration carries the version of an identifiable.
type Administration struct {
	Version  string `json:"version,omitempty" msgpack:"version,omitempty"`
	Revision string `json:"revision,omitempty" msgpack:"revision,omitempty"`
}

// Identity is the pair of ids a node acquires once it is registered in the
// local catalog and given a usage contract.
type Identity struct {
	ResourceID  string `json:"resourceId,omitempty" msgpack:"resourceId,omitempty"`
	AgreementID string `json:"agreementId,omitempty" msgpack:"agreementId,omitempty"`
}

// IsNew reports whether either id is still missing.
func (i Identity) IsNew() bool {
	return i.ResourceID == "" || i.AgreementID == ""
}

// DataAddress locates a node on its remote service.
type DataAddress struct {
	BaseURL        string `json:"baseUrl" msgpack:"baseUrl"`
	ReferenceChain []Key  `json:"referenceChain" msgpack:"referenceChain"`
	Path           string `json:"path" msgpack:"path"`
	Method         string `json:"method" msgpack:"method"`
}

// Descriptor is what the mapper attaches to every node: a content addressed
// id plus the address the data can be read from.
type Descriptor struct {
	StableID    string      `json:"stableId,omitempty" msgpack:"stableId,omitempty"`
	DataAddress DataAddress `json:"dataAddress" msgpack:"dataAddress"`
}

// Node holds the fields shared by every element of the tree.
type Node struct {
	IDShort                    string                      `json:"idShort" msgpack:"idShort"`
	DisplayName                []LangString                `json:"displayName,omitempty" msgpack:"displayName,omitempty"`
	Description                []LangString                `json:"description,omitempty" msgpack:"description,omitempty"`
	SemanticID                 *Reference                  `json:"semanticId,omitempty" msgpack:"semanticId,omitempty"`
	EmbeddedDataSpecifications []EmbeddedDataSpecification `json:"embeddedDataSpecifications,omitempty" msgpack:"eds,omitempty"`

	Identity   `msgpack:",inline"`
	Descriptor `msgpack:",inline"`
}

// Base returns the node itself so *Node satisfies Element for embedders.
func (n *Node) Base() *Node {
	return n
}

// SourceURL is the base URL the node's data is served from.
func (n *Node) SourceURL() string {
	return n.DataAddress.BaseURL
}

// ReferenceChain returns the key chain leading to the node.
func (n *Node) ReferenceChain() []Key {
	return n.DataAddress.ReferenceChain
}

// Element is any node of the tree.
type Element interface {
	Base() *Node
}

// Shell is an Asset Administration Shell.
type Shell struct {
	Node           `msgpack:",inline"`
	ID             string          `json:"id" msgpack:"id"`
	Administration *Administration `json:"administration,omitempty" msgpack:"administration,omitempty"`
}

// ConceptDescription describes the semantics of a concept.
type ConceptDescription struct {
	Node           `msgpack:",inline"`
	ID             string          `json:"id" msgpack:"id"`
	Administration *Administration `json:"administration,omitempty" msgpack:"administration,omitempty"`
}

// Submodel owns an ordered sequence of submodel elements.
type Submodel struct {
	Node           `msgpack:",inline"`
	ID             string             `json:"id" msgpack:"id"`
	Administration *Administration    `json:"administration,omitempty" msgpack:"administration,omitempty"`
	Elements       []*SubmodelElement `json:"submodelElements,omitempty" msgpack:"submodelElements,omitempty"`
}

// ElementKind tags the variant of a submodel element.
type ElementKind string

// Submodel element kinds. Only collections and lists own children.
const (
	KindProperty              ElementKind = "Property"
	KindMultiLanguageProperty ElementKind = "MultiLanguageProperty"
	KindRange                 ElementKind = "Range"
	KindFile                  ElementKind = "File"
	KindBlob                  ElementKind = "Blob"
	KindReferenceElement      ElementKind = "ReferenceElement"
	KindRelationshipElement   ElementKind = "RelationshipElement"
	KindEntity                ElementKind = "Entity"
	KindOperation             ElementKind = "Operation"
	KindCapability            ElementKind = "Capability"
	KindBasicEventElement     ElementKind = "BasicEventElement"
	KindCollection            ElementKind = "SubmodelElementCollection"
	KindList                  ElementKind = "SubmodelElementList"
)

// UnmarshalJSON accepts the plain string form and the older {"name": ...}
// object form of modelType.
func (k *ElementKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*k = ElementKind(s)
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*k = ElementKind(obj.Name)
	return nil
}

// IsContainer reports whether elements of this kind own nested elements.
func (k ElementKind) IsContainer() bool {
	return k == KindCollection || k == KindList
}

// SubmodelElement is a tagged variant: leaves carry an opaque Value, containers
// carry Children.
type SubmodelElement struct {
	Node      `msgpack:",inline"`
	Kind      ElementKind        `json:"modelType" msgpack:"modelType"`
	ValueType string             `json:"valueType,omitempty" msgpack:"valueType,omitempty"`
	Value     json.RawMessage    `json:"value,omitempty" msgpack:"value,omitempty"`
	Children  []*SubmodelElement `json:"children,omitempty" msgpack:"children,omitempty"`
}

// Environment is the tree fetched from one service.
type Environment struct {
	Shells              []*Shell              `json:"assetAdministrationShells" msgpack:"shells"`
	Submodels           []*Submodel           `json:"submodels" msgpack:"submodels"`
	ConceptDescriptions []*ConceptDescription `json:"conceptDescriptions" msgpack:"conceptDescriptions"`
}

// NewEnvironment returns an empty environment.
func NewEnvironment() *Environment {
	return &Environment{
		Shells:              []*Shell{},
		Submodels:           []*Submodel{},
		ConceptDescriptions: []*ConceptDescription{},
	}
}
