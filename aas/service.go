package aas

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
)

const (
	defaultShellsPath              = "/shells"
	defaultSubmodelsPath           = "/submodels"
	defaultConceptDescriptionsPath = "/concept-descriptions"
)

// Service is a remote AAS endpoint. It is immutable once constructed and two
// services are equal iff their access URLs are.
type Service struct {
	accessURL               string
	shellsPath              string
	submodelsPath           string
	conceptDescriptionsPath string
}

// ServiceOption overrides how sub-resource URLs are derived.
type ServiceOption func(*Service)

// WithShellsPath sets the path of the shells resource.
func WithShellsPath(p string) ServiceOption {
	return func(s *Service) { s.shellsPath = p }
}

// WithSubmodelsPath sets the path of the submodels resource.
func WithSubmodelsPath(p string) ServiceOption {
	return func(s *Service) { s.submodelsPath = p }
}

// WithConceptDescriptionsPath sets the path of the concept descriptions resource.
func WithConceptDescriptionsPath(p string) ServiceOption {
	return func(s *Service) { s.conceptDescriptionsPath = p }
}

// NewService builds a service for the given access URL. The URL is not
// validated here; the sub-resource accessors report malformed input.
func NewService(accessURL string, opts ...ServiceOption) Service {
	s := Service{
		accessURL:               strings.TrimRight(strings.TrimSpace(accessURL), "/"),
		shellsPath:              defaultShellsPath,
		submodelsPath:           defaultSubmodelsPath,
		conceptDescriptionsPath: defaultConceptDescriptionsPath,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// AccessURL returns the base URL with any trailing slash removed.
func (s Service) AccessURL() string {
	return s.accessURL
}

// Key is the identity of the service in maps and stores.
func (s Service) Key() string {
	return s.accessURL
}

// Equal compares services by access URL.
func (s Service) Equal(other Service) bool {
	return s.accessURL == other.accessURL
}

// String implements fmt.Stringer.
func (s Service) String() string {
	return s.accessURL
}

// ShellsURL derives the shells resource URL.
func (s Service) ShellsURL() (string, error) {
	return s.resolve(s.shellsPath)
}

// SubmodelsURL derives the submodels resource URL.
func (s Service) SubmodelsURL() (string, error) {
	return s.resolve(s.submodelsPath)
}

// ConceptDescriptionsURL derives the concept descriptions resource URL.
func (s Service) ConceptDescriptionsURL() (string, error) {
	return s.resolve(s.conceptDescriptionsPath)
}

func (s Service) resolve(path string) (string, error) {
	if s.accessURL == "" {
		return "", errors.ErrMissingAccessURL
	}
	raw := s.accessURL + path
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", errors.ErrMalformedURL, raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %s: missing scheme or host", errors.ErrMalformedURL, raw)
	}
	return u.String(), nil
}

// ValidateURL checks that raw is an absolute URL a service could live at.
func ValidateURL(raw string) error {
	_, err := NewService(raw).resolve("")
	return err
}
