package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/carlos-schmidt/EDC-Extension-for-AAS/errors"
	"github.com/carlos-schmidt/EDC-Extension-for-AAS/pkg/retry"
)

const (
	edcNamespace    = "https://w3id.org/edc/v0.0.1/ns/"
	odrlNamespace   = "http://www.w3.org/ns/odrl/2/"
	dspProtocolHTTP = "dataspace-protocol-http"
)

// ManagementCatalogClient asks the local connector's management API to fetch
// a provider catalog over the dataspace protocol.
type ManagementCatalogClient struct {
	managementURL string
	http          *http.Client
	retry         retry.Config
}

// NewManagementCatalogClient builds a client for managementURL, e.g.
// "http://localhost:8181/management".
func NewManagementCatalogClient(managementURL string, httpClient *http.Client) *ManagementCatalogClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ManagementCatalogClient{
		managementURL: strings.TrimRight(managementURL, "/"),
		http:          httpClient,
		retry:         retry.Quick(),
	}
}

type catalogRequest struct {
	Context             map[string]string `json:"@context"`
	Type                string            `json:"@type"`
	CounterPartyAddress string            `json:"counterPartyAddress"`
	CounterPartyID      string            `json:"counterPartyId"`
	Protocol            string            `json:"protocol"`
	QuerySpec           querySpec         `json:"querySpec"`
}

type querySpec struct {
	FilterExpression []criterion `json:"filterExpression"`
}

type criterion struct {
	OperandLeft  string `json:"operandLeft"`
	Operator     string `json:"operator"`
	OperandRight string `json:"operandRight"`
}

// RequestCatalog implements CatalogClient.
func (c *ManagementCatalogClient) RequestCatalog(ctx context.Context, counterpartyID, counterpartyURL, assetID string) (*Catalog, error) {
	body, err := json.Marshal(catalogRequest{
		Context:             map[string]string{"@vocab": edcNamespace},
		Type:                "CatalogRequest",
		CounterPartyAddress: counterpartyURL,
		CounterPartyID:      counterpartyID,
		Protocol:            dspProtocolHTTP,
		QuerySpec: querySpec{FilterExpression: []criterion{
			{OperandLeft: edcNamespace + "id", Operator: "=", OperandRight: assetID},
		}},
	})
	if err != nil {
		return nil, errors.WrapInvalid(err, "ManagementCatalogClient", "RequestCatalog", "encode request")
	}

	return retry.DoWithResult(ctx, c.retry, func() (*Catalog, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.managementURL+"/v3/catalog/request", bytes.NewReader(body))
		if err != nil {
			return nil, retry.NonRetryable(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, errors.WrapTransient(err, "ManagementCatalogClient", "RequestCatalog", "send request")
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.WrapTransient(err, "ManagementCatalogClient", "RequestCatalog", "read response")
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: catalog request returned %s", errors.ErrServiceUnreachable, resp.Status)
		}
		if resp.StatusCode >= 300 {
			return nil, retry.NonRetryable(fmt.Errorf("catalog request returned %s: %s", resp.Status, strings.TrimSpace(string(data))))
		}

		catalog, err := DecodeCatalog(data)
		if err != nil {
			return nil, retry.NonRetryable(err)
		}
		return catalog, nil
	})
}

// DecodeCatalog reads a compacted DCAT catalog as returned by a connector.
// Single values and one-element arrays are treated alike.
func DecodeCatalog(data []byte) (*Catalog, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: catalog: %v", errors.ErrParsingFailed, err)
	}

	catalog := &Catalog{ID: idOf(doc["@id"]), Datasets: []Dataset{}}
	for _, rawDataset := range many(field(doc, "dcat:dataset", "dataset")) {
		var ds map[string]json.RawMessage
		if err := json.Unmarshal(rawDataset, &ds); err != nil {
			return nil, fmt.Errorf("%w: dataset: %v", errors.ErrParsingFailed, err)
		}
		dataset := Dataset{ID: idOf(ds["@id"]), Offers: []Offer{}}
		for _, rawOffer := range many(field(ds, "odrl:hasPolicy", "hasPolicy")) {
			offer, err := decodeOffer(rawOffer)
			if err != nil {
				return nil, err
			}
			dataset.Offers = append(dataset.Offers, offer)
		}
		catalog.Datasets = append(catalog.Datasets, dataset)
	}
	return catalog, nil
}

func decodeOffer(raw json.RawMessage) (Offer, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Offer{}, fmt.Errorf("%w: offer: %v", errors.ErrParsingFailed, err)
	}
	permissions, err := decodeRules(field(obj, "odrl:permission", "permission"))
	if err != nil {
		return Offer{}, err
	}
	prohibitions, err := decodeRules(field(obj, "odrl:prohibition", "prohibition"))
	if err != nil {
		return Offer{}, err
	}
	obligations, err := decodeRules(field(obj, "odrl:obligation", "obligation"))
	if err != nil {
		return Offer{}, err
	}
	return Offer{
		ID:     idOf(obj["@id"]),
		Policy: Policy{Permissions: permissions, Prohibitions: prohibitions, Obligations: obligations},
	}, nil
}

func decodeRules(raw json.RawMessage) ([]Rule, error) {
	var rules []Rule
	for _, rawRule := range many(raw) {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(rawRule, &obj); err != nil {
			return nil, fmt.Errorf("%w: rule: %v", errors.ErrParsingFailed, err)
		}
		rule := Rule{Action: odrlTerm(idOf(field(obj, "odrl:action", "action")))}
		for _, rawConstraint := range many(field(obj, "odrl:constraint", "constraint")) {
			var c map[string]json.RawMessage
			if err := json.Unmarshal(rawConstraint, &c); err != nil {
				return nil, fmt.Errorf("%w: constraint: %v", errors.ErrParsingFailed, err)
			}
			rule.Constraints = append(rule.Constraints, Constraint{
				LeftOperand:  idOf(field(c, "odrl:leftOperand", "leftOperand")),
				Operator:     odrlTerm(idOf(field(c, "odrl:operator", "operator"))),
				RightOperand: idOf(field(c, "odrl:rightOperand", "rightOperand")),
			})
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func field(obj map[string]json.RawMessage, names ...string) json.RawMessage {
	for _, name := range names {
		if v, ok := obj[name]; ok {
			return v
		}
	}
	return nil
}

// many returns the elements of a JSON array, or the value itself when it is
// not an array.
func many(raw json.RawMessage) []json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err == nil {
			return items
		}
		return nil
	}
	return []json.RawMessage{raw}
}

// idOf reads a node reference that is either a plain string, {"@id": ...}
// or {"@value": ...}.
func idOf(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		ID    string          `json:"@id"`
		Value json.RawMessage `json:"@value"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		if obj.ID != "" {
			return obj.ID
		}
		if len(obj.Value) > 0 {
			return idOf(obj.Value)
		}
	}
	return strings.Trim(string(raw), `"`)
}

func odrlTerm(s string) string {
	s = strings.TrimPrefix(s, odrlNamespace)
	s = strings.TrimPrefix(s, "odrl:")
	return strings.ToLower(s)
}
