package policy

import "encoding/json"

// DecodePolicy reads a single compacted ODRL policy, e.g. the policy of a
// contract agreement.
func DecodePolicy(data []byte) (Policy, error) {
	offer, err := decodeOffer(data)
	if err != nil {
		return Policy{}, err
	}
	return offer.Policy, nil
}

// EncodeOffer renders an offer as the compacted ODRL object a contract
// request carries. assigner is the provider's participant id and target
// the asset id.
func EncodeOffer(offerID, assigner, target string, p Policy) map[string]any {
	return map[string]any{
		"@context":         map[string]string{"odrl": odrlNamespace},
		"@id":              offerID,
		"@type":            "odrl:Offer",
		"odrl:assigner":    map[string]string{"@id": assigner},
		"odrl:target":      map[string]string{"@id": target},
		"odrl:permission":  encodeRules(p.Permissions),
		"odrl:prohibition": encodeRules(p.Prohibitions),
		"odrl:obligation":  encodeRules(p.Obligations),
	}
}

func encodeRules(rules []Rule) []map[string]any {
	out := make([]map[string]any, 0, len(rules))
	for _, r := range rules {
		rule := map[string]any{"odrl:action": map[string]string{"@id": "odrl:" + r.Action}}
		if len(r.Constraints) > 0 {
			constraints := make([]map[string]any, 0, len(r.Constraints))
			for _, c := range r.Constraints {
				constraints = append(constraints, map[string]any{
					"odrl:leftOperand":  map[string]string{"@id": c.LeftOperand},
					"odrl:operator":     map[string]string{"@id": "odrl:" + c.Operator},
					"odrl:rightOperand": c.RightOperand,
				})
			}
			rule["odrl:constraint"] = constraints
		}
		out = append(out, rule)
	}
	return out
}

// MarshalOffer is EncodeOffer followed by json.Marshal.
func MarshalOffer(offerID, assigner, target string, p Policy) ([]byte, error) {
	return json.Marshal(EncodeOffer(offerID, assigner, target, p))
}
