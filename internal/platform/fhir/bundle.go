package fhir

import "fmt"

// Bundle types used by extraction and sync.
const (
	BundleTypeTransaction = "transaction"
	BundleTypeCollection  = "collection"
)

// BundleEntries returns the entry list of a Bundle resource.
func BundleEntries(bundle Resource) []map[string]interface{} {
	raw, _ := bundle["entry"].([]interface{})
	entries := make([]map[string]interface{}, 0, len(raw))
	for _, e := range raw {
		if m, ok := e.(map[string]interface{}); ok {
			entries = append(entries, m)
		}
	}
	return entries
}

// ToTransactionBundle returns a copy of bundle typed as a transaction in which
// every entry carries a request: PUT Type/id for resources with an id, POST
// Type otherwise. Entries that already have a request are left as they are.
func ToTransactionBundle(bundle Resource) (Resource, error) {
	if ResourceType(bundle) != "Bundle" {
		return nil, fmt.Errorf("expected resourceType Bundle, got %q", ResourceType(bundle))
	}

	tx := CloneResource(bundle)
	tx["type"] = BundleTypeTransaction

	raw, _ := tx["entry"].([]interface{})
	for i, e := range raw {
		entry, ok := e.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("entry %d is not an object", i)
		}
		if _, has := entry["request"]; has {
			continue
		}
		res, ok := entry["resource"].(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("entry %d has no resource", i)
		}
		rt := ResourceType(res)
		if rt == "" {
			return nil, fmt.Errorf("entry %d resource has no resourceType", i)
		}
		if id, _ := res["id"].(string); id != "" {
			entry["request"] = map[string]interface{}{"method": "PUT", "url": rt + "/" + id}
		} else {
			entry["request"] = map[string]interface{}{"method": "POST", "url": rt}
		}
	}
	return tx, nil
}
