package registry

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// MarshalSchema indents the schema to JSON bytes.
func MarshalSchema(sch *jsonschema.Schema) ([]byte, error) {
	return json.MarshalIndent(sch, "", "  ")
}

// ManifestSchema returns a JSON Schema for the registry manifest
// ({ "tools": [...] }).
func ManifestSchema() *jsonschema.Schema {
	r := jsonschema.Reflector{ExpandedStruct: true, RequiredFromJSONSchemaTags: true}
	sch := r.Reflect(&Manifest{})
	sch.Title = "carbonara tool registry"
	sch.Description = "Analysis tools known to carbonara: how to install them, detect them and what they need at run time."
	return sch
}
