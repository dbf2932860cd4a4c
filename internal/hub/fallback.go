package hub

// FallbackTools returns the static tool descriptors used when
// discovery fails. The agent loop is never left with zero CRM
// capability: generic object search and association listing cover the
// queries every entity analysis needs.
func FallbackTools() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "search-objects",
			Description: "Search CRM objects (deals, companies, contacts) by free-text query. Returns matching records with their properties.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"objectType": map[string]any{
						"type":        "string",
						"description": "Object type to search: deal, company, or contact.",
					},
					"query": map[string]any{
						"type":        "string",
						"description": "Free-text search query.",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of records to return (default 10).",
					},
				},
				"required": []string{"objectType", "query"},
			},
		},
		{
			Name:        "list-associations",
			Description: "List objects associated with a CRM record, e.g. the contacts attached to a deal or the deals attached to a company.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"objectType": map[string]any{
						"type":        "string",
						"description": "Source object type: deal, company, or contact.",
					},
					"objectId": map[string]any{
						"type":        "string",
						"description": "Source object id.",
					},
					"toObjectType": map[string]any{
						"type":        "string",
						"description": "Associated object type to list.",
					},
				},
				"required": []string{"objectType", "objectId", "toObjectType"},
			},
		},
	}
}
