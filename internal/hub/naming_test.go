package hub

import "testing"

func TestToolName(t *testing.T) {
	tests := []struct {
		wire string
		want string
	}{
		{"search-objects", "crm_search_objects"},
		{"get-object", "crm_get_object"},
		{"list-associations", "crm_list_associations"},
		{"HubSpot-Get-Deal", "crm_hubspot_get_deal"},
		{"weird..name", "crm_weird_name"},
		{"--edge--", "crm_edge"},
		{"already_clean", "crm_already_clean"},
	}
	for _, tt := range tests {
		if got := ToolName(tt.wire); got != tt.want {
			t.Errorf("ToolName(%q) = %q, want %q", tt.wire, got, tt.want)
		}
	}
}

func TestFallbackTools(t *testing.T) {
	defs := FallbackTools()
	if len(defs) != 2 {
		t.Fatalf("len = %d, want 2", len(defs))
	}
	for _, d := range defs {
		if d.Name == "" || d.Description == "" || d.InputSchema == nil {
			t.Errorf("incomplete fallback definition %+v", d)
		}
	}
	if defs[0].Name != "search-objects" || defs[1].Name != "list-associations" {
		t.Errorf("names = %q, %q", defs[0].Name, defs[1].Name)
	}
}
