package dispatch

// Routes returns the Config for every endpoint in the REST surface, keyed
// by "VERB /path" for the HTTP routing table to register.
func Routes() map[string]Config {
	return map[string]Config{
		"GET /entity/get": {
			Op:       "entity/get",
			Required: []ParamSpec{{Name: "clientId", Source: SourceQuery, Type: KindString}},
			Optional: []ParamSpec{
				{Name: "uuid", Source: SourceQuery, Type: KindString},
				{Name: "selected", Source: SourceQuery, Type: KindBoolean},
				{Name: "actor", Source: SourceQuery, Type: KindString},
			},
		},
		"POST /entity/create": {
			Op: "entity/create",
			Required: []ParamSpec{
				{Name: "clientId", Source: SourceQueryOrBody, Type: KindString},
				{Name: "entityType", Source: SourceBody, Type: KindString},
				{Name: "data", Source: SourceBody, Type: KindObject},
			},
			Optional: []ParamSpec{
				{Name: "folder", Source: SourceBody, Type: KindString},
			},
			Validate: validateEntityCreate,
		},
		"PUT /entity/update": {
			Op: "entity/update",
			Required: []ParamSpec{
				{Name: "clientId", Source: SourceQueryOrBody, Type: KindString},
				{Name: "data", Source: SourceBody, Type: KindObject},
			},
			Optional: []ParamSpec{
				{Name: "uuid", Source: SourceQueryOrBody, Type: KindString},
				{Name: "selected", Source: SourceQueryOrBody, Type: KindBoolean},
				{Name: "actor", Source: SourceQueryOrBody, Type: KindString},
			},
		},
		"DELETE /entity/delete": {
			Op:       "entity/delete",
			Required: []ParamSpec{{Name: "clientId", Source: SourceQuery, Type: KindString}},
			Optional: []ParamSpec{
				{Name: "uuid", Source: SourceQuery, Type: KindString},
				{Name: "selected", Source: SourceQuery, Type: KindBoolean},
			},
		},
		"POST /entity/give": {
			Op:       "entity/give",
			Required: []ParamSpec{{Name: "clientId", Source: SourceQueryOrBody, Type: KindString}},
			Optional: []ParamSpec{
				{Name: "fromUuid", Source: SourceBody, Type: KindString},
				{Name: "toUuid", Source: SourceBody, Type: KindString},
				{Name: "selected", Source: SourceBody, Type: KindBoolean},
				{Name: "itemUuid", Source: SourceBody, Type: KindString},
				{Name: "itemName", Source: SourceBody, Type: KindString},
				{Name: "quantity", Source: SourceBody, Type: KindNumber},
			},
		},
		"POST /entity/remove": {
			Op:       "entity/remove",
			Required: []ParamSpec{{Name: "clientId", Source: SourceQueryOrBody, Type: KindString}},
			Optional: []ParamSpec{
				{Name: "actorUuid", Source: SourceBody, Type: KindString},
				{Name: "selected", Source: SourceBody, Type: KindBoolean},
				{Name: "itemUuid", Source: SourceBody, Type: KindString},
				{Name: "itemName", Source: SourceBody, Type: KindString},
				{Name: "quantity", Source: SourceBody, Type: KindNumber},
			},
		},
		"POST /entity/increase": {
			Op: "entity/increase",
			Required: []ParamSpec{
				{Name: "clientId", Source: SourceQueryOrBody, Type: KindString},
				{Name: "attribute", Source: SourceBody, Type: KindString},
				{Name: "amount", Source: SourceBody, Type: KindNumber},
			},
			Optional: []ParamSpec{
				{Name: "uuid", Source: SourceBody, Type: KindString},
				{Name: "selected", Source: SourceBody, Type: KindBoolean},
			},
		},
		"POST /entity/decrease": {
			Op: "entity/decrease",
			Required: []ParamSpec{
				{Name: "clientId", Source: SourceQueryOrBody, Type: KindString},
				{Name: "attribute", Source: SourceBody, Type: KindString},
				{Name: "amount", Source: SourceBody, Type: KindNumber},
			},
			Optional: []ParamSpec{
				{Name: "uuid", Source: SourceBody, Type: KindString},
				{Name: "selected", Source: SourceBody, Type: KindBoolean},
			},
		},
		"POST /entity/kill": {
			Op:       "entity/kill",
			Required: []ParamSpec{{Name: "clientId", Source: SourceQueryOrBody, Type: KindString}},
			Optional: []ParamSpec{
				{Name: "uuid", Source: SourceBody, Type: KindString},
				{Name: "selected", Source: SourceBody, Type: KindBoolean},
			},
		},
	}
}

// validateEntityCreate enforces the Macro script denylist (E4): when
// entityType is "Macro", data.command must pass CheckScript.
func validateEntityCreate(params map[string]any) *ValidationError {
	entityType, _ := params["entityType"].(string)
	if entityType != "Macro" {
		return nil
	}
	data, _ := params["data"].(map[string]any)
	command, _ := data["command"].(string)
	if ok, _ := CheckScript(command); !ok {
		return &ValidationError{
			Err:        "Script contains forbidden patterns",
			Suggestion: "Ensure the script does not access localStorage, sessionStorage, or eval()",
		}
	}
	return nil
}
