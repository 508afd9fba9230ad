// Copyright 2026 AX Platform
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package handler

import "encoding/json"

// CleanToolSchema strips JSON Schema keywords that strict LLM APIs reject
// from tool input schemas. Tool servers commonly emit "$schema" and
// "additionalProperties"; both are removed recursively. Invalid input is
// returned unchanged.
func CleanToolSchema(schema json.RawMessage) json.RawMessage {
	if len(schema) == 0 {
		return schema
	}

	var node any
	if err := json.Unmarshal(schema, &node); err != nil {
		return schema
	}

	cleaned := cleanNode(node)
	out, err := json.Marshal(cleaned)
	if err != nil {
		return schema
	}
	return out
}

func cleanNode(node any) any {
	switch v := node.(type) {
	case map[string]any:
		delete(v, "$schema")
		delete(v, "additionalProperties")
		for k, child := range v {
			v[k] = cleanNode(child)
		}
		return v
	case []any:
		for i, child := range v {
			v[i] = cleanNode(child)
		}
		return v
	}
	return node
}
