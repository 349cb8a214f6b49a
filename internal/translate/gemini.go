package translate

// GeminiRequest is the envelope the Cloud-Code API expects: model plus a
// nested "request" payload. This is the literal upstream wire shape, not
// a design choice.
type GeminiRequest struct {
	Model   string               `json:"model"`
	Project string               `json:"project,omitempty"`
	Request GeminiRequestPayload `json:"request"`
}

type GeminiRequestPayload struct {
	Contents          []GeminiContent          `json:"contents"`
	SystemInstruction *GeminiContent           `json:"systemInstruction,omitempty"`
	GenerationConfig  *GeminiGenerationConfig  `json:"generationConfig,omitempty"`
	Tools             []GeminiTool             `json:"tools,omitempty"`
	ToolConfig        *GeminiToolConfig        `json:"toolConfig,omitempty"`
}

type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

type GeminiPart struct {
	Text             string                 `json:"text,omitempty"`
	Thought          bool                   `json:"thought,omitempty"`
	ThoughtSignature string                 `json:"thoughtSignature,omitempty"`
	FunctionCall     map[string]interface{} `json:"functionCall,omitempty"`
	FunctionResponse map[string]interface{} `json:"functionResponse,omitempty"`
	ExecutableCode   map[string]interface{} `json:"executableCode,omitempty"`
	InlineData       map[string]interface{} `json:"inlineData,omitempty"`
}

type GeminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type GeminiTool struct {
	FunctionDeclarations []GeminiFunctionDeclaration `json:"functionDeclarations,omitempty"`
	GoogleSearch         map[string]interface{}      `json:"googleSearch,omitempty"`
}

type GeminiFunctionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type GeminiToolConfig struct {
	FunctionCallingConfig GeminiFunctionCallingConfig `json:"functionCallingConfig"`
}

type GeminiFunctionCallingConfig struct {
	Mode string `json:"mode"`
}

// ConvertToolsToGemini maps OpenAI/Anthropic-shaped tool definitions into
// Gemini's functionDeclarations, folding any "web_search" tool into the
// built-in googleSearch tool instead of a function declaration.
func ConvertToolsToGemini(tools []ToolDefinition) []GeminiTool {
	if len(tools) == 0 {
		return nil
	}
	var decls []GeminiFunctionDeclaration
	var out []GeminiTool
	for _, t := range tools {
		if t.Name == "web_search" || t.Name == "web_search_preview" {
			out = append(out, GeminiTool{GoogleSearch: map[string]interface{}{}})
			continue
		}
		decls = append(decls, GeminiFunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertJSONSchemaToOpenAPI(t.Parameters),
		})
	}
	if len(decls) > 0 {
		out = append([]GeminiTool{{FunctionDeclarations: decls}}, out...)
	}
	return out
}

// ToolDefinition is the protocol-agnostic tool shape both OpenAI and
// Anthropic request parsers normalize into before calling ConvertToolsToGemini.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// convertJSONSchemaToOpenAPI strips fields the Gemini API rejects from an
// otherwise-standard JSON Schema object.
func convertJSONSchemaToOpenAPI(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		switch k {
		case "additionalProperties", "strict", "$schema":
			continue
		}
		out[k] = v
	}
	if props, ok := out["properties"].(map[string]interface{}); ok {
		cleaned := make(map[string]interface{}, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]interface{}); ok {
				cleaned[name] = convertJSONSchemaToOpenAPI(sub)
			} else {
				cleaned[name] = raw
			}
		}
		out["properties"] = cleaned
	}
	return out
}
