package plugins

// payloadToArgs and argsToPayload convert typed payloads to/from the opaque
// map[string]any shape an MCP-provider-backed plugin exchanges over the
// wire. Unknown fields round-trip through Extra.
func payloadToArgs(hook Hook, p Payload) map[string]any {
	switch v := p.(type) {
	case ToolPreInvokePayload:
		return merge(v.Extra, map[string]any{"name": v.Name, "args": v.Args})
	case ToolPostInvokePayload:
		return merge(v.Extra, map[string]any{"name": v.Name, "result": v.Result})
	case ResourcePreFetchPayload:
		return merge(v.Extra, map[string]any{"uri": v.URI, "params": v.Params})
	case ResourcePostFetchPayload:
		return merge(v.Extra, map[string]any{"uri": v.URI, "content": v.Content})
	case PromptPreFetchPayload:
		return merge(v.Extra, map[string]any{"name": v.Name, "args": v.Args})
	case PromptPostFetchPayload:
		return merge(v.Extra, map[string]any{"name": v.Name, "rendered": v.Rendered})
	default:
		return nil
	}
}

func argsToPayload(hook Hook, m map[string]any, fallback Payload) Payload {
	extra := extraMinus(m, knownFields(hook)...)
	switch hook {
	case HookToolPreInvoke:
		return ToolPreInvokePayload{Name: strField(m, "name"), Args: mapField(m, "args"), Extra: extra}
	case HookToolPostInvoke:
		return ToolPostInvokePayload{Name: strField(m, "name"), Result: mapField(m, "result"), Extra: extra}
	case HookResourcePreFetch:
		return ResourcePreFetchPayload{URI: strField(m, "uri"), Params: mapField(m, "params"), Extra: extra}
	case HookResourcePostFetch:
		return ResourcePostFetchPayload{URI: strField(m, "uri"), Content: mapField(m, "content"), Extra: extra}
	case HookPromptPreFetch:
		return PromptPreFetchPayload{Name: strField(m, "name"), Args: mapField(m, "args"), Extra: extra}
	case HookPromptPostFetch:
		return PromptPostFetchPayload{Name: strField(m, "name"), Rendered: mapField(m, "rendered"), Extra: extra}
	default:
		return fallback
	}
}

func knownFields(hook Hook) []string {
	switch hook {
	case HookToolPreInvoke, HookPromptPreFetch:
		return []string{"name", "args"}
	case HookToolPostInvoke:
		return []string{"name", "result"}
	case HookResourcePreFetch:
		return []string{"uri", "params"}
	case HookResourcePostFetch:
		return []string{"uri", "content"}
	case HookPromptPostFetch:
		return []string{"name", "rendered"}
	default:
		return nil
	}
}

func merge(extra map[string]any, known map[string]any) map[string]any {
	out := make(map[string]any, len(extra)+len(known))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range known {
		out[k] = v
	}
	return out
}

func extraMinus(m map[string]any, known ...string) map[string]any {
	skip := make(map[string]bool, len(known))
	for _, k := range known {
		skip[k] = true
	}
	out := make(map[string]any)
	for k, v := range m {
		if !skip[k] {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func strField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func mapField(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}
