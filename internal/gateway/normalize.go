package gateway

import (
	"fmt"
)

// Field probe lists. The upstream workflow engine does not guarantee a
// response shape, so each canonical field is resolved by probing a
// fixed set of aliases across every object found in the payload. Keys
// are also looked up one level under "data".
var (
	contentKeys      = []string{"text", "message", "response", "content", "reply", "summary", "headline", "description", "title"}
	correlationKeys  = []string{"correlationId", "correlation_id"}
	contentTypeKeys  = []string{"contentType", "content_type"}
	structuredKeys   = []string{"structuredData", "structured_data"}
	cacheTagKeys     = []string{"cacheTag", "cache_tag"}
	mediaURLKeys     = []string{"mediaUrl", "media_url"}
	mediaTypeKeys    = []string{"mediaType", "media_type"}
	mediaCaptionKeys = []string{"mediaCaption", "media_caption"}
	webhookRespKeys  = []string{"webhookResponse", "webhook_response"}
	buttonLabelKeys  = []string{"label", "title", "text", "name"}
	buttonValueKeys  = []string{"value", "payload", "action", "id"}
	mediaObjectKeys  = []string{"media", "mediaPayload"}
)

// Normalize converts an arbitrarily-shaped upstream result into the
// canonical outbound message. It returns nil when no meaningful field
// could be resolved, which the pipeline treats as "async workflow
// triggered, no immediate reply".
func Normalize(raw any, fallbackCorrelationID string) *OutgoingMessage {
	candidates := collectCandidates(raw)
	if len(candidates) == 0 {
		return nil
	}

	msg := &OutgoingMessage{
		Type:          "message",
		Role:          "assistant",
		CorrelationID: fallbackCorrelationID,
	}

	if v, ok := probeString(candidates, correlationKeys); ok {
		msg.CorrelationID = v
	}
	msg.Content = probeContent(candidates)
	msg.StructuredData, _ = probeAny(candidates, structuredKeys)
	msg.Metadata, _ = probeAny(candidates, []string{"metadata"})
	msg.CacheTag, _ = probeString(candidates, cacheTagKeys)
	msg.WebhookResponse, _ = probeAny(candidates, webhookRespKeys)
	msg.MediaURL, msg.MediaType, msg.MediaCaption = probeMedia(candidates)
	msg.Buttons = probeButtons(candidates)

	if v, ok := probeString(candidates, contentTypeKeys); ok {
		msg.ContentType = v
	} else if msg.StructuredData != nil {
		// Historical quirk kept for client compatibility: any structured
		// payload defaults the type to "trends", even unrelated ones.
		msg.ContentType = "trends"
	} else {
		msg.ContentType = "text"
	}

	if msg.Content == "" && msg.StructuredData == nil && msg.MediaURL == "" && len(msg.Buttons) == 0 {
		return nil
	}
	return msg
}

// collectCandidates flattens the payload tree into the list of objects
// to probe, in encounter order. Arrays are recursed, and "output"
// envelopes are followed because upstream workflows routinely wrap
// replies in them.
func collectCandidates(raw any) []map[string]any {
	var out []map[string]any
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case []any:
			for _, item := range t {
				walk(item)
			}
		case map[string]any:
			out = append(out, t)
			if inner, ok := t["output"]; ok {
				walk(inner)
			}
		}
	}
	walk(raw)
	return out
}

// lookup resolves key directly on the object, then one level under
// "data".
func lookup(obj map[string]any, key string) (any, bool) {
	if v, ok := obj[key]; ok && v != nil {
		return v, true
	}
	if data, ok := obj["data"].(map[string]any); ok {
		if v, ok := data[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func probeString(candidates []map[string]any, keys []string) (string, bool) {
	for _, obj := range candidates {
		for _, key := range keys {
			if v, ok := lookup(obj, key); ok {
				if s := stringify(v); s != "" {
					return s, true
				}
			}
		}
	}
	return "", false
}

func probeAny(candidates []map[string]any, keys []string) (any, bool) {
	for _, obj := range candidates {
		for _, key := range keys {
			if v, ok := lookup(obj, key); ok {
				return v, true
			}
		}
	}
	return nil, false
}

// probeContent resolves the textual reply, additionally checking one
// level of body.content / body.text.
func probeContent(candidates []map[string]any) string {
	if v, ok := probeString(candidates, contentKeys); ok {
		return v
	}
	for _, obj := range candidates {
		if body, ok := obj["body"].(map[string]any); ok {
			for _, key := range []string{"content", "text"} {
				if s := stringify(body[key]); s != "" {
					return s
				}
			}
		}
	}
	return ""
}

// probeMedia resolves the media triple from flat aliases or from a
// nested media object.
func probeMedia(candidates []map[string]any) (url, mediaType, caption string) {
	url, _ = probeString(candidates, mediaURLKeys)
	mediaType, _ = probeString(candidates, mediaTypeKeys)
	caption, _ = probeString(candidates, mediaCaptionKeys)

	if url != "" {
		return url, mediaType, caption
	}
	for _, obj := range candidates {
		for _, key := range mediaObjectKeys {
			media, ok := obj[key].(map[string]any)
			if !ok {
				continue
			}
			if u := stringify(media["url"]); u != "" {
				if mediaType == "" {
					mediaType = stringify(media["type"])
				}
				if caption == "" {
					caption = stringify(media["caption"])
				}
				return u, mediaType, caption
			}
		}
	}
	return url, mediaType, caption
}

// probeButtons accepts a raw array or an object wrapping a "buttons"
// array and normalizes each entry to {label, value}.
func probeButtons(candidates []map[string]any) []Button {
	raw, ok := probeAny(candidates, []string{"buttons"})
	if !ok {
		return nil
	}

	var items []any
	switch t := raw.(type) {
	case []any:
		items = t
	case map[string]any:
		if inner, ok := t["buttons"].([]any); ok {
			items = inner
		}
	}

	var buttons []Button
	for _, item := range items {
		switch entry := item.(type) {
		case string:
			if entry != "" {
				buttons = append(buttons, Button{Label: entry, Value: entry})
			}
		case map[string]any:
			var b Button
			for _, key := range buttonLabelKeys {
				if s := stringify(entry[key]); s != "" {
					b.Label = s
					break
				}
			}
			for _, key := range buttonValueKeys {
				if s := stringify(entry[key]); s != "" {
					b.Value = s
					break
				}
			}
			// Synthesize the missing half so a partial entry still works.
			if b.Label == "" {
				b.Label = b.Value
			}
			if b.Value == "" {
				b.Value = b.Label
			}
			if b.Label != "" {
				buttons = append(buttons, b)
			}
		}
	}
	return buttons
}

// stringify renders scalars as strings; objects and nil yield "".
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return fmt.Sprintf("%v", t)
	case bool:
		return fmt.Sprintf("%v", t)
	default:
		return ""
	}
}
