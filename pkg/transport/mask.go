package transport

import (
	"net/http"
	"strings"

	"github.com/segmentio/encoding/json"
)

const bearerPrefix = "Bearer "

// mask keeps a tenth of the secret's length as asterisks so log lines show
// roughly how long the value was without leaking any of it.
func mask(secret string) string {
	return strings.Repeat("*", len(secret)/10)
}

func maskHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		v := h.Get(k)
		if k == "Authorization" && strings.HasPrefix(v, bearerPrefix) {
			v = bearerPrefix + mask(strings.TrimPrefix(v, bearerPrefix))
		}
		out[k] = v
	}
	return out
}

func maskBody(body []byte) string {
	obj := map[string]interface{}{}
	if json.Unmarshal(body, &obj) != nil {
		return string(body)
	}
	identity, ok := obj["identity"].(string)
	if !ok {
		return string(body)
	}
	obj["identity"] = mask(identity)
	out, err := json.Marshal(obj)
	if err != nil {
		return string(body)
	}
	return string(out)
}
