package errcodes

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/segmentio/encoding/json"
)

type errorBody struct {
	Result   string `json:"result"`
	Upstream *struct {
		UserExplanation string `json:"userExplanation"`
		ErrorCode       string `json:"errorCode"`
	} `json:"upstream"`
}

var statusConstructors = map[int]func(msg, response string) error{
	http.StatusBadRequest: func(msg, response string) error {
		return BadRequest(http.StatusBadRequest, msg, response)
	},
	http.StatusUnauthorized: Unauthorised,
	http.StatusForbidden:    Forbidden,
	http.StatusNotFound: func(msg, response string) error {
		return NotFound(http.StatusNotFound, msg, response)
	},
	http.StatusTooManyRequests:     Throttled,
	http.StatusInternalServerError: InternalServerError,
}

// StatusMessage is the message used for errors that carry no upstream
// explanation.
func StatusMessage(status int) string {
	return fmt.Sprintf("HTTP Error %d: %s", status, http.StatusText(status))
}

// Classify converts a failed HTTP response into a typed *Error. It is a pure
// function of its inputs.
func Classify(status int, contentType string, body []byte) error {
	response := string(body)
	msg := StatusMessage(status)

	if strings.HasPrefix(contentType, "application/json") {
		eb := errorBody{}
		if json.Unmarshal(body, &eb) == nil {
			switch eb.Result {
			case "upstream_failure":
				if eb.Upstream != nil && (eb.Upstream.UserExplanation != "" || eb.Upstream.ErrorCode != "") {
					return BadRequest(status, fmt.Sprintf("%s [errorcode: %s]", eb.Upstream.UserExplanation, eb.Upstream.ErrorCode), response)
				}
				return BadRequest(status, msg, response)
			case "not_found":
				return NotFound(status, msg, response)
			}
		}
	}

	if fn, ok := statusConstructors[status]; ok {
		return fn(msg, response)
	}
	return ClientError(status, msg, response)
}
