package services

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
)

const (
	StatusSuccess = "success"
	StatusFail    = "fail"

	// MessageParseFailure is returned when a device body is not JSON even after hex rewriting.
	MessageParseFailure = "cannot parse data"
	// MessageSendFailure is returned when the device could not be reached or timed out.
	MessageSendFailure = "Failed to send request!"
)

var hexLiteral = regexp.MustCompile(`0[xX][0-9a-fA-F]+`)

// Response is a decoded device reply.
//
// The device reports numbers as bare hex literals, so every numeric field is optional.
// Fields holds the whole decoded object, including keys without a typed counterpart.
type Response struct {
	Status           string         `json:"status"`
	Message          string         `json:"message,omitempty"`
	TaskID           *int64         `json:"task_id,omitempty"`
	LengthTotal      *int64         `json:"length_total,omitempty"`
	TransferredTotal *int64         `json:"transferred_total,omitempty"`
	RestSecTotal     *int64         `json:"rest_sec_total,omitempty"`
	Error            *int64         `json:"error,omitempty"`
	Fields           map[string]any `json:"-"`
}

// OK reports whether the device accepted the request.
func (r Response) OK() bool {
	return r.Status == StatusSuccess
}

// Fail builds a local failure result that never reached the device.
func Fail(message string) Response {
	return Response{
		Status:  StatusFail,
		Message: message,
		Fields:  map[string]any{"status": StatusFail, "message": message},
	}
}

// MarshalJSON renders Fields when present so raw device keys survive a round trip to the operator.
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Fields != nil {
		return json.Marshal(r.Fields)
	}
	type plain Response
	return json.Marshal(plain(r))
}

// Decode parses a device response body.
//
// Bare hex literals are rewritten to decimal first; a literal too large for 64 bits becomes null.
// Anything that still fails to parse as a JSON object yields the "cannot parse data" failure.
func Decode(body string) Response {
	if hexLiteral.MatchString(body) {
		body = hexLiteral.ReplaceAllStringFunc(body, func(lit string) string {
			v, err := strconv.ParseUint(lit[2:], 16, 64)
			if err != nil {
				return "null"
			}
			return strconv.FormatUint(v, 10)
		})
	}

	dec := json.NewDecoder(bytes.NewBufferString(body))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return Fail(MessageParseFailure)
	}
	if dec.More() {
		return Fail(MessageParseFailure)
	}

	resp := Response{Fields: fields}
	resp.Status, _ = fields["status"].(string)
	resp.Message, _ = fields["message"].(string)
	resp.TaskID = numberField(fields, "task_id")
	resp.LengthTotal = numberField(fields, "length_total")
	resp.TransferredTotal = numberField(fields, "transferred_total")
	resp.RestSecTotal = numberField(fields, "rest_sec_total")
	resp.Error = numberField(fields, "error")
	return resp
}

// numberField reads key as an integer, accepting values above int64 by clamping and floats by truncation.
func numberField(fields map[string]any, key string) *int64 {
	n, ok := fields[key].(json.Number)
	if !ok {
		return nil
	}
	if v, err := n.Int64(); err == nil {
		return &v
	}
	if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
		v := int64(min(u, uint64(1<<63-1)))
		return &v
	}
	if f, err := n.Float64(); err == nil {
		v := int64(f)
		return &v
	}
	return nil
}
