package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// IntentResult is the structured action extracted from a transcript.
type IntentResult struct {
	Action string `json:"action"`
	Site   string `json:"site,omitempty"`
	Params Params `json:"params"`
}

// HasSite reports whether a target site was extracted.
func (r IntentResult) HasSite() bool {
	return r.Site != ""
}

// Param is a single intent parameter.
type Param struct {
	Key   string
	Value any
}

// Params keeps intent parameters in the order the pipeline sent them.
// Keys are unique; a repeated key on decode overwrites the earlier value in place.
type Params []Param

// Len returns the number of parameters.
func (p Params) Len() int {
	return len(p)
}

// Set stores value under key, keeping the position of an existing key.
func (p Params) Set(key string, value any) Params {
	for i := range p {
		if p[i].Key == key {
			p[i].Value = value
			return p
		}
	}
	return append(p, Param{Key: key, Value: value})
}

func (p Params) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, param := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(param.Key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(param.Value)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", param.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (p *Params) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("params must be a JSON object")
	}

	var out Params
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return errors.New("params key must be a string")
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("param %q: %w", key, err)
		}
		out = out.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*p = out
	return nil
}
