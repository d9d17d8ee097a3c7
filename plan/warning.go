package plan

import "encoding/json"

// Warning is an out-of-band diagnostic raised during test execution, e.g. a
// deprecation notice from the tested code. Warnings are forwarded to the
// master on a best-effort basis and never affect the outcome of a test.
type Warning struct {
	Message string `json:"message"`
	// FilePath and Lineno locate where the warning was raised.
	FilePath string `json:"file,omitempty"`
	Lineno   int    `json:"line,omitempty"`
	Category string `json:"category,omitempty"`
	// Details carries arbitrary structured context. Values must be
	// json-serializable; a warning whose details are not is dropped by the
	// capture hook rather than forwarded.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Marshal serializes the warning for submission to the master. This can
// fail, since Details is caller-controlled.
func (w *Warning) Marshal() ([]byte, error) {
	return json.Marshal(w)
}

// UnmarshalWarning deserializes a warning blob previously produced by
// (*Warning).Marshal.
func UnmarshalWarning(data []byte) (*Warning, error) {
	w := new(Warning)
	if err := json.Unmarshal(data, w); err != nil {
		return nil, err
	}
	return w, nil
}
