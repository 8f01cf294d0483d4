package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jmerrifield20/herbledger/internal/contract"
)

// ValidationError reports a request field that is absent, empty or otherwise
// unusable. It is raised before the contract is contacted.
type ValidationError struct {
	Field  string
	Reason string // empty means the field is missing
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return "invalid field " + e.Field + ": " + e.Reason
	}
	return "missing required field: " + e.Field
}

// Value is a request field of any JSON type. Callers may send strings,
// numbers or nested objects; the contract always receives a string.
type Value struct {
	raw json.RawMessage
}

// String returns a Value holding the JSON string s.
func String(s string) Value {
	b, _ := json.Marshal(s)
	return Value{raw: b}
}

// JSON returns a Value holding v encoded as JSON.
func JSON(v any) (Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Value{}, err
	}
	return Value{raw: b}, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(b []byte) error {
	v.raw = append(json.RawMessage(nil), b...)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	if len(v.raw) == 0 {
		return []byte("null"), nil
	}
	return v.raw, nil
}

// Missing reports whether the field was absent, null or the empty string.
func (v Value) Missing() bool {
	t := bytes.TrimSpace(v.raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null")) || bytes.Equal(t, []byte(`""`))
}

// Arg returns the canonical positional form: strings verbatim, anything else
// as compact JSON.
func (v Value) Arg() (string, error) {
	if v.Missing() {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v.raw, &s); err == nil {
		return s, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v.raw); err != nil {
		return "", fmt.Errorf("encode argument: %w", err)
	}
	return buf.String(), nil
}

// payloadArg is Arg for opaque params/results payloads, which default to "{}".
func (v Value) payloadArg() (string, error) {
	if v.Missing() {
		return "{}", nil
	}
	return v.Arg()
}

// Request is a typed contract invocation.
type Request interface {
	// Function is the contract function the request invokes.
	Function() string
	// Validate returns a *ValidationError naming the first missing field.
	Validate() error
	// Args returns the positional string arguments in contract order.
	Args() ([]string, error)
}

type field struct {
	name  string
	value Value
}

func requireAll(fields ...field) error {
	for _, f := range fields {
		if f.value.Missing() {
			return &ValidationError{Field: f.name}
		}
	}
	return nil
}

func args(values ...Value) ([]string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		s, err := v.Arg()
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// CollectionRequest creates a collection event.
type CollectionRequest struct {
	ID          Value `json:"id"`
	Lat         Value `json:"lat"`
	Lng         Value `json:"lng"`
	Species     Value `json:"species"`
	CollectorID Value `json:"collectorId"`
	Timestamp   Value `json:"timestamp"`
}

func (r *CollectionRequest) Function() string { return contract.FnCreateCollectionEvent }

func (r *CollectionRequest) Validate() error {
	return requireAll(
		field{"id", r.ID}, field{"lat", r.Lat}, field{"lng", r.Lng},
		field{"species", r.Species}, field{"collectorId", r.CollectorID}, field{"timestamp", r.Timestamp},
	)
}

func (r *CollectionRequest) Args() ([]string, error) {
	return args(r.ID, r.Lat, r.Lng, r.Species, r.CollectorID, r.Timestamp)
}

// ProcessRequest adds a processing step. Params is optional.
type ProcessRequest struct {
	ID        Value `json:"id"`
	BatchID   Value `json:"batchId"`
	StepType  Value `json:"stepType"`
	Params    Value `json:"params"`
	Timestamp Value `json:"timestamp"`
}

func (r *ProcessRequest) Function() string { return contract.FnAddProcessingStep }

func (r *ProcessRequest) Validate() error {
	return requireAll(field{"id", r.ID}, field{"batchId", r.BatchID}, field{"stepType", r.StepType}, field{"timestamp", r.Timestamp})
}

func (r *ProcessRequest) Args() ([]string, error) {
	out, err := args(r.ID, r.BatchID, r.StepType)
	if err != nil {
		return nil, err
	}
	params, err := r.Params.payloadArg()
	if err != nil {
		return nil, err
	}
	ts, err := r.Timestamp.Arg()
	if err != nil {
		return nil, err
	}
	return append(out, params, ts), nil
}

// QualityRequest adds a quality test. Results is optional.
type QualityRequest struct {
	ID        Value `json:"id"`
	BatchID   Value `json:"batchId"`
	TestType  Value `json:"testType"`
	Results   Value `json:"results"`
	Timestamp Value `json:"timestamp"`
}

func (r *QualityRequest) Function() string { return contract.FnAddQualityTest }

func (r *QualityRequest) Validate() error {
	return requireAll(field{"id", r.ID}, field{"batchId", r.BatchID}, field{"testType", r.TestType}, field{"timestamp", r.Timestamp})
}

func (r *QualityRequest) Args() ([]string, error) {
	out, err := args(r.ID, r.BatchID, r.TestType)
	if err != nil {
		return nil, err
	}
	results, err := r.Results.payloadArg()
	if err != nil {
		return nil, err
	}
	ts, err := r.Timestamp.Arg()
	if err != nil {
		return nil, err
	}
	return append(out, results, ts), nil
}

// PackageRequest packages a batch.
type PackageRequest struct {
	PackageID Value `json:"packageId"`
	BatchID   Value `json:"batchId"`
	Timestamp Value `json:"timestamp"`
}

func (r *PackageRequest) Function() string { return contract.FnPackageProduct }

func (r *PackageRequest) Validate() error {
	return requireAll(field{"packageId", r.PackageID}, field{"batchId", r.BatchID}, field{"timestamp", r.Timestamp})
}

func (r *PackageRequest) Args() ([]string, error) {
	return args(r.PackageID, r.BatchID, r.Timestamp)
}

// ProvenanceRequest reads the history of a key.
type ProvenanceRequest struct {
	ID Value `json:"id"`
}

func (r *ProvenanceRequest) Function() string { return contract.FnGetProvenance }

func (r *ProvenanceRequest) Validate() error { return requireAll(field{"id", r.ID}) }

func (r *ProvenanceRequest) Args() ([]string, error) { return args(r.ID) }
