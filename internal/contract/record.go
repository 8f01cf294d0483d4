package contract

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the four record shapes stored on the ledger.
type Kind string

const (
	KindCollection  Kind = "collection"
	KindProcessing  Kind = "processing"
	KindQualityTest Kind = "qualityTest"
	KindPackage     Kind = "package"
)

// Record is one of *CollectionEvent, *ProcessingStep, *QualityTest or *Package.
type Record interface {
	Kind() Kind
	// Owner is the org that created the record. It never changes.
	Owner() string
	isRecord()
}

// CollectionEvent records a harvest at a location.
type CollectionEvent struct {
	ID          string `json:"id"`
	Lat         string `json:"lat"`
	Lng         string `json:"lng"`
	Species     string `json:"species"`
	CollectorID string `json:"collectorId"`
	Timestamp   string `json:"timestamp"`
	Org         string `json:"org"`
	DocType     Kind   `json:"docType"`
}

// ProcessingStep records a processing operation applied to a batch.
type ProcessingStep struct {
	ID        string          `json:"id"`
	BatchID   string          `json:"batchId"`
	StepType  string          `json:"stepType"`
	Params    json.RawMessage `json:"params"`
	Timestamp string          `json:"timestamp"`
	Org       string          `json:"org"`
	DocType   Kind            `json:"docType"`
}

// QualityTest records a lab test of a batch.
type QualityTest struct {
	ID        string          `json:"id"`
	BatchID   string          `json:"batchId"`
	TestType  string          `json:"testType"`
	Results   json.RawMessage `json:"results"`
	Timestamp string          `json:"timestamp"`
	Org       string          `json:"org"`
	DocType   Kind            `json:"docType"`
}

// Package records the packaging of a batch. It is keyed by PackageID.
type Package struct {
	PackageID string `json:"packageId"`
	BatchID   string `json:"batchId"`
	Timestamp string `json:"timestamp"`
	Org       string `json:"org"`
	DocType   Kind   `json:"docType"`
}

func (*CollectionEvent) Kind() Kind { return KindCollection }
func (*ProcessingStep) Kind() Kind  { return KindProcessing }
func (*QualityTest) Kind() Kind     { return KindQualityTest }
func (*Package) Kind() Kind         { return KindPackage }

func (r *CollectionEvent) Owner() string { return r.Org }
func (r *ProcessingStep) Owner() string  { return r.Org }
func (r *QualityTest) Owner() string     { return r.Org }
func (r *Package) Owner() string         { return r.Org }

func (*CollectionEvent) isRecord() {}
func (*ProcessingStep) isRecord()  {}
func (*QualityTest) isRecord()     {}
func (*Package) isRecord()         {}

// DecodeRecord parses a stored payload into its concrete record type,
// dispatching on the docType field.
func DecodeRecord(data []byte) (Record, error) {
	var head struct {
		DocType Kind `json:"docType"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	var rec Record
	switch head.DocType {
	case KindCollection:
		rec = &CollectionEvent{}
	case KindProcessing:
		rec = &ProcessingStep{}
	case KindQualityTest:
		rec = &QualityTest{}
	case KindPackage:
		rec = &Package{}
	default:
		return nil, fmt.Errorf("decode record: unknown docType %q", head.DocType)
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", head.DocType, err)
	}
	return rec, nil
}

// payloadFromArg turns an opaque params/results argument into JSON. Valid
// JSON is carried as-is; anything else is kept as a JSON string.
func payloadFromArg(arg string) json.RawMessage {
	if arg != "" && json.Valid([]byte(arg)) {
		return json.RawMessage(arg)
	}
	b, _ := json.Marshal(arg)
	return b
}
