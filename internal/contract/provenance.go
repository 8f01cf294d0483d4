package contract

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ProvenanceMode controls which versions GetProvenance returns.
type ProvenanceMode string

const (
	// ProvenanceOrgScoped returns only versions owned by the caller's org.
	ProvenanceOrgScoped ProvenanceMode = "org-scoped"
	// ProvenanceUnrestricted returns every version regardless of owner.
	ProvenanceUnrestricted ProvenanceMode = "unrestricted"
)

// ParseProvenanceMode validates a configured mode. The empty string selects
// ProvenanceOrgScoped.
func ParseProvenanceMode(s string) (ProvenanceMode, error) {
	switch ProvenanceMode(s) {
	case "", ProvenanceOrgScoped:
		return ProvenanceOrgScoped, nil
	case ProvenanceUnrestricted:
		return ProvenanceUnrestricted, nil
	default:
		return "", fmt.Errorf("unknown provenance mode %q (want %q or %q)", s, ProvenanceOrgScoped, ProvenanceUnrestricted)
	}
}

// ProvenanceEntry is one version of a key as returned by GetProvenance.
//
// Exactly one of Record and Raw is set: Raw holds the stored text of a
// version that could not be decoded as a record.
type ProvenanceEntry struct {
	TxID      string
	Timestamp time.Time
	Record    Record
	Raw       string
}

type provenanceJSON struct {
	TxID      string    `json:"txId"`
	Timestamp time.Time `json:"timestamp"`
	Record    any       `json:"record"`
}

// MarshalJSON renders the entry as {txId, timestamp, record}, where record is
// the decoded record object or the raw string.
func (e ProvenanceEntry) MarshalJSON() ([]byte, error) {
	out := provenanceJSON{TxID: e.TxID, Timestamp: e.Timestamp, Record: e.Raw}
	if e.Record != nil {
		out.Record = e.Record
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (e *ProvenanceEntry) UnmarshalJSON(data []byte) error {
	var in struct {
		TxID      string          `json:"txId"`
		Timestamp time.Time       `json:"timestamp"`
		Record    json.RawMessage `json:"record"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*e = ProvenanceEntry{TxID: in.TxID, Timestamp: in.Timestamp}

	var raw string
	if err := json.Unmarshal(in.Record, &raw); err == nil {
		e.Raw = raw
		return nil
	}
	rec, err := DecodeRecord(in.Record)
	if err != nil {
		return err
	}
	e.Record = rec
	return nil
}

// Owner returns the owning org of the entry's record, or "" for raw entries.
func (e ProvenanceEntry) Owner() string {
	if e.Record == nil {
		return ""
	}
	return e.Record.Owner()
}

// GetProvenance returns the history of key, oldest first.
//
// Versions that do not decode as records are kept as raw text rather than
// failing the call. Delete markers carry no record and are skipped. In
// org-scoped mode only versions owned by the caller are returned, so raw
// entries (which have no owner) are omitted. The result is never nil.
func (c *Contract) GetProvenance(ctx context.Context, l Ledger, key string) ([]ProvenanceEntry, error) {
	var org string
	if c.mode != ProvenanceUnrestricted {
		var err error
		if org, err = c.callerOrg(ctx); err != nil {
			return nil, err
		}
	}

	it, err := l.GetHistoryForKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("history for %s: %w", key, err)
	}
	defer it.Close() //nolint:errcheck

	entries := []ProvenanceEntry{}
	for it.Next() {
		v := it.Version()
		if v.IsDelete {
			continue
		}
		entry := ProvenanceEntry{TxID: v.TxID, Timestamp: v.Timestamp}
		if rec, err := DecodeRecord(v.Value); err == nil {
			entry.Record = rec
		} else {
			entry.Raw = string(v.Value)
		}
		if c.mode != ProvenanceUnrestricted && entry.Owner() != org {
			continue
		}
		entries = append(entries, entry)
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("history for %s: %w", key, err)
	}
	return entries, nil
}
