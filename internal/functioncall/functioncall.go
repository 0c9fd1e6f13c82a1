// Package functioncall implements the serialized work unit shipped from a
// submitter to a node: trainer handle, trainstate reference, and kwargs in,
// an Outcome out. The original implementation pickled a tuple of Python
// objects; this module uses encoding/gob with a one-byte format tag so a
// future codec change can be introduced without breaking readers of
// already-written blobs.
package functioncall

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// FormatGob is the only format this build writes. The byte lives at offset
// zero of every serialized FunctionCall/TrainState so a reader can reject
// (rather than misinterpret) a blob written by a codec it doesn't speak.
const FormatGob byte = 0x01

// Outcome tags the result of invoking a trainer, mirroring the original's
// NotAvailable / JobFailure / JobTimeout / ExceptionInJob union.
type Outcome int

const (
	OutcomeNotAvailable Outcome = iota
	OutcomeValue
	OutcomeJobFailure
	OutcomeJobTimeout
	OutcomeException
)

// Result is the terminal payload of a FunctionCall once it has run.
type Result struct {
	Outcome   Outcome
	Value     []byte // gob-encoded return value, valid iff Outcome == OutcomeValue
	Traceback string // valid iff Outcome == OutcomeException
}

func (r Result) Failed() bool {
	return r.Outcome == OutcomeJobFailure || r.Outcome == OutcomeJobTimeout || r.Outcome == OutcomeException
}

// FunctionCall is the serialized unit of work: a trainer handle (resolved
// through the internal/trainer registry), a trainstate reference, and the
// kwargs to invoke the trainer with.
type FunctionCall struct {
	TrainerName string
	TrainState  TrainStateRef
	Kwargs      map[string]string
	TPUName     string
	Outputs     Result
}

// TrainStateRef is either an embedded value or a pointer to a checkpoint
// object in the object store, per spec.md's "value or object-store path".
type TrainStateRef struct {
	Path     string // object-store key; empty if Embedded is set
	Embedded []byte // gob-encoded TrainState; empty if Path is set
	HasValue bool
}

// TrainState is the periodic checkpoint payload a trainer publishes.
type TrainState struct {
	Step  int64
	Epoch int64
	Model []byte // opaque, trainer-defined encoding nested inside the gob envelope
	Misc  map[string]string
}

// Serialize encodes fc with the one-byte format header.
func Serialize(fc FunctionCall) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(FormatGob)
	if err := gob.NewEncoder(&buf).Encode(fc); err != nil {
		return nil, fmt.Errorf("functioncall: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Deserialize decodes a blob written by Serialize.
func Deserialize(blob []byte) (FunctionCall, error) {
	var fc FunctionCall
	if len(blob) == 0 {
		return fc, fmt.Errorf("functioncall: empty blob")
	}
	if blob[0] != FormatGob {
		return fc, fmt.Errorf("functioncall: unsupported format byte 0x%02x", blob[0])
	}
	if err := gob.NewDecoder(bytes.NewReader(blob[1:])).Decode(&fc); err != nil {
		return fc, fmt.Errorf("functioncall: decode: %w", err)
	}
	return fc, nil
}

// SerializeTrainState encodes a checkpoint with the same one-byte header.
func SerializeTrainState(ts TrainState) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(FormatGob)
	if err := gob.NewEncoder(&buf).Encode(ts); err != nil {
		return nil, fmt.Errorf("functioncall: encode trainstate: %w", err)
	}
	return buf.Bytes(), nil
}

// DeserializeTrainState decodes a checkpoint written by SerializeTrainState.
func DeserializeTrainState(blob []byte) (TrainState, error) {
	var ts TrainState
	if len(blob) == 0 {
		return ts, fmt.Errorf("functioncall: empty blob")
	}
	if blob[0] != FormatGob {
		return ts, fmt.Errorf("functioncall: unsupported format byte 0x%02x", blob[0])
	}
	if err := gob.NewDecoder(bytes.NewReader(blob[1:])).Decode(&ts); err != nil {
		return ts, fmt.Errorf("functioncall: decode trainstate: %w", err)
	}
	return ts, nil
}
