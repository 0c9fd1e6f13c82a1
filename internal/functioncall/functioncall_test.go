package functioncall

import "testing"

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	fc := FunctionCall{
		TrainerName: "resnet.Trainer",
		TrainState:  TrainStateRef{Path: "exp/A/trainstate-7"},
		Kwargs:      map[string]string{"lr": "0.001"},
		TPUName:     "project-0",
	}

	blob, err := Serialize(fc)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if blob[0] != FormatGob {
		t.Fatalf("expected format header 0x%02x, got 0x%02x", FormatGob, blob[0])
	}

	got, err := Deserialize(blob)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if got.TrainerName != fc.TrainerName || got.TPUName != fc.TPUName {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, fc)
	}
	if got.Kwargs["lr"] != "0.001" {
		t.Fatalf("kwargs mismatch: %+v", got.Kwargs)
	}
}

func TestDeserializeRejectsUnknownFormat(t *testing.T) {
	_, err := Deserialize([]byte{0xFF, 1, 2, 3})
	if err == nil {
		t.Fatalf("expected error for unsupported format byte")
	}
}

func TestDeserializeRejectsEmptyBlob(t *testing.T) {
	if _, err := Deserialize(nil); err == nil {
		t.Fatalf("expected error for empty blob")
	}
}

func TestTrainStateRoundTrip(t *testing.T) {
	ts := TrainState{Step: 12, Epoch: 2, Misc: map[string]string{"loss": "0.5"}}
	blob, err := SerializeTrainState(ts)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	got, err := DeserializeTrainState(blob)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if got.Step != ts.Step || got.Epoch != ts.Epoch {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, ts)
	}
}
