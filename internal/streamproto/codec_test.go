package streamproto

import (
	"reflect"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	cases := []*Request{
		{RequestID: 1, Tag: TagExecute, Payload: ExecutePayload{SQL: "INSERT INTO t VALUES(?)", Params: []Value{IntValue(1)}}},
		{RequestID: 2, Tag: TagExecuteReturning, Payload: ExecuteReturningPayload{SQL: "INSERT INTO t VALUES(?) RETURNING id", Params: []Value{TextValue("x")}}},
		{RequestID: 3, Tag: TagTransaction, Payload: TransactionPayload{Statements: []Statement{{SQL: "DELETE FROM t", Params: nil}}}},
		{RequestID: 4, Tag: TagQueryConsistent, Payload: QueryConsistentPayload{SQL: "SELECT 1"}},
		{RequestID: 5, Tag: TagBatch, Payload: BatchPayload{Statements: []Statement{{SQL: "UPDATE t SET x=1"}}}},
		{RequestID: 6, Tag: TagMigrate, Payload: MigratePayload{Statements: []string{"CREATE TABLE t(x)"}}},
		{RequestID: 7, Tag: TagBackup, Payload: BackupPayload{Storage: "default"}},
		{RequestID: 8, Tag: TagKV, Payload: KVPayload{Op: KVOpPut, Key: "k", Value: []byte("v")}},
		{RequestID: 9, Tag: TagQuery, Payload: QueryPayload{SQL: "SELECT * FROM t"}},
		{RequestID: 10, Tag: TagKVGet, Payload: KVGetPayload{Key: "k"}},
		{RequestID: 11, Tag: TagLockAwait, Payload: LockAwaitPayload{Key: "lk", Mode: LockModeExclusive, TimeoutMillis: 1000}},
		{RequestID: 12, Tag: TagPing, Payload: PingPayload{}},
	}

	for _, req := range cases {
		data, err := EncodeRequest(req)
		if err != nil {
			t.Fatalf("EncodeRequest(%v): %v", req.Tag, err)
		}
		got, err := DecodeRequest(data)
		if err != nil {
			t.Fatalf("DecodeRequest(%v): %v", req.Tag, err)
		}
		if got.RequestID != req.RequestID || got.Tag != req.Tag {
			t.Fatalf("round trip mismatch for tag %v: got %+v, want %+v", req.Tag, got, req)
		}
		if !reflect.DeepEqual(got.Payload, req.Payload) {
			t.Fatalf("payload mismatch for tag %v: got %#v, want %#v", req.Tag, got.Payload, req.Payload)
		}

		data2, err := EncodeRequest(got)
		if err != nil {
			t.Fatalf("re-encoding decoded request: %v", err)
		}
		if !reflect.DeepEqual(data, data2) {
			t.Fatalf("encode(decode(bytes)) != bytes for tag %v", req.Tag)
		}
	}
}

func TestResponseRoundTrip(t *testing.T) {
	cases := []*Response{
		{RequestID: 1, Tag: TagExecute, Payload: ExecuteResult{AffectedRows: 1}},
		{RequestID: 2, Tag: TagExecuteReturning, Payload: RowsResult{Rows: []Row{{Columns: []string{"id"}, Values: []Value{IntValue(1)}}}}},
		{RequestID: 3, Tag: TagTransaction, Payload: TransactionResult{AffectedRows: 3}},
		{RequestID: 4, Tag: TagBatch, Payload: BatchResult{AffectedRows: []int64{1, 2}}},
		{RequestID: 5, Tag: TagMigrate, Payload: MigrateResult{Applied: 2}},
		{RequestID: 6, Tag: TagBackup, Payload: BackupResult{Path: "/tmp/x.tar.gz"}},
		{RequestID: 7, Tag: TagKV, Payload: KVResult{}},
		{RequestID: 8, Tag: TagKVGet, Payload: KVGetResult{Value: []byte("v"), Found: true}},
		{RequestID: 9, Tag: TagLock, Payload: LockResult{State: LockStateAcquired}},
		{RequestID: 10, Tag: TagPing, Payload: PingResult{}},
		{RequestID: 11, Tag: TagExecute, Err: "raft: not leader"},
	}

	for _, resp := range cases {
		data, err := EncodeResponse(resp)
		if err != nil {
			t.Fatalf("EncodeResponse(%v): %v", resp.Tag, err)
		}
		got, err := DecodeResponse(data)
		if err != nil {
			t.Fatalf("DecodeResponse(%v): %v", resp.Tag, err)
		}
		if got.RequestID != resp.RequestID || got.Tag != resp.Tag || got.Err != resp.Err {
			t.Fatalf("round trip mismatch for tag %v: got %+v, want %+v", resp.Tag, got, resp)
		}
		if !reflect.DeepEqual(got.Payload, resp.Payload) {
			t.Fatalf("payload mismatch for tag %v: got %#v, want %#v", resp.Tag, got.Payload, resp.Payload)
		}
		if got.Failed() != (resp.Err != "") {
			t.Fatalf("Failed() mismatch for tag %v", resp.Tag)
		}
	}
}

func TestTagString(t *testing.T) {
	if TagExecute.String() != "Execute" {
		t.Errorf("expected Execute, got %s", TagExecute.String())
	}
	if Tag(255).String() != "Unknown" {
		t.Errorf("expected Unknown for out-of-range tag")
	}
}

func TestValueConversions(t *testing.T) {
	if IntValue(42).Any().(int64) != 42 {
		t.Error("IntValue round trip through Any failed")
	}
	if ValueOf(nil).Kind != ValueNull {
		t.Error("ValueOf(nil) should be ValueNull")
	}
	if ValueOf(int64(7)).Any().(int64) != 7 {
		t.Error("ValueOf(int64) round trip failed")
	}
}

func TestDecodeRequest_Malformed(t *testing.T) {
	if _, err := DecodeRequest([]byte{0xff, 0x00, 0x01}); err == nil {
		t.Fatal("expected error decoding malformed request frame")
	}
}

func TestDecodeResponse_Malformed(t *testing.T) {
	if _, err := DecodeResponse([]byte{0xff, 0x00, 0x01}); err == nil {
		t.Fatal("expected error decoding malformed response frame")
	}
}
