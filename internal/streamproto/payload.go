// Package streamproto implements the client-to-leader stream wire protocol:
// the Request/Response codec shared by the server stream session and the
// client stream manager.
package streamproto

// Tag identifies the shape of a request payload and, in a response, which
// request tag it resolves. The invariant enforced by callers is that a
// Response's Tag always equals the Tag of the Request it answers, except
// for a lock resolution which carries TagLock instead of TagLockAwait.
type Tag uint8

const (
	TagExecute Tag = iota + 1
	TagExecuteReturning
	TagTransaction
	TagQueryConsistent
	TagBatch
	TagMigrate
	TagBackup
	TagKV
	TagQuery
	TagKVGet
	TagLockAwait
	TagPing
	TagLock // response-only: a lock resolution, distinguished from KV
)

func (t Tag) String() string {
	switch t {
	case TagExecute:
		return "Execute"
	case TagExecuteReturning:
		return "ExecuteReturning"
	case TagTransaction:
		return "Transaction"
	case TagQueryConsistent:
		return "QueryConsistent"
	case TagBatch:
		return "Batch"
	case TagMigrate:
		return "Migrate"
	case TagBackup:
		return "Backup"
	case TagKV:
		return "KV"
	case TagQuery:
		return "Query"
	case TagKVGet:
		return "KVGet"
	case TagLockAwait:
		return "LockAwait"
	case TagPing:
		return "Ping"
	case TagLock:
		return "Lock"
	default:
		return "Unknown"
	}
}

// ValueKind discriminates the concrete type carried by a Value so that SQL
// parameters and returned row cells can travel over gob without relying on
// bare interface{} registration tricks.
type ValueKind uint8

const (
	ValueNull ValueKind = iota
	ValueInt
	ValueFloat
	ValueText
	ValueBlob
	ValueBool
)

// Value is a single SQL parameter or returned column cell.
type Value struct {
	Kind  ValueKind
	Int   int64
	Float float64
	Text  string
	Blob  []byte
	Bool  bool
}

func NullValue() Value           { return Value{Kind: ValueNull} }
func IntValue(v int64) Value     { return Value{Kind: ValueInt, Int: v} }
func FloatValue(v float64) Value { return Value{Kind: ValueFloat, Float: v} }
func TextValue(v string) Value   { return Value{Kind: ValueText, Text: v} }
func BlobValue(v []byte) Value   { return Value{Kind: ValueBlob, Blob: v} }
func BoolValue(v bool) Value     { return Value{Kind: ValueBool, Bool: v} }

// Any returns the Go-native value this Value carries (nil, int64, float64,
// string, []byte or bool), suitable for passing to database/sql.
func (v Value) Any() any {
	switch v.Kind {
	case ValueInt:
		return v.Int
	case ValueFloat:
		return v.Float
	case ValueText:
		return v.Text
	case ValueBlob:
		return v.Blob
	case ValueBool:
		return v.Bool
	default:
		return nil
	}
}

// ValueOf converts a Go-native value returned by database/sql into a Value.
func ValueOf(v any) Value {
	switch t := v.(type) {
	case nil:
		return NullValue()
	case int64:
		return IntValue(t)
	case float64:
		return FloatValue(t)
	case string:
		return TextValue(t)
	case []byte:
		return BlobValue(t)
	case bool:
		return BoolValue(t)
	default:
		return TextValue("")
	}
}

// Row is one result row: parallel Columns and Values slices.
type Row struct {
	Columns []string
	Values  []Value
}

// Statement is one SQL statement with bound parameters, used by Transaction
// and Batch payloads.
type Statement struct {
	SQL    string
	Params []Value
}

// KVOp discriminates the mutation carried by a KV request.
type KVOp uint8

const (
	KVOpPut KVOp = iota
	KVOpDelete
)

// LockMode discriminates the kind of lock being awaited.
type LockMode uint8

const (
	LockModeExclusive LockMode = iota
	LockModeShared
)

// LockState is the resolution of a LockAwait request.
type LockState uint8

const (
	LockStateAcquired LockState = iota
	LockStateTimedOut
	LockStateReleased
)

// RequestPayload is implemented by every concrete request payload type.
// It is a sealed marker: only types in this package may implement it.
type RequestPayload interface {
	isRequestPayload()
}

// ResponsePayload is implemented by every concrete response payload type.
type ResponsePayload interface {
	isResponsePayload()
}

type ExecutePayload struct {
	SQL    string
	Params []Value
}

func (ExecutePayload) isRequestPayload() {}

type ExecuteReturningPayload struct {
	SQL    string
	Params []Value
}

func (ExecuteReturningPayload) isRequestPayload() {}

type TransactionPayload struct {
	Statements []Statement
}

func (TransactionPayload) isRequestPayload() {}

type QueryConsistentPayload struct {
	SQL    string
	Params []Value
}

func (QueryConsistentPayload) isRequestPayload() {}

type BatchPayload struct {
	Statements []Statement
}

func (BatchPayload) isRequestPayload() {}

type MigratePayload struct {
	Statements []string
}

func (MigratePayload) isRequestPayload() {}

type BackupPayload struct {
	Storage string
}

func (BackupPayload) isRequestPayload() {}

type KVPayload struct {
	Op    KVOp
	Key   string
	Value []byte
}

func (KVPayload) isRequestPayload() {}

type QueryPayload struct {
	SQL    string
	Params []Value
}

func (QueryPayload) isRequestPayload() {}

type KVGetPayload struct {
	Key string
}

func (KVGetPayload) isRequestPayload() {}

type LockAwaitPayload struct {
	Key           string
	Mode          LockMode
	TimeoutMillis int64
}

func (LockAwaitPayload) isRequestPayload() {}

type PingPayload struct{}

func (PingPayload) isRequestPayload() {}

// --- Response payloads ---

type ExecuteResult struct {
	AffectedRows int64
}

func (ExecuteResult) isResponsePayload() {}

type RowsResult struct {
	Rows []Row
}

func (RowsResult) isResponsePayload() {}

type TransactionResult struct {
	AffectedRows int64
}

func (TransactionResult) isResponsePayload() {}

type BatchResult struct {
	AffectedRows []int64
}

func (BatchResult) isResponsePayload() {}

type MigrateResult struct {
	Applied int
}

func (MigrateResult) isResponsePayload() {}

type BackupResult struct {
	Path string
}

func (BackupResult) isResponsePayload() {}

type KVResult struct{}

func (KVResult) isResponsePayload() {}

type KVGetResult struct {
	Value []byte
	Found bool
}

func (KVGetResult) isResponsePayload() {}

type LockResult struct {
	State LockState
}

func (LockResult) isResponsePayload() {}

type PingResult struct{}

func (PingResult) isResponsePayload() {}
