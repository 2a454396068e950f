package record

// SchemaVersion identifies the record schema format. Bump only on
// breaking changes to canonical serialization or hashing, since
// content-addressed IDs depend on both.
const SchemaVersion = "1"

// EngineVersion identifies the detection engine release. Stamped into
// every EmittedEvent so stored streams can be traced back to the code
// that validated them.
const EngineVersion = "0.1.0"
