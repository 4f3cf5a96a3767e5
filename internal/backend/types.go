package backend

import "time"

// ID names one of the enumerated stores requests can route to.
type ID string

const (
	StoreA    ID = "store_a" // primary MongoDB database
	StoreB    ID = "store_b" // secondary MongoDB database
	StoreC    ID = "store_c" // Postgres
	Ambiguous ID = "ambiguous"
)

// StoreKind is the underlying technology family of a backend.
type StoreKind string

const (
	KindDocument   StoreKind = "document"
	KindRelational StoreKind = "relational"
)

func KnownIDs() []ID {
	return []ID{StoreA, StoreB, StoreC}
}

func IsKnown(id ID) bool {
	for _, known := range KnownIDs() {
		if id == known {
			return true
		}
	}
	return false
}

// MutationKind narrows Mutate calls for adapters and for audit.
type MutationKind string

const (
	MutationInsert MutationKind = "insert"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
	MutationSchema MutationKind = "schema"
)

type Record map[string]interface{}

// Result is the uniform payload every adapter call returns on success.
type Result struct {
	Backend   ID            `json:"backend"`
	Operation string        `json:"operation"`
	Records   []Record      `json:"records"`
	Count     int           `json:"count"`
	Elapsed   time.Duration `json:"-"`
}
