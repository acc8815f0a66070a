package model

// Row is one record of a scan-capable table. Rows of different logical tables
// share the physical table and are told apart by TableName.
type Row struct {
	TableName   string `spanner:"table_name" json:"table_name"`
	Identity    string `spanner:"identity" json:"identity"`
	Name        string `spanner:"name" json:"name"`
	Datum       []byte `spanner:"datum" json:"datum"`
	CreatedTime int64  `spanner:"created_time" json:"created_time"`
}

// ScanReq selects rows of one table ordered by identity.
type ScanReq struct {
	TableName string
	// Names keeps only rows whose Name is in the list, when not empty.
	Names []string
	// After pages through the table: only identities greater than it are returned.
	After string
	// CreatedBefore keeps rows created strictly before the unix second, when positive.
	CreatedBefore int64
	Limit         int64
}
