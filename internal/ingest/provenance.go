package ingest

// Provenance tags every persisted batch with the producing tool and the
// originating data source, for audit queries against the destination tables.
type Provenance struct {
	ToolSource  string
	ToolVersion string
	DataSource  string
}

// Stamp writes the provenance columns into a destination row.
func (p Provenance) Stamp(row map[string]any) {
	row["tool_source"] = p.ToolSource
	row["tool_version"] = p.ToolVersion
	row["data_source"] = p.DataSource
}
