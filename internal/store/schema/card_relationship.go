package schema

// CardRelationship represents the card_relationships table - a directed edge
// from a print to a related print. Edges are derived deterministically from
// the source print's raw payload at ingest time and recreated wholesale on
// rebuild, never partially mutated.
type CardRelationship struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// SourcePrintID is the print the edge originates from
	SourcePrintID string `gorm:"column:source_print_id;not null;type:text;index:idx_card_relationships_source"`
	// RelatedPrintID is the print the edge points to
	RelatedPrintID string `gorm:"column:related_print_id;not null;type:text"`
	// RelatedCardName is the related print's name as carried in the payload
	RelatedCardName string `gorm:"column:related_card_name;type:text"`
	// Kind classifies the edge (combo_piece, meld_part, meld_result, token)
	Kind string `gorm:"column:kind;not null;type:text;index:idx_card_relationships_kind"`
}

// TableName specifies the table name for the CardRelationship model
func (CardRelationship) TableName() string {
	return "card_relationships"
}
