package store

// DocumentRecord is the gorm row backing one document.
type DocumentRecord struct {
	Collection         string `gorm:"column:collection;primaryKey;size:190;not null;index:idx_documents_collection_seq,priority:1"`
	DocID              string `gorm:"column:doc_id;primaryKey;size:190;not null"`
	DataJSON           string `gorm:"column:data_json;type:text;not null"`
	CommitSeq          int64  `gorm:"column:commit_seq;not null;index:idx_documents_collection_seq,priority:2"`
	CommittedAtSeconds int64  `gorm:"column:committed_at_s;not null"`
	UpdatedAtSeconds   int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (DocumentRecord) TableName() string {
	return "documents"
}
