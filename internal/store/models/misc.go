package models

// Setting is a simple string key to JSON-value row. The only key the core
// requires is "auto_switch_enabled", but arbitrary keys are permitted.
type Setting struct {
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"type:text"`
	UpdatedAt int64  `gorm:"autoUpdateTime"`
}

// CacheEntry is one row of the semantic response cache.
type CacheEntry struct {
	ID           string `gorm:"primaryKey"`
	PromptHash   string `gorm:"uniqueIndex"`
	PromptText   string `gorm:"type:text"`
	Embedding    []byte // little-endian float32 vector, unit-normalised
	ResponseText string `gorm:"type:text"`
	Model        string `gorm:"index"`
	CreatedAt    int64  `gorm:"autoCreateTime"`
}
