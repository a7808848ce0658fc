package schema

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// StringList is a slice of strings stored as a JSON array column
type StringList []string

// Scan implements the sql.Scanner interface for reading from database
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	return json.Unmarshal(bytes, l)
}

// Value implements the driver.Valuer interface for writing to database
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Print represents the prints table - one immutable catalog record per
// physical printing of a card. Rows are created in batch during ingest and
// only replaced by the next full rebuild.
type Print struct {
	// ID is the globally unique print identifier assigned upstream (UUID)
	ID string `gorm:"column:id;primaryKey;type:text"`
	// Name is the card's printed name
	Name string `gorm:"column:name;not null;type:text"`
	// NameSlug is the normalized name used for exact/prefix lookups
	NameSlug string `gorm:"column:name_slug;not null;type:text;index:idx_prints_name_slug"`
	// OracleID groups all prints sharing the same abstract card across reprints and translations
	OracleID string `gorm:"column:oracle_id;type:text;index:idx_prints_oracle_lang,priority:1"`
	// SetCode is the three-to-five letter set identifier
	SetCode string `gorm:"column:set_code;not null;type:text;index:idx_prints_set_lang,priority:1;index:idx_prints_basic_lang_set,priority:3"`
	// CollectorNumber is the number within the set (string: may carry suffixes like "123a")
	CollectorNumber string `gorm:"column:collector_number;not null;type:text"`
	// TypeLine is the printed type line (may be empty for malformed records)
	TypeLine string `gorm:"column:type_line;type:text"`
	// OracleText is the rules text
	OracleText string `gorm:"column:oracle_text;type:text"`
	// Layout is the upstream layout tag (normal, transform, split, meld, token, ...)
	Layout string `gorm:"column:layout;not null;type:text"`
	// Lang is the print language code
	Lang string `gorm:"column:lang;not null;type:text;index:idx_prints_set_lang,priority:2;index:idx_prints_token_lang,priority:2;index:idx_prints_basic_lang_set,priority:2;index:idx_prints_oracle_lang,priority:2"`
	// ReleasedAt is the set release date, used for deterministic ordering
	ReleasedAt time.Time `gorm:"column:released_at;not null"`
	// Rarity is the print rarity (common, uncommon, rare, mythic, special)
	Rarity string `gorm:"column:rarity;type:text"`
	// Colors are the print's colors as single-letter codes
	Colors StringList `gorm:"column:colors;type:text"`
	// ColorIdentity is the print's color identity as single-letter codes
	ColorIdentity StringList `gorm:"column:color_identity;type:text"`
	// Keywords are the keyword abilities appearing on the print
	Keywords StringList `gorm:"column:keywords;type:text"`
	// Frame is the card frame year tag (1993, 1997, 2003, 2015, future)
	Frame string `gorm:"column:frame;type:text"`
	// FrameEffects are frame modifiers (showcase, extendedart, ...)
	FrameEffects StringList `gorm:"column:frame_effects;type:text"`
	// BorderColor is the border color (black, white, borderless, ...)
	BorderColor string `gorm:"column:border_color;type:text"`
	// PromoTypes are promotional print tags
	PromoTypes StringList `gorm:"column:promo_types;type:text"`
	// Power is the creature power (string: may be "*" or "1+*")
	Power *string `gorm:"column:power;type:text"`
	// Toughness is the creature toughness
	Toughness *string `gorm:"column:toughness;type:text"`
	// ImageURL is the best-effort image reference chosen at ingest
	ImageURL string `gorm:"column:image_url;type:text"`
	// ImageVariants keeps the raw resolution-variant map the reference was chosen from
	ImageVariants datatypes.JSON `gorm:"column:image_variants"`
	// IsToken marks token and emblem prints, derived from layout/type line
	IsToken bool `gorm:"column:is_token;not null;default:false;index:idx_prints_token_lang,priority:1"`
	// IsBasicLand marks basic lands, derived from the type line
	IsBasicLand bool `gorm:"column:is_basic_land;not null;default:false;index:idx_prints_basic_lang_set,priority:1"`
	// FullArt marks full-art treatments
	FullArt bool `gorm:"column:full_art;not null;default:false"`
	// Textless marks textless treatments
	Textless bool `gorm:"column:textless;not null;default:false"`
	// CreatedAt is the timestamp when this record was indexed
	CreatedAt time.Time `gorm:"column:created_at;not null"`

	// Associations
	Relationships []CardRelationship `gorm:"foreignKey:SourcePrintID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Print model
func (Print) TableName() string {
	return "prints"
}
